package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lexcoverzy/policy-upload/core/infra/config"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	"golang.org/x/crypto/bcrypt"
)

const (
	roleAdmin       = "admin"
	maxLoginBody    = 64 << 10
	bcryptPrefix    = "$2"
	bearerPrefix    = "bearer "
	sessionIssuerID = "policy-upload-gateway"
)

var (
	errSessionUnconfigured = errors.New("admin credentials not configured")
	errNoToken             = errors.New("no token provided")
)

type sessionClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type sessionKey struct{}

// sessionIssuer signs and verifies HS256 admin session tokens.
type sessionIssuer struct {
	cfg config.SessionConfig
	now func() time.Time
}

func newSessionIssuer(cfg config.SessionConfig, now func() time.Time) *sessionIssuer {
	if now == nil {
		now = time.Now
	}
	return &sessionIssuer{cfg: cfg, now: now}
}

// checkCredentials accepts the configured password either verbatim or as a
// bcrypt hash.
func (si *sessionIssuer) checkCredentials(username, password string) (bool, error) {
	if !si.cfg.Configured() {
		return false, errSessionUnconfigured
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(si.cfg.AdminUsername)) != 1 {
		return false, nil
	}
	stored := si.cfg.AdminPassword
	if subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1 {
		return true, nil
	}
	if !strings.HasPrefix(stored, bcryptPrefix) {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		logging.Error("gateway", "bcrypt compare failed", "error", err)
		return false, nil
	}
}

func (si *sessionIssuer) issue(username string) (string, time.Time, error) {
	if si.cfg.Secret == "" {
		return "", time.Time{}, errSessionUnconfigured
	}
	now := si.now()
	expires := now.Add(si.cfg.Expiry)
	claims := sessionClaims{
		Username: username,
		Role:     roleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuerID,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(si.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, expires, nil
}

func (si *sessionIssuer) verify(raw string) (*sessionClaims, error) {
	if si.cfg.Secret == "" {
		return nil, errSessionUnconfigured
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(si.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(si.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		if tok := strings.TrimSpace(h[len(bearerPrefix):]); tok != "" {
			return tok, nil
		}
	}
	return "", errNoToken
}

func tokenError(err error) *apiError {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return unauthorized("Token has expired", "Please login again to get a new token")
	}
	return unauthorized("Invalid token", "Please provide a valid JWT token")
}

// formatExpiry renders the session lifetime the way it is usually configured.
func formatExpiry(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0 && d >= 48*time.Hour:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	var req loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(w, r)
	if err != nil || req.Username == "" || req.Password == "" {
		writeError(w, badRequest("Username and password are required", "Provide both username and password in request body"))
		return
	}
	ok, err := s.sessions.checkCredentials(req.Username, req.Password)
	if err != nil {
		logging.Error("gateway", "login unavailable", "error", err)
		writeError(w, internalError("Internal server error during login", "Admin credentials not configured"))
		return
	}
	if !ok {
		logging.Warn("gateway", "login rejected", "username", req.Username, "remote", r.RemoteAddr)
		s.counters.IncAdminActions("login", "rejected")
		writeError(w, unauthorized("Invalid credentials", "Check your username and password"))
		return
	}
	token, _, err := s.sessions.issue(req.Username)
	if err != nil {
		logging.Error("gateway", "issue session failed", "error", err)
		writeError(w, internalError("Internal server error during login", "could not issue token"))
		return
	}
	s.counters.IncAdminActions("login", "ok")
	writeSuccess(w, "Login successful", map[string]any{
		"token": token,
		"user": map[string]string{
			"username": req.Username,
			"role":     roleAdmin,
		},
		"expiresIn": formatExpiry(s.cfg.Session.Expiry),
	})
}

func (s *server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	raw, err := bearerToken(r)
	if err != nil {
		writeError(w, unauthorized("No token provided", "Include Authorization header with Bearer token"))
		return
	}
	claims, err := s.sessions.verify(raw)
	if err != nil {
		writeError(w, tokenError(err))
		return
	}
	var expiresAt string
	if claims.ExpiresAt != nil {
		expiresAt = timestamp(claims.ExpiresAt.Time)
	}
	writeSuccess(w, "Token is valid", map[string]any{
		"user": map[string]string{
			"username": claims.Username,
			"role":     claims.Role,
		},
		"tokenValid": true,
		"expiresAt":  expiresAt,
	})
}

// requireSession admits requests carrying a valid admin session token.
func (s *server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, unauthorized("Access denied. No token provided.", "Include Authorization header with Bearer token"))
			return
		}
		claims, err := s.sessions.verify(raw)
		if err != nil {
			writeError(w, tokenError(err))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, claims)))
	}
}

func sessionFromContext(ctx context.Context) *sessionClaims {
	claims, _ := ctx.Value(sessionKey{}).(*sessionClaims)
	return claims
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := sessionFromContext(r.Context())
	if claims == nil {
		writeError(w, internalError("Failed to get user information", "missing session"))
		return
	}
	writeSuccess(w, "User information retrieved successfully", map[string]any{
		"user": map[string]string{
			"username": claims.Username,
			"role":     claims.Role,
		},
	})
}

func (s *server) handleAuthHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Authentication service is running",
		"timestamp": timestamp(s.now()),
	})
}
