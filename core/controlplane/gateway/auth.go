package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/lexcoverzy/policy-upload/core/infra/logging"
)

const apiKeyHeader = "X-API-Key"

var (
	errUploadKey  = unauthorized("Unauthorized. Invalid or missing upload API key.", "")
	errAdminKey   = unauthorized("Unauthorized. Invalid or missing admin API key.", "")
	errAdminUnset = internalError("Server configuration error. Admin API key not configured.", "")
)

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	// Common .env mistake: quoting values (e.g. "super-secret-key").
	key = strings.Trim(key, "\"'")
	return strings.TrimSpace(key)
}

func apiKeyFromRequest(r *http.Request) string {
	return normalizeAPIKey(r.Header.Get(apiKeyHeader))
}

// keysEqual compares in constant time; an empty expected key never matches.
func keysEqual(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireUploadKey gates the upload route on the upload secret.
func (s *server) requireUploadKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !keysEqual(apiKeyFromRequest(r), s.cfg.UploadAPIKey) {
			logging.Warn("gateway", "upload key rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, errUploadKey)
			return
		}
		next(w, r)
	}
}

// requireAdminKey gates management routes on the admin secret. A missing admin
// secret is a server fault, not a client one.
func (s *server) requireAdminKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminAPIKey == "" {
			logging.Error("gateway", "admin api key not configured", "path", r.URL.Path)
			writeError(w, errAdminUnset)
			return
		}
		if !keysEqual(apiKeyFromRequest(r), s.cfg.AdminAPIKey) {
			logging.Warn("gateway", "admin key rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, errAdminKey)
			return
		}
		next(w, r)
	}
}
