package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	"github.com/lexcoverzy/policy-upload/core/infra/secrets"
)

const (
	envConfigFile = "POLICY_CONFIG_FILE"
	envEnvFile    = "POLICY_ENV_FILE"

	envPort           = "PORT"
	envHTTPAddr       = "HTTP_ADDR"
	envMetricsAddr    = "METRICS_ADDR"
	envTLSCert        = "TLS_CERT_FILE"
	envTLSKey         = "TLS_KEY_FILE"
	envUploadDir      = "UPLOAD_DIR"
	envPublicBaseURL  = "PUBLIC_BASE_URL"
	envUploadAPIKey   = "X_API_KEY"
	envAdminAPIKey    = "ADMIN_API_KEY"
	envAllowedOrigins = "ALLOWED_ORIGINS"
	envRateLimitRPS   = "API_RATE_LIMIT_RPS"
	envRateLimitBurst = "API_RATE_LIMIT_BURST"

	envMailHost       = "MAIL_HOST"
	envMailPort       = "MAIL_PORT"
	envMailUsername   = "MAIL_USERNAME"
	envMailPassword   = "MAIL_PASSWORD"
	envMailEncryption = "MAIL_ENCRYPTION"
	envMailFrom       = "MAIL_FROM_ADDRESS"
	envMailFromName   = "MAIL_FROM_NAME"

	envDirectoryURL   = "EMAIL_LEX_API"
	envDirectoryToken = "BEARER_TOKEN"
	envFallbackEmail  = "FALLBACK_EMAIL"
	envRecipientTTL   = "RECIPIENT_CACHE_TTL"

	envExternalURL   = "PDF_UPLOAD_LEX_API"
	envExternalToken = "PDF_UPLOAD_LEX_API_KEY"

	envJWTSecret     = "JWT_SECRET"
	envJWTExpiry     = "JWT_EXPIRY"
	envAdminUsername = "ADMIN_USERNAME"
	envAdminPassword = "ADMIN_PASSWORD"

	envRedisURL     = "REDIS_URL"
	envNatsURL      = "NATS_URL"
	envEventSubject = "UPLOAD_EVENT_SUBJECT"
)

// ErrInvalid marks configuration that cannot start the service.
var ErrInvalid = errors.New("invalid configuration")

// Duration decodes from YAML strings such as "10s" or "5m".
type Duration = time.Duration

// Config holds runtime configuration for the upload gateway. It is assembled once
// at startup and handed to each component constructor.
type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	TLSCertFile    string   `yaml:"tls_cert_file"`
	TLSKeyFile     string   `yaml:"tls_key_file"`
	UploadDir      string   `yaml:"upload_dir"`
	PublicBaseURL  string   `yaml:"public_base_url"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	UploadAPIKey   string   `yaml:"upload_api_key"`
	AdminAPIKey    string   `yaml:"admin_api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimitRPS   int      `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`

	Mail        MailConfig        `yaml:"mail"`
	Directory   DirectoryConfig   `yaml:"directory"`
	ExternalAPI ExternalAPIConfig `yaml:"external_api"`
	Session     SessionConfig     `yaml:"session"`

	RedisURL     string `yaml:"redis_url"`
	NatsURL      string `yaml:"nats_url"`
	EventSubject string `yaml:"event_subject"`
}

// MailConfig configures the SMTP transport for upload notifications.
type MailConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Encryption  string   `yaml:"encryption"`
	FromAddress string   `yaml:"from_address"`
	FromName    string   `yaml:"from_name"`
	Timeout     Duration `yaml:"timeout"`
}

// Configured reports whether enough SMTP settings exist to attempt delivery.
func (m MailConfig) Configured() bool {
	return strings.TrimSpace(m.Host) != "" && strings.TrimSpace(m.Username) != "" && m.Password != ""
}

// DirectoryConfig points at the external source of notification recipients.
type DirectoryConfig struct {
	URL         string   `yaml:"url"`
	BearerToken string   `yaml:"bearer_token"`
	Timeout     Duration `yaml:"timeout"`
	CacheTTL    Duration `yaml:"cache_ttl"`
	Fallback    []string `yaml:"fallback"`
}

// Configured reports whether a remote lookup can be attempted.
func (d DirectoryConfig) Configured() bool {
	return strings.TrimSpace(d.URL) != "" && strings.TrimSpace(d.BearerToken) != ""
}

// ExternalAPIConfig configures the downstream system told where uploads live.
type ExternalAPIConfig struct {
	URL     string   `yaml:"url"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"`
}

// Configured reports whether the external endpoint is set.
func (e ExternalAPIConfig) Configured() bool {
	return strings.TrimSpace(e.URL) != ""
}

// SessionConfig configures the interactive admin login.
type SessionConfig struct {
	Secret        string   `yaml:"secret"`
	Expiry        Duration `yaml:"expiry"`
	AdminUsername string   `yaml:"admin_username"`
	AdminPassword string   `yaml:"admin_password"`
}

// Configured reports whether logins can be issued.
func (s SessionConfig) Configured() bool {
	return s.Secret != "" && strings.TrimSpace(s.AdminUsername) != "" && s.AdminPassword != ""
}

// Load builds configuration from an optional .env file, an optional YAML file and
// the process environment, in increasing order of precedence.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() {
	path := strings.TrimSpace(os.Getenv(envEnvFile))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	// godotenv.Load never overrides variables already present in the environment.
	if err := godotenv.Load(path); err != nil {
		logging.Error("config", "load env file failed", "path", path, "error", err)
	}
}

func (c *Config) applyEnv() error {
	var errs []error

	if port := strings.TrimSpace(os.Getenv(envPort)); port != "" {
		c.HTTPAddr = ":" + port
	}
	setString(&c.HTTPAddr, envHTTPAddr)
	setString(&c.MetricsAddr, envMetricsAddr)
	setString(&c.TLSCertFile, envTLSCert)
	setString(&c.TLSKeyFile, envTLSKey)
	setString(&c.UploadDir, envUploadDir)
	setString(&c.PublicBaseURL, envPublicBaseURL)
	setString(&c.UploadAPIKey, envUploadAPIKey)
	setString(&c.AdminAPIKey, envAdminAPIKey)
	if raw := strings.TrimSpace(os.Getenv(envAllowedOrigins)); raw != "" {
		c.AllowedOrigins = SplitList(raw)
	}
	errs = append(errs, setInt(&c.RateLimitRPS, envRateLimitRPS), setInt(&c.RateLimitBurst, envRateLimitBurst))

	setString(&c.Mail.Host, envMailHost)
	errs = append(errs, setInt(&c.Mail.Port, envMailPort))
	setString(&c.Mail.Username, envMailUsername)
	setString(&c.Mail.Password, envMailPassword)
	setString(&c.Mail.Encryption, envMailEncryption)
	setString(&c.Mail.FromAddress, envMailFrom)
	setString(&c.Mail.FromName, envMailFromName)

	setString(&c.Directory.URL, envDirectoryURL)
	setString(&c.Directory.BearerToken, envDirectoryToken)
	if raw := strings.TrimSpace(os.Getenv(envFallbackEmail)); raw != "" {
		c.Directory.Fallback = SplitList(raw)
	}
	errs = append(errs, setDuration(&c.Directory.CacheTTL, envRecipientTTL))

	setString(&c.ExternalAPI.URL, envExternalURL)
	setString(&c.ExternalAPI.Token, envExternalToken)

	setString(&c.Session.Secret, envJWTSecret)
	errs = append(errs, setDuration(&c.Session.Expiry, envJWTExpiry))
	setString(&c.Session.AdminUsername, envAdminUsername)
	setString(&c.Session.AdminPassword, envAdminPassword)

	setString(&c.RedisURL, envRedisURL)
	setString(&c.NatsURL, envNatsURL)
	setString(&c.EventSubject, envEventSubject)

	return errors.Join(errs...)
}

func (c *Config) normalize() {
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = localBaseURL(c.HTTPAddr, c.TLSCertFile != "")
	}
	c.UploadAPIKey = normalizeSecret(c.UploadAPIKey)
	c.AdminAPIKey = normalizeSecret(c.AdminAPIKey)
	c.Mail.Encryption = strings.ToLower(strings.TrimSpace(c.Mail.Encryption))
	c.Mail.FromName = strings.TrimSpace(c.Mail.FromName)
	if c.Mail.FromName == "" {
		c.Mail.FromName = defaultMailFromName
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = defaultMailPort
	}
	if len(c.Directory.Fallback) == 0 {
		c.Directory.Fallback = []string{DefaultFallbackRecipient}
	}
	if c.EventSubject == "" {
		c.EventSubject = defaultEventSubject
	}
}

func localBaseURL(addr string, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return scheme + "://" + host
}

// SplitList splits a comma separated value, trimming entries and dropping empties.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeSecret strips whitespace and a pair of surrounding quotes, a common
// .env mistake.
func normalizeSecret(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "\"'")
	return strings.TrimSpace(value)
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		*dst = strings.TrimSpace(val)
	}
}

func setInt(dst *int, key string) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, raw)
	}
	*dst = v
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	*dst = d
	return nil
}

// ParseDuration accepts Go durations ("90m"), day counts ("7d") and bare seconds
// ("3600"), the forms operators used for token lifetimes.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("duration must be positive: %q", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(raw, "d"), 64)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", raw)
	}
	return d, nil
}

// Summary returns log-safe key/value pairs describing which integrations are on.
func (c *Config) Summary() []any {
	return []any{
		"addr", c.HTTPAddr,
		"upload_dir", c.UploadDir,
		"public_base_url", c.PublicBaseURL,
		"admin_key", secrets.Configured(c.AdminAPIKey),
		"mail", c.Mail.Configured(),
		"directory", c.Directory.Configured(),
		"external_api", c.ExternalAPI.Configured(),
		"session", c.Session.Configured(),
		"redis", secrets.RedactURL(c.RedisURL),
		"nats", secrets.RedactURL(c.NatsURL),
	}
}
