package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envEnvFile, filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{
		envConfigFile, envPort, envHTTPAddr, envUploadDir, envPublicBaseURL,
		envUploadAPIKey, envAdminAPIKey, envAllowedOrigins, envRateLimitRPS, envRateLimitBurst,
		envMailHost, envMailPort, envMailUsername, envMailPassword, envMailEncryption,
		envMailFrom, envMailFromName, envDirectoryURL, envDirectoryToken, envFallbackEmail,
		envRecipientTTL, envExternalURL, envExternalToken, envJWTSecret, envJWTExpiry,
		envAdminUsername, envAdminPassword, envRedisURL, envNatsURL, envEventSubject,
		envTLSCert, envTLSKey, envMetricsAddr,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresUploadKey(t *testing.T) {
	isolateEnv(t)
	_, err := Load()
	if err == nil || !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
	if !strings.Contains(err.Error(), envUploadAPIKey) {
		t.Fatalf("expected error to name %s, got %v", envUploadAPIKey, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv(envUploadAPIKey, `"upload-key"`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UploadAPIKey != "upload-key" {
		t.Fatalf("expected quotes stripped, got %q", cfg.UploadAPIKey)
	}
	if cfg.HTTPAddr != defaultHTTPAddr || cfg.UploadDir != defaultUploadDir {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected max upload bytes %d", cfg.MaxUploadBytes)
	}
	if len(cfg.Directory.Fallback) != 1 || cfg.Directory.Fallback[0] != DefaultFallbackRecipient {
		t.Fatalf("unexpected fallback %v", cfg.Directory.Fallback)
	}
	if cfg.Session.Expiry != 24*time.Hour {
		t.Fatalf("unexpected session expiry %s", cfg.Session.Expiry)
	}
	if cfg.PublicBaseURL != "http://localhost:3000" {
		t.Fatalf("expected base url derived from listen addr, got %s", cfg.PublicBaseURL)
	}
	if cfg.Mail.Configured() || cfg.Directory.Configured() || cfg.ExternalAPI.Configured() || cfg.Session.Configured() {
		t.Fatalf("expected optional integrations to be unconfigured")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv(envUploadAPIKey, "upload-key")
	t.Setenv(envAdminAPIKey, " admin-key ")
	t.Setenv(envPort, "8080")
	t.Setenv(envPublicBaseURL, "https://files.example.com/")
	t.Setenv(envMailHost, "smtp.example.com")
	t.Setenv(envMailPort, "465")
	t.Setenv(envMailUsername, "mailer")
	t.Setenv(envMailPassword, "secret")
	t.Setenv(envMailEncryption, "SSL")
	t.Setenv(envFallbackEmail, "a@example.com, b@example.com")
	t.Setenv(envJWTExpiry, "7d")
	t.Setenv(envRecipientTTL, "120")
	t.Setenv(envAllowedOrigins, "https://admin.example.com,https://app.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected port override, got %s", cfg.HTTPAddr)
	}
	if cfg.AdminAPIKey != "admin-key" {
		t.Fatalf("unexpected admin key %q", cfg.AdminAPIKey)
	}
	if cfg.PublicBaseURL != "https://files.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.PublicBaseURL)
	}
	if !cfg.Mail.Configured() || cfg.Mail.Port != 465 || cfg.Mail.Encryption != "ssl" {
		t.Fatalf("unexpected mail config %+v", cfg.Mail)
	}
	if len(cfg.Directory.Fallback) != 2 || cfg.Directory.Fallback[1] != "b@example.com" {
		t.Fatalf("unexpected fallback %v", cfg.Directory.Fallback)
	}
	if cfg.Session.Expiry != 7*24*time.Hour {
		t.Fatalf("unexpected expiry %s", cfg.Session.Expiry)
	}
	if cfg.Directory.CacheTTL != 2*time.Minute {
		t.Fatalf("unexpected cache ttl %s", cfg.Directory.CacheTTL)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	isolateEnv(t)
	t.Setenv(envUploadAPIKey, "upload-key")
	t.Setenv(envMailPort, "smtp")
	t.Setenv(envJWTExpiry, "forever")

	_, err := Load()
	if err == nil || !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if !strings.Contains(err.Error(), envMailPort) || !strings.Contains(err.Error(), envJWTExpiry) {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("X_API_KEY=from-file\nADMIN_API_KEY=admin-from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv(envEnvFile, path)
	t.Setenv(envAdminAPIKey, "admin-from-env")
	// Unset so the .env value can fill it; t.Setenv restores afterwards.
	os.Unsetenv(envUploadAPIKey)
	t.Cleanup(func() { os.Unsetenv(envUploadAPIKey) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UploadAPIKey != "from-file" {
		t.Fatalf("expected upload key from env file, got %q", cfg.UploadAPIKey)
	}
	if cfg.AdminAPIKey != "admin-from-env" {
		t.Fatalf("expected process env to win, got %q", cfg.AdminAPIKey)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	doc := `
upload_api_key: yaml-key
upload_dir: /srv/policies
mail:
  host: smtp.example.com
  port: 2525
  timeout: 5s
directory:
  cache_ttl: 1m
  fallback:
    - ops@example.com
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv(envUploadDir, "/override")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UploadAPIKey != "yaml-key" {
		t.Fatalf("unexpected key %q", cfg.UploadAPIKey)
	}
	if cfg.UploadDir != "/override" {
		t.Fatalf("expected env to override yaml, got %s", cfg.UploadDir)
	}
	if cfg.Mail.Port != 2525 || cfg.Mail.Timeout != 5*time.Second {
		t.Fatalf("unexpected mail config %+v", cfg.Mail)
	}
	if cfg.Directory.CacheTTL != time.Minute || cfg.Directory.Fallback[0] != "ops@example.com" {
		t.Fatalf("unexpected directory config %+v", cfg.Directory)
	}
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	cfg := Defaults()
	err := cfg.LoadYAML([]byte("upload_api_key: k\nmystery: true\n"))
	if err == nil || !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected schema rejection, got %v", err)
	}
}

func TestLoadYAMLEmptyIsNoop(t *testing.T) {
	cfg := Defaults()
	if err := cfg.LoadYAML([]byte("  \n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("defaults changed")
	}
}

func TestValidateTLSPair(t *testing.T) {
	cfg := Defaults()
	cfg.UploadAPIKey = "k"
	cfg.TLSCertFile = "cert.pem"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected tls pair error")
	}
	cfg.TLSKeyFile = "key.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"24h":  24 * time.Hour,
		"7d":   7 * 24 * time.Hour,
		"3600": time.Hour,
		"90m":  90 * time.Minute,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", raw, got, want)
		}
	}
	for _, raw := range []string{"", "0", "-5", "xd", "soon"} {
		if _, err := ParseDuration(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a@x.com, ,b@x.com ,")
	if len(got) != 2 || got[0] != "a@x.com" || got[1] != "b@x.com" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestSummaryHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.AdminAPIKey = "super-secret-admin"
	cfg.RedisURL = "redis://user:pw@cache:6379/0"
	for _, v := range cfg.Summary() {
		if s, ok := v.(string); ok && (strings.Contains(s, "super-secret") || strings.Contains(s, "pw@")) {
			t.Fatalf("summary leaked secret: %v", cfg.Summary())
		}
	}
}
