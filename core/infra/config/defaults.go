package config

import "time"

const (
	defaultHTTPAddr       = ":3000"
	defaultMetricsAddr    = ":9092"
	defaultUploadDir      = "uploads/coverzy"
	defaultMaxUploadBytes = 10 << 20
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	defaultMailPort       = 587
	defaultMailFromName   = "Coverzy Policy Upload"
	defaultMailTimeout    = 30 * time.Second
	defaultLookupTimeout  = 10 * time.Second
	defaultRecipientTTL   = 5 * time.Minute
	defaultSessionExpiry  = 24 * time.Hour
	defaultEventSubject   = "upload.completed"
)

// DefaultFallbackRecipient receives notifications when no recipient list can be
// resolved from the directory or its cache.
const DefaultFallbackRecipient = "intern.tech@logilinkscs.com"

// Defaults returns a Config populated with every default value.
func Defaults() *Config {
	return &Config{
		HTTPAddr:       defaultHTTPAddr,
		MetricsAddr:    defaultMetricsAddr,
		UploadDir:      defaultUploadDir,
		MaxUploadBytes: defaultMaxUploadBytes,
		RateLimitRPS:   defaultRateLimitRPS,
		RateLimitBurst: defaultRateLimitBurst,
		Mail: MailConfig{
			Port:     defaultMailPort,
			FromName: defaultMailFromName,
			Timeout:  defaultMailTimeout,
		},
		Directory: DirectoryConfig{
			Timeout:  defaultLookupTimeout,
			CacheTTL: defaultRecipientTTL,
			Fallback: []string{DefaultFallbackRecipient},
		},
		ExternalAPI: ExternalAPIConfig{
			Timeout: defaultLookupTimeout,
		},
		Session: SessionConfig{
			Expiry: defaultSessionExpiry,
		},
		EventSubject: defaultEventSubject,
	}
}
