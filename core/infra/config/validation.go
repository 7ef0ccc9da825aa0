package config

import (
	"errors"
	"fmt"
	"strings"

	configschema "github.com/lexcoverzy/policy-upload/core/infra/schema"
	"gopkg.in/yaml.v3"
)

// Validate reports every problem that prevents the gateway from starting.
// Optional integrations with missing settings are not errors; they degrade at
// request time instead.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.UploadAPIKey) == "" {
		errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalid, envUploadAPIKey))
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		errs = append(errs, fmt.Errorf("%w: upload directory is required", ErrInvalid))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("%w: max upload bytes must be positive", ErrInvalid))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, fmt.Errorf("%w: %s and %s must be set together", ErrInvalid, envTLSCert, envTLSKey))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, fmt.Errorf("%w: rate limits must not be negative", ErrInvalid))
	}
	if c.Mail.Port < 1 || c.Mail.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %s out of range: %d", ErrInvalid, envMailPort, c.Mail.Port))
	}
	switch c.Mail.Encryption {
	case "", "ssl", "tls", "starttls", "none":
	default:
		errs = append(errs, fmt.Errorf("%w: %s must be one of ssl, tls, starttls, none", ErrInvalid, envMailEncryption))
	}
	if c.Session.Expiry <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalid, envJWTExpiry))
	}
	if c.Directory.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("%w: %s must not be negative", ErrInvalid, envRecipientTTL))
	}
	return errors.Join(errs...)
}

func validateConfigSchema(name string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	schemaBytes, err := configSchemaFS.ReadFile(configSchemaFile)
	if err != nil {
		return fmt.Errorf("load %s schema: %w", name, err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse %s config: %w", name, err)
	}
	if payload == nil {
		return nil
	}
	schemaID := strings.ReplaceAll(name, " ", "-")
	if err := configschema.ValidateSchema(schemaID, schemaBytes, payload); err != nil {
		return fmt.Errorf("validate %s config: %w", name, err)
	}
	return nil
}
