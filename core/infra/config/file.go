package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile overlays values from a YAML document onto c. The document is checked
// against the embedded schema before decoding so unknown keys fail loudly.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.LoadYAML(data)
}

// LoadYAML is LoadFile for an in-memory document.
func (c *Config) LoadYAML(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := validateConfigSchema("gateway", data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: decode config: %v", ErrInvalid, err)
	}
	return nil
}
