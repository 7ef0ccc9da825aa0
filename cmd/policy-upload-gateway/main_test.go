package main

import (
	"path/filepath"
	"testing"
)

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("POLICY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("API_RATE_LIMIT_RPS", "fast")
	if err := run(); err == nil {
		t.Fatalf("expected config error before serving")
	}
}

func TestRunRejectsMissingConfigFile(t *testing.T) {
	t.Setenv("POLICY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("POLICY_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	if err := run(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
