package buildinfo

import (
	"fmt"

	"github.com/lexcoverzy/policy-upload/core/infra/logging"
)

// APIVersion is the version of the HTTP contract reported by the status endpoint.
const APIVersion = "1.0.0"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a single-line build summary.
func Info() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", Version, Commit, Date)
}

// Fields returns the build summary as a JSON-friendly map.
func Fields() map[string]string {
	return map[string]string{
		"version":     Version,
		"commit":      Commit,
		"date":        Date,
		"api_version": APIVersion,
	}
}

// Log writes the build summary with the service name.
func Log(service string) {
	logging.Info(service, "build", "version", Version, "commit", Commit, "date", Date)
}
