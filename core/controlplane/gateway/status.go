package gateway

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/artifacts"
	"github.com/lexcoverzy/policy-upload/core/infra/buildinfo"
)

type integrationStatus struct {
	MailConfigured        bool   `json:"mail_configured"`
	DirectoryConfigured   bool   `json:"recipient_directory_configured"`
	ExternalAPIConfigured bool   `json:"external_api_configured"`
	SessionConfigured     bool   `json:"admin_login_configured"`
	EventBusConnected     bool   `json:"event_bus_connected"`
	EventBusStatus        string `json:"event_bus_status"`
}

type uploadStatus struct {
	ServiceStatus   string            `json:"service_status"`
	Timestamp       string            `json:"timestamp"`
	UploadDirectory string            `json:"upload_directory"`
	DirectoryExists bool              `json:"directory_exists"`
	MaxFileSize     string            `json:"max_file_size"`
	AllowedTypes    []string          `json:"allowed_types"`
	APIVersion      string            `json:"api_version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Build           map[string]string `json:"build"`
	Integrations    integrationStatus `json:"integrations"`
}

func (s *server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	dir := s.store.Root()
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	integrations := integrationStatus{
		MailConfigured:        s.cfg.Mail.Configured(),
		DirectoryConfigured:   s.cfg.Directory.Configured(),
		ExternalAPIConfigured: s.cfg.ExternalAPI.Configured(),
		SessionConfigured:     s.cfg.Session.Configured(),
		EventBusStatus:        "DISABLED",
	}
	if s.events != nil {
		integrations.EventBusConnected = s.events.IsConnected()
		integrations.EventBusStatus = s.events.Status()
	}

	writeSuccess(w, "PDF Upload service is running", uploadStatus{
		ServiceStatus:   "active",
		Timestamp:       timestamp(now),
		UploadDirectory: dir,
		DirectoryExists: s.store.Exists(),
		MaxFileSize:     formatLimit(s.cfg.MaxUploadBytes),
		AllowedTypes:    artifacts.AllowedExtensions(),
		APIVersion:      buildinfo.APIVersion,
		UptimeSeconds:   int64(now.Sub(s.started) / time.Second),
		Build:           buildinfo.Fields(),
		Integrations:    integrations,
	})
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "LexCoverzy PDF Upload Backend is running!",
		"timestamp": timestamp(s.now()),
		"version":   buildinfo.APIVersion,
	})
}
