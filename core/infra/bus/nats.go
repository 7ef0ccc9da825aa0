package bus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
	"github.com/nats-io/nats.go"
)

const (
	envUseJetStream    = "NATS_USE_JETSTREAM"
	envJSMaxAge        = "NATS_JS_MAX_AGE"
	envNATSTLSCA       = "NATS_TLS_CA"
	envNATSTLSCert     = "NATS_TLS_CERT"
	envNATSTLSKey      = "NATS_TLS_KEY"
	envNATSTLSInsecure = "NATS_TLS_INSECURE"

	defaultMaxAge  = 30 * 24 * time.Hour
	streamUploads  = "POLICY_UPLOADS"
	uploadSubjects = "upload.>"

	// SubjectUploadCompleted carries one UploadEvent per stored artifact.
	SubjectUploadCompleted = "upload.completed"
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errNilEvent   = errors.New("nil event")
	errEmptyTopic = errors.New("empty subject")
)

// UploadEvent announces a stored upload and the outcome of its notifications.
type UploadEvent struct {
	ID                  string    `json:"id"`
	PolicyID            string    `json:"policy_id"`
	FileName            string    `json:"file_name"`
	SizeBytes           int64     `json:"size_bytes"`
	MimeType            string    `json:"mime_type,omitempty"`
	DownloadURL         string    `json:"download_url"`
	EmailSent           bool      `json:"email_sent"`
	ExternalAPINotified bool      `json:"external_api_notified"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// Publisher emits upload events.
type Publisher interface {
	PublishUpload(ctx context.Context, event *UploadEvent) error
}

// NewUploadEvent stamps a fresh event id and time.
func NewUploadEvent(policyID, fileName string) *UploadEvent {
	return &UploadEvent{
		ID:         uuid.NewString(),
		PolicyID:   policyID,
		FileName:   fileName,
		OccurredAt: time.Now().UTC(),
	}
}

// NatsBus publishes JSON events over a NATS connection, using JetStream with
// message-id dedup when NATS_USE_JETSTREAM is set.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
	subject   string
}

// NewNatsBus dials NATS at url. Events go to subject, or SubjectUploadCompleted
// when subject is empty.
func NewNatsBus(url, subject string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("policy-upload-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Error("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	tlsConfig, err := natsTLSConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if strings.TrimSpace(subject) == "" {
		subject = SubjectUploadCompleted
	}
	b := &NatsBus{nc: nc, subject: subject}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// PublishUpload encodes event as JSON on the configured subject.
func (b *NatsBus) PublishUpload(ctx context.Context, event *UploadEvent) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	return b.publish(ctx, b.subject, event)
}

func (b *NatsBus) publish(ctx context.Context, subject string, event *UploadEvent) error {
	if subject == "" {
		return errEmptyTopic
	}
	if event == nil {
		return errNilEvent
	}
	data, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if b.jsEnabled {
		_, err = b.js.Publish(subject, data, nats.MsgId(event.ID), nats.Context(ctx))
		return err
	}
	return b.nc.Publish(subject, data)
}

func encodeEvent(event *UploadEvent) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode upload event: %w", err)
	}
	return data, nil
}

// IsConnected reports whether the connection is currently up.
func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

// Status returns the connection state for the status endpoint.
func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func parseBoolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func (b *NatsBus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil || !parseBoolEnv(envUseJetStream) {
		return
	}
	maxAge := defaultMaxAge
	if v := strings.TrimSpace(os.Getenv(envJSMaxAge)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			maxAge = d
		}
	}

	js, err := b.nc.JetStream()
	if err != nil {
		logging.Error("bus", "jetstream init failed", "error", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		logging.Error("bus", "jetstream not available", "error", err)
		return
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamUploads,
		Subjects:   []string{uploadSubjects},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		// Stream may already exist; treat that as success.
		if _, infoErr := js.StreamInfo(streamUploads); infoErr != nil {
			logging.Error("bus", "jetstream ensure stream failed", "stream", streamUploads, "error", err)
			return
		}
	}
	b.js = js
	b.jsEnabled = true
	logging.Info("bus", "jetstream enabled", "stream", streamUploads, "max_age", maxAge)
}

func natsTLSConfigFromEnv() (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envNATSTLSCA))
	certPath := strings.TrimSpace(os.Getenv(envNATSTLSCert))
	keyPath := strings.TrimSpace(os.Getenv(envNATSTLSKey))
	insecure := parseBoolEnv(envNATSTLSInsecure)
	if caPath == "" && certPath == "" && keyPath == "" && !insecure {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("nats tls ca read: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("nats tls ca parse: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("nats tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("nats tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

var _ Publisher = (*NatsBus)(nil)
