package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/config"
)

const (
	defaultExternalTimeout = 10 * time.Second
	userAgent              = "policy-upload-gateway/1.0"
)

var (
	// ErrNotConfigured reports a notification target with no endpoint configured.
	ErrNotConfigured = errors.New("notification target not configured")
	// ErrPolicyUnknown reports that the external system has no record of the policy.
	ErrPolicyUnknown = errors.New("policy unknown to external system")
)

// External tells a downstream system where an uploaded policy document lives.
type External interface {
	NotifyUpload(ctx context.Context, policyID, downloadURL string) error
}

// ExternalNotifier PUTs {"policy_id","url"} to a fixed endpoint.
type ExternalNotifier struct {
	endpoint string
	token    string
	timeout  time.Duration
	client   *http.Client
}

// NewExternalNotifier builds a notifier from cfg. A nil client uses a default one.
func NewExternalNotifier(cfg config.ExternalAPIConfig, client *http.Client) *ExternalNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ExternalNotifier{
		endpoint: strings.TrimSpace(cfg.URL),
		token:    strings.TrimSpace(cfg.Token),
		timeout:  timeout,
		client:   client,
	}
}

type externalPayload struct {
	PolicyID string `json:"policy_id"`
	URL      string `json:"url"`
}

// NotifyUpload sends one PUT. It does not retry.
func (n *ExternalNotifier) NotifyUpload(ctx context.Context, policyID, downloadURL string) error {
	if n == nil || n.endpoint == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(externalPayload{PolicyID: policyID, URL: downloadURL})
	if err != nil {
		return fmt.Errorf("encode external payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build external request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("external request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s", ErrPolicyUnknown, policyID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("external api status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

var _ External = (*ExternalNotifier)(nil)
