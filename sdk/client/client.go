package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

const apiKeyHeader = "X-API-Key"

// Client is a minimal HTTP client for the policy upload gateway.
type Client struct {
	BaseURL string
	// UploadKey authorizes uploads; AdminKey authorizes everything else.
	UploadKey  string
	AdminKey   string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout.
func New(baseURL, uploadKey, adminKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UploadKey: uploadKey,
		AdminKey:  adminKey,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// APIError is returned for any non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Hint       string `json:"hint,omitempty"`
	Details    string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// UploadResult mirrors the upload response data.
type UploadResult struct {
	FileName            string   `json:"file_name"`
	PolicyID            string   `json:"policy_id"`
	FileSize            int64    `json:"file_size"`
	FileSizeMB          string   `json:"file_size_mb"`
	UploadTime          string   `json:"upload_time"`
	EmailSent           bool     `json:"email_sent"`
	EmailRecipients     []string `json:"email_recipients"`
	ExternalAPINotified bool     `json:"external_api_notified"`
	DownloadURL         string   `json:"download_url"`
}

// FileInfo describes one stored file.
type FileInfo struct {
	Filename     string `json:"filename"`
	PolicyID     string `json:"policy_id"`
	FileSize     int64  `json:"file_size"`
	FileSizeMB   string `json:"file_size_mb"`
	UploadDate   string `json:"upload_date"`
	ModifiedDate string `json:"modified_date"`
	FileType     string `json:"file_type"`
	DownloadURL  string `json:"download_url"`
}

// FileList is the listing returned by List.
type FileList struct {
	Files       []FileInfo `json:"files"`
	Count       int        `json:"count"`
	TotalSizeMB string     `json:"total_size_mb"`
}

// Status is the service status snapshot.
type Status struct {
	ServiceStatus   string            `json:"service_status"`
	Timestamp       string            `json:"timestamp"`
	UploadDirectory string            `json:"upload_directory"`
	DirectoryExists bool              `json:"directory_exists"`
	MaxFileSize     string            `json:"max_file_size"`
	AllowedTypes    []string          `json:"allowed_types"`
	APIVersion      string            `json:"api_version"`
	UptimeSeconds   int64             `json:"uptime_seconds"`
	Build           map[string]string `json:"build,omitempty"`
	Integrations    map[string]any    `json:"integrations,omitempty"`
}

// Download describes a file streamed by DownloadLatest.
type Download struct {
	Filename    string
	ContentType string
	Bytes       int64
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

func (c *Client) do(ctx context.Context, method, path, key string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
	}
	return apiErr
}

// doEnvelope performs a request and decodes the data field of the response.
func (c *Client) doEnvelope(ctx context.Context, method, path, key string, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, method, path, key, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("gateway reported failure: %s", env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// Upload sends a document for policyID. The part content type is derived from
// the file name so the gateway's type check sees a consistent pair.
func (c *Client) Upload(ctx context.Context, policyID, filename string, content io.Reader) (*UploadResult, error) {
	if strings.TrimSpace(policyID) == "" {
		return nil, fmt.Errorf("policy id required")
	}
	if content == nil {
		return nil, fmt.Errorf("content required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("policy_id", policyID); err != nil {
		return nil, fmt.Errorf("write policy id: %w", err)
	}
	name := filepath.Base(filename)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "file", "filename": name}))
	h.Set("Content-Type", contentTypeFor(name))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var out UploadResult
	if err := c.doEnvelope(ctx, http.MethodPost, "/api/upload-policy-pdf", c.UploadKey, &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns every stored file, newest first.
func (c *Client) List(ctx context.Context) (*FileList, error) {
	var out FileList
	if err := c.doEnvelope(ctx, http.MethodGet, "/api/list-pdfs", c.AdminKey, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Info fetches metadata for a stored file key.
func (c *Client) Info(ctx context.Context, filename string) (*FileInfo, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename required")
	}
	var out FileInfo
	if err := c.doEnvelope(ctx, http.MethodGet, "/api/pdf-info/"+url.PathEscape(filename), c.AdminKey, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a stored file key.
func (c *Client) Delete(ctx context.Context, filename string) error {
	if filename == "" {
		return fmt.Errorf("filename required")
	}
	resp, err := c.do(ctx, http.MethodDelete, "/api/delete-pdf/"+url.PathEscape(filename), c.AdminKey, nil, "")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Status fetches the service status snapshot.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.doEnvelope(ctx, http.MethodGet, "/api/upload-status", c.AdminKey, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadLatest streams the most recent file for policyID into w.
func (c *Client) DownloadLatest(ctx context.Context, policyID string, w io.Writer) (*Download, error) {
	if strings.TrimSpace(policyID) == "" {
		return nil, fmt.Errorf("policy id required")
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/download-pdf/"+url.PathEscape(policyID), c.AdminKey, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Download{ContentType: resp.Header.Get("Content-Type")}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		out.Filename = params["filename"]
	}
	n, err := io.Copy(w, resp.Body)
	out.Bytes = n
	if err != nil {
		return out, fmt.Errorf("read body: %w", err)
	}
	return out, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
