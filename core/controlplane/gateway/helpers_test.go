package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexcoverzy/policy-upload/core/infra/artifacts"
	"github.com/lexcoverzy/policy-upload/core/infra/config"
	"github.com/lexcoverzy/policy-upload/core/notify"
	"github.com/lexcoverzy/policy-upload/core/notify/mailer"
	"github.com/lexcoverzy/policy-upload/core/recipients"
)

const (
	testUploadKey = "upload-key"
	testAdminKey  = "admin-key"
	testBaseURL   = "https://files.example.com"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

// Now returns the current instant and moves the clock one second forward.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	body map[string]string
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.body == nil {
		m.body = map[string]string{}
	}
	for _, att := range msg.Attachments {
		data, _ := io.ReadAll(att.Content)
		m.body[att.Name] = string(data)
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	srv     *server
	handler http.Handler
	store   *artifacts.FSStore
	mail    *recordingMailer

	externalStatus atomic.Int32
	externalCalls  atomic.Int32
	externalBody   atomic.Value
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	env := &testEnv{mail: &recordingMailer{}}
	env.externalStatus.Store(http.StatusOK)
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.externalCalls.Add(1)
		data, _ := io.ReadAll(r.Body)
		env.externalBody.Store(string(data))
		w.WriteHeader(int(env.externalStatus.Load()))
	}))
	t.Cleanup(external.Close)

	cfg := config.Defaults()
	cfg.UploadAPIKey = testUploadKey
	cfg.AdminAPIKey = testAdminKey
	cfg.UploadDir = filepath.Join(t.TempDir(), "uploads", "coverzy")
	cfg.PublicBaseURL = testBaseURL
	cfg.RateLimitRPS = 0
	cfg.ExternalAPI = config.ExternalAPIConfig{URL: external.URL + "/policy/pdf", Timeout: time.Second}
	cfg.Directory = config.DirectoryConfig{Fallback: []string{"ops@example.com"}}
	for _, fn := range mutate {
		fn(cfg)
	}

	clock := &stepClock{t: time.UnixMilli(1_700_000_000_000)}
	env.store = artifacts.NewFSStore(cfg.UploadDir, artifacts.WithClock(clock.Now))
	dispatcher := notify.NewDispatcher(
		cfg.PublicBaseURL,
		env.store,
		recipients.NewResolver(cfg.Directory),
		env.mail,
		notify.NewExternalNotifier(cfg.ExternalAPI, external.Client()),
	)
	env.srv = newServer(cfg, env.store, dispatcher)
	env.handler = env.srv.routes()
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) admin(method, path string) *httptest.ResponseRecorder {
	return e.do(newRequest(method, path, testAdminKey))
}

func newRequest(method, path, apiKey string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}
	return req
}

func (e *testEnv) put(t *testing.T, policyID, name, content string) artifacts.Artifact {
	t.Helper()
	a, err := e.store.Put(context.Background(), policyID, name, artifacts.MimeForExtension(artifacts.ExtensionOf(name)), bytes.NewReader([]byte(content)))
	if err != nil {
		t.Fatalf("put %s: %v", name, err)
	}
	return a
}

type formFile struct {
	field       string
	name        string
	contentType string
	content     []byte
}

func pdfFile(name, content string) formFile {
	return formFile{field: uploadFileField, name: name, contentType: "application/pdf", content: []byte(content)}
}

func uploadRequest(t *testing.T, policyID string, files ...formFile) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if policyID != "" {
		if err := mw.WriteField(policyIDField, policyID); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(f.content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload-policy-pdf", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(apiKeyHeader, testUploadKey)
	return req
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Hint    string          `json:"hint"`
	Details string          `json:"details"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}
