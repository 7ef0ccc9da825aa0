package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lexcoverzy/policy-upload/core/infra/artifacts"
	"github.com/lexcoverzy/policy-upload/core/infra/config"
)

func TestUploadStoresAndNotifies(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(uploadRequest(t, "AB 12!", pdfFile("policy.pdf", "%PDF-1.4 body")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", rr.Code, rr.Body.String())
	}
	resp := decodeEnvelope(t, rr)
	if !resp.Success || resp.Message != "File uploaded successfully" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	var data uploadResult
	decodeData(t, resp, &data)

	if data.PolicyID != "AB12" {
		t.Fatalf("expected sanitized policy id, got %q", data.PolicyID)
	}
	if data.FileName != "AB12_1700000000000.pdf" {
		t.Fatalf("unexpected file name %q", data.FileName)
	}
	if data.DownloadURL != testBaseURL+"/api/download-pdf/AB12" {
		t.Fatalf("unexpected download url %q", data.DownloadURL)
	}
	if data.FileSize != int64(len("%PDF-1.4 body")) || data.FileSizeMB != "0.00" {
		t.Fatalf("unexpected size %d / %s", data.FileSize, data.FileSizeMB)
	}
	if !data.EmailSent || len(data.EmailRecipients) != 1 || data.EmailRecipients[0] != "ops@example.com" {
		t.Fatalf("unexpected email outcome sent=%v recipients=%v", data.EmailSent, data.EmailRecipients)
	}
	if !data.ExternalAPINotified {
		t.Fatalf("expected external api notified")
	}

	if got := env.mail.body[data.FileName]; got != "%PDF-1.4 body" {
		t.Fatalf("expected stored file attached, got %q", got)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(env.externalBody.Load().(string)), &payload); err != nil {
		t.Fatalf("decode external payload: %v", err)
	}
	if payload["policy_id"] != "AB12" || payload["url"] != data.DownloadURL {
		t.Fatalf("unexpected external payload %v", payload)
	}

	latest, err := env.store.ResolveLatest(context.Background(), "AB12")
	if err != nil || latest.Key != data.FileName {
		t.Fatalf("expected stored artifact, got %+v err=%v", latest, err)
	}
}

func TestUploadMissingFile(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(uploadRequest(t, "POL1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Success || resp.Error != "No file uploaded" || resp.Hint == "" {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestUploadMissingPolicyID(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"", "!!!"} {
		rr := env.do(uploadRequest(t, id, pdfFile("a.pdf", "x")))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("policy %q: expected 400 got %d", id, rr.Code)
		}
		if resp := decodeEnvelope(t, rr); resp.Error != "Missing policy_id parameter" {
			t.Fatalf("policy %q: unexpected error %q", id, resp.Error)
		}
	}
	if env.store.Exists() {
		t.Fatalf("rejected uploads must not create storage")
	}
}

func TestUploadRejectsMismatchedType(t *testing.T) {
	env := newTestEnv(t)
	cases := []formFile{
		{field: uploadFileField, name: "tool.exe", contentType: "application/pdf", content: []byte("MZ")},
		{field: uploadFileField, name: "notes.txt", contentType: "application/pdf", content: []byte("x")},
		{field: uploadFileField, name: "policy.pdf", contentType: "image/png", content: []byte("x")},
	}
	for _, f := range cases {
		rr := env.do(uploadRequest(t, "POL1", f))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", f.name, rr.Code)
		}
		if resp := decodeEnvelope(t, rr); resp.Error != errUnsupportedType {
			t.Fatalf("%s: unexpected error %q", f.name, resp.Error)
		}
	}
	items, err := env.store.List(context.Background())
	if err != nil || len(items) != 0 {
		t.Fatalf("expected nothing stored, got %v err=%v", items, err)
	}
	if env.mail.count() != 0 || env.externalCalls.Load() != 0 {
		t.Fatalf("rejected uploads must not notify")
	}
}

func TestUploadAcceptsContentTypeParameters(t *testing.T) {
	env := newTestEnv(t)
	f := formFile{field: uploadFileField, name: "README.TXT", contentType: "text/plain; charset=utf-8", content: []byte("hello")}
	rr := env.do(uploadRequest(t, "POL-7", f))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", rr.Code, rr.Body.String())
	}
	var data uploadResult
	decodeData(t, decodeEnvelope(t, rr), &data)
	if !strings.HasPrefix(data.FileName, "POL-7_") || !strings.HasSuffix(data.FileName, ".txt") {
		t.Fatalf("unexpected key %q", data.FileName)
	}
}

func TestUploadRejectsMultipleFiles(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(uploadRequest(t, "POL1", pdfFile("a.pdf", "a"), pdfFile("b.pdf", "b")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	extra := formFile{field: "attachment", name: "c.pdf", contentType: "application/pdf", content: []byte("c")}
	rr = env.do(uploadRequest(t, "POL1", pdfFile("a.pdf", "a"), extra))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for extra field got %d", rr.Code)
	}
	if env.store.Exists() {
		t.Fatalf("nothing should be stored")
	}
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxUploadBytes = 1 << 20 })
	big := strings.Repeat("x", (1<<20)+10)
	rr := env.do(uploadRequest(t, "POL1", pdfFile("big.pdf", big)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", rr.Code)
	}
	if resp := decodeEnvelope(t, rr); resp.Error != "File too large. Maximum size is 1MB." {
		t.Fatalf("unexpected error %q", resp.Error)
	}
	if env.store.Exists() {
		t.Fatalf("oversize upload must not be stored")
	}
}

func TestUploadNotFormData(t *testing.T) {
	env := newTestEnv(t)
	req := uploadRequest(t, "POL1", pdfFile("a.pdf", "x"))
	req.Header.Set("Content-Type", "application/json")
	rr := env.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestUploadRequiresUploadKey(t *testing.T) {
	env := newTestEnv(t)
	for _, key := range []string{"", "wrong", testAdminKey} {
		req := uploadRequest(t, "POL1", pdfFile("a.pdf", "x"))
		req.Header.Set(apiKeyHeader, key)
		rr := env.do(req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: expected 401 got %d", key, rr.Code)
		}
		if resp := decodeEnvelope(t, rr); resp.Error != "Unauthorized. Invalid or missing upload API key." {
			t.Fatalf("key %q: unexpected error %q", key, resp.Error)
		}
	}

	req := uploadRequest(t, "POL1", pdfFile("a.pdf", "x"))
	req.Header.Set(apiKeyHeader, `"`+testUploadKey+`" `)
	if rr := env.do(req); rr.Code != http.StatusOK {
		t.Fatalf("expected quoted key to be accepted, got %d", rr.Code)
	}
}

func TestUploadExternalUnknownPolicyStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.externalStatus.Store(http.StatusNotFound)

	rr := env.do(uploadRequest(t, "POL404", pdfFile("a.pdf", "x")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var data uploadResult
	decodeData(t, decodeEnvelope(t, rr), &data)
	if data.ExternalAPINotified {
		t.Fatalf("expected external_api_notified=false")
	}
	if !data.EmailSent {
		t.Fatalf("email should be independent of external failure")
	}
}

func TestUploadEmailFailureReportsEmptyRecipients(t *testing.T) {
	env := newTestEnv(t)
	env.mail.err = errors.New("smtp down")

	rr := env.do(uploadRequest(t, "POL1", pdfFile("a.pdf", "x")))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(decodeEnvelope(t, rr).Data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["email_sent"] != false {
		t.Fatalf("expected email_sent=false, got %v", raw["email_sent"])
	}
	list, ok := raw["email_recipients"].([]any)
	if !ok || len(list) != 0 {
		t.Fatalf("expected empty recipient array, got %#v", raw["email_recipients"])
	}
	if raw["external_api_notified"] != true {
		t.Fatalf("external call should still succeed")
	}
}

func TestUploadStorageUnavailable(t *testing.T) {
	env := newTestEnv(t)
	// A regular file where the directory should be makes the root unusable.
	seeded, err := env.store.Put(context.Background(), "seed", "a.pdf", "application/pdf", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	blocked := filepath.Join(env.store.Root(), seeded.Key, "nested")
	env.srv.store = artifacts.NewFSStore(blocked)
	env.handler = env.srv.routes()

	rr := env.do(uploadRequest(t, "POL1", pdfFile("a.pdf", "x")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Error != "Failed to process upload" || strings.Contains(resp.Details, blocked) {
		t.Fatalf("unexpected error body %+v", resp)
	}
}
