package gateway

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/lexcoverzy/policy-upload/core/infra/artifacts"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
)

const (
	uploadFileField   = "file"
	policyIDField     = "policy_id"
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

const errUnsupportedType = "Only PDF and document files are allowed! Supported formats: .pdf, .doc, .docx, .txt"

type uploadResult struct {
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

// formatLimit renders a byte limit the way clients are told about it ("10MB").
func formatLimit(bytes int64) string {
	if bytes%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", bytes>>20)
	}
	return fmt.Sprintf("%.2fMB", float64(bytes)/(1<<20))
}

func sizeMB(bytes int64) string {
	return fmt.Sprintf("%.2f", artifacts.SizeMB(bytes))
}

func (s *server) tooLarge() *apiError {
	return &apiError{
		status:  http.StatusRequestEntityTooLarge,
		message: fmt.Sprintf("File too large. Maximum size is %s.", formatLimit(s.cfg.MaxUploadBytes)),
	}
}

// handleUpload stores one multipart file under the sanitized policy id and
// then runs the notifications. Validation failures never touch storage.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.counters.IncUploads("too_large")
			writeError(w, s.tooLarge())
			return
		}
		s.counters.IncUploads("rejected")
		writeError(w, badRequest("Invalid form data", "Send multipart/form-data with 'policy_id' and 'file'"))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logging.Warn("gateway", "remove multipart temp files failed", "error", err)
		}
	}()

	rawPolicyID := strings.TrimSpace(r.FormValue(policyIDField))
	if rawPolicyID == "" || artifacts.SanitizePolicyID(rawPolicyID) == "" {
		s.counters.IncUploads("rejected")
		writeError(w, badRequest("Missing policy_id parameter", "Include 'policy_id' in your form data"))
		return
	}

	header, apiErr := singleFile(r.MultipartForm)
	if apiErr != nil {
		s.counters.IncUploads("rejected")
		writeError(w, apiErr)
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		s.counters.IncUploads("too_large")
		writeError(w, s.tooLarge())
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !artifacts.TypeMatches(header.Filename, contentType) {
		logging.Warn("gateway", "upload rejected: unsupported type", "request_id", reqID, "file", header.Filename, "content_type", contentType)
		s.counters.IncUploads("rejected")
		writeError(w, badRequest(errUnsupportedType, "Send the file with a matching extension and Content-Type"))
		return
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)

	f, err := header.Open()
	if err != nil {
		logging.Error("gateway", "open multipart file failed", "request_id", reqID, "error", err)
		s.counters.IncUploads("failed")
		writeError(w, internalError("Failed to process upload", "could not read uploaded file"))
		return
	}
	art, err := s.store.Put(r.Context(), rawPolicyID, header.Filename, mediaType, f)
	_ = f.Close()
	if err != nil {
		logging.Error("gateway", "store upload failed", "request_id", reqID, "policy_id", rawPolicyID, "error", err)
		s.counters.IncUploads("failed")
		switch {
		case errors.Is(err, artifacts.ErrInvalidPolicyID):
			writeError(w, badRequest("Missing policy_id parameter", "Include 'policy_id' in your form data"))
		case errors.Is(err, artifacts.ErrStorageUnavailable):
			writeError(w, internalError("Failed to process upload", "upload storage is unavailable"))
		default:
			writeError(w, internalError("Failed to process upload", err.Error()))
		}
		return
	}
	s.counters.IncUploads("stored")
	s.counters.ObserveUploadBytes(art.SizeBytes)
	logging.Info("gateway", "upload stored", "request_id", reqID, "policy_id", art.PolicyID, "key", art.Key, "bytes", art.SizeBytes)

	out := s.notifier.NotifyUploadComplete(r.Context(), art, art.PolicyID)
	recipients := out.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	writeSuccess(w, "File uploaded successfully", uploadResult{
		FileName:            art.Key,
		PolicyID:            art.PolicyID,
		FileSize:            art.SizeBytes,
		FileSizeMB:          sizeMB(art.SizeBytes),
		UploadTime:          timestamp(s.now()),
		EmailSent:           out.EmailSent,
		EmailRecipients:     recipients,
		ExternalAPINotified: out.ExternalAPINotified,
		DownloadURL:         out.DownloadURL,
	})
}

// singleFile returns the one file sent under the "file" field. Files under any
// other field count toward the one-file limit.
func singleFile(form *multipart.Form) (*multipart.FileHeader, *apiError) {
	total := 0
	for _, files := range form.File {
		total += len(files)
	}
	files := form.File[uploadFileField]
	switch {
	case total > 1:
		return nil, badRequest("Too many files", "Upload exactly one file with key 'file'")
	case len(files) == 0:
		return nil, badRequest("No file uploaded", "Include a file with key 'file' in your form data")
	}
	return files[0], nil
}
