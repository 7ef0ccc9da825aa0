package gateway

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lexcoverzy/policy-upload/core/infra/artifacts"
	"github.com/lexcoverzy/policy-upload/core/infra/logging"
)

// storedFilePrefix serves individual stored files by key.
const storedFilePrefix = "/uploads/coverzy/"

type fileView struct {
	Filename     string `json:"filename"`
	PolicyID     string `json:"policy_id"`
	FileSize     int64  `json:"file_size"`
	FileSizeMB   string `json:"file_size_mb"`
	UploadDate   string `json:"upload_date"`
	ModifiedDate string `json:"modified_date"`
	FileType     string `json:"file_type"`
	DownloadURL  string `json:"download_url"`
	FileExists   bool   `json:"file_exists,omitempty"`
}

type fileList struct {
	Files       []fileView `json:"files"`
	Count       int        `json:"count"`
	TotalSizeMB string     `json:"total_size_mb"`
}

func viewOf(a artifacts.Artifact) fileView {
	policyID := a.PolicyID
	if policyID == "" {
		// Files not written by this service: everything before the first underscore.
		policyID, _, _ = strings.Cut(a.Key, "_")
	}
	return fileView{
		Filename:     a.Key,
		PolicyID:     policyID,
		FileSize:     a.SizeBytes,
		FileSizeMB:   sizeMB(a.SizeBytes),
		UploadDate:   timestamp(a.CreatedAt),
		ModifiedDate: timestamp(a.ModifiedAt),
		FileType:     strings.ToLower(a.Extension),
		DownloadURL:  storedFilePrefix + url.PathEscape(a.Key),
	}
}

func (s *server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if !s.store.Exists() {
		writeSuccess(w, "No uploads directory found", fileList{Files: []fileView{}, TotalSizeMB: "0.00"})
		return
	}
	items, err := s.store.List(r.Context())
	if err != nil {
		logging.Error("gateway", "list uploads failed", "error", err)
		s.counters.IncAdminActions("list", "failed")
		writeError(w, internalError("Failed to retrieve file list", "upload storage is unavailable"))
		return
	}
	out := fileList{Files: make([]fileView, 0, len(items))}
	var total float64
	for _, a := range items {
		out.Files = append(out.Files, viewOf(a))
		total += artifacts.SizeMB(a.SizeBytes)
	}
	out.Count = len(out.Files)
	out.TotalSizeMB = strconv.FormatFloat(total, 'f', 2, 64)
	s.counters.IncAdminActions("list", "ok")
	writeSuccess(w, "Files retrieved successfully", out)
}

func (s *server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	a, err := s.store.Stat(r.Context(), filename)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeError(w, notFound("File not found", map[string]any{"filename": filename}))
			return
		}
		logging.Error("gateway", "stat upload failed", "filename", filename, "error", err)
		writeError(w, internalError("Failed to get file information", "upload storage is unavailable"))
		return
	}
	view := viewOf(a)
	view.FileExists = true
	writeSuccess(w, "File information retrieved successfully", view)
}

// handleDownloadLatest streams the newest artifact for a policy id.
func (s *server) handleDownloadLatest(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.PathValue("policy_id"))
	policyID := artifacts.SanitizePolicyID(raw)
	if policyID == "" {
		writeError(w, badRequest("Policy ID is required", "Provide 'policy_id' as a URL parameter"))
		return
	}
	a, err := s.store.ResolveLatest(r.Context(), policyID)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			s.counters.IncAdminActions("download", "not_found")
			writeError(w, notFound("No file found for this policy ID", map[string]any{"policy_id": policyID}))
			return
		}
		logging.Error("gateway", "resolve latest failed", "policy_id", policyID, "error", err)
		s.counters.IncAdminActions("download", "failed")
		writeError(w, internalError("Failed to download file", "upload storage is unavailable"))
		return
	}

	rc, a, err := s.store.Open(r.Context(), a.Key)
	if err != nil {
		// Deleted between lookup and open.
		s.counters.IncAdminActions("download", "not_found")
		writeError(w, notFound("No file found for this policy ID", map[string]any{"policy_id": policyID}))
		return
	}
	defer rc.Close()

	h := w.Header()
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Key}))
	h.Set("Content-Type", artifacts.MimeForExtension(a.Extension))
	h.Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, rc)
	if err != nil {
		logging.Error("gateway", "download stream failed", "key", a.Key, "written", n, "error", err)
		s.counters.IncAdminActions("download", "failed")
		return
	}
	logging.Info("gateway", "file downloaded", "policy_id", policyID, "key", a.Key, "bytes", n)
	s.counters.IncAdminActions("download", "ok")
}

func (s *server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	err := s.store.Delete(r.Context(), filename)
	switch {
	case err == nil:
		logging.Info("gateway", "file deleted", "filename", filename)
		s.counters.IncAdminActions("delete", "ok")
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"message":  "File deleted successfully",
			"filename": filename,
		})
	case errors.Is(err, artifacts.ErrNotFound):
		s.counters.IncAdminActions("delete", "not_found")
		writeError(w, notFound("File not found", map[string]any{"filename": filename}))
	default:
		logging.Error("gateway", "delete failed", "filename", filename, "error", err)
		s.counters.IncAdminActions("delete", "failed")
		writeError(w, internalError("Failed to delete file", "upload storage is unavailable"))
	}
}

// handleStoredFile serves one stored file by key, honouring Range and
// conditional requests.
func (s *server) handleStoredFile(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	rc, a, err := s.store.Open(r.Context(), filename)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeError(w, notFound("File not found", map[string]any{"filename": filename}))
			return
		}
		logging.Error("gateway", "open stored file failed", "filename", filename, "error", err)
		writeError(w, internalError("Failed to read file", "upload storage is unavailable"))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", artifacts.MimeForExtension(a.Extension))
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, a.Key, a.ModifiedAt, rs)
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	if _, err := io.Copy(w, rc); err != nil {
		logging.Error("gateway", "stored file stream failed", "filename", filename, "error", err)
	}
}
