// Package web implements the Ingress adapter (spec.md §4.3/§6): it accepts
// a submission over HTTP, stages it on disk under base_dir/<id>/, and hands
// the id to the Dispatcher.
package web

import (
	"archive/zip"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dontdude/judgebox/internal/domain"
)

const maxSubmissionBytes = 64 << 20 // 64 MiB, generous headroom over the sandbox's file size limit

// Dispatcher is the narrow slice of *dispatcher.Dispatcher the ingress
// adapter depends on, kept as an interface so the HTTP layer can be tested
// without constructing a real scheduling loop.
type Dispatcher interface {
	Handle(id string) error
	QueueSize() int
	QueueCapacity() int
	ContainerCount() int
	MaxContainerCount() int
	InFlightIDs() []string
	Running() bool
}

// Server wires the Ingress adapter's HTTP surface.
type Server struct {
	baseDir    string
	token      string
	dispatcher Dispatcher
}

// NewServer constructs an ingress Server. baseDir is the staging root as
// seen by this process (Dispatcher's Config.BaseDir).
func NewServer(baseDir, token string, dispatcher Dispatcher) *Server {
	return &Server{baseDir: baseDir, token: token, dispatcher: dispatcher}
}

// Routes registers the ingress HTTP surface on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /submissions/{id}", s.handleSubmit)
	mux.HandleFunc("GET /status", s.handleStatus)
}

func (s *Server) authorized(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// handleSubmit accepts a multipart submission: field "token", field "src"
// (saved as main.py), files "attachments" (0..n), optional file "testcase"
// (a zip extracted into <id>/testcase/).
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "submission id is required", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxSubmissionBytes); err != nil {
		http.Error(w, "malformed multipart body", http.StatusBadRequest)
		return
	}

	if !s.authorized(r.FormValue("token")) {
		slog.Debug("ingress: rejected invalid token", "id", id)
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	src := r.FormValue("src")
	if src == "" {
		http.Error(w, "src is required", http.StatusBadRequest)
		return
	}

	submissionDir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(submissionDir, 0o755); err != nil {
		slog.Error("ingress: failed to create submission dir", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := os.WriteFile(filepath.Join(submissionDir, "main.py"), []byte(src), 0o644); err != nil {
		slog.Error("ingress: failed to write main.py", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.saveAttachments(r, submissionDir); err != nil {
		slog.Error("ingress: failed to save attachments", "id", id, "error", err)
		http.Error(w, "malformed attachments", http.StatusBadRequest)
		return
	}

	if err := s.extractTestcase(r, submissionDir); err != nil {
		slog.Error("ingress: failed to extract testcase", "id", id, "error", err)
		http.Error(w, "malformed testcase archive", http.StatusBadRequest)
		return
	}

	slog.Info("ingress: staged submission, dispatching", "id", id)
	switch err := s.dispatcher.Handle(id); err {
	case nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "msg": "ok", "data": "ok"})
	case domain.ErrQueueFull:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "err",
			"msg":    "task queue is full now.\nplease wait a moment and re-send the submission.",
			"data":   nil,
		})
	case domain.ErrDuplicatedSubmissionID, domain.ErrNotFound:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("ingress: unexpected dispatcher error", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) saveAttachments(r *http.Request, submissionDir string) error {
	if r.MultipartForm == nil {
		return nil
	}
	for _, fh := range r.MultipartForm.File["attachments"] {
		if err := saveUploadedFile(fh, filepath.Join(submissionDir, filepath.Base(fh.Filename))); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) extractTestcase(r *http.Request, submissionDir string) error {
	files := r.MultipartForm.File["testcase"]
	if len(files) == 0 {
		return nil
	}

	f, err := files[0].Open()
	if err != nil {
		return err
	}
	defer f.Close()

	tmp, err := os.CreateTemp("", "goxec-testcase-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, f); err != nil {
		return err
	}

	zr, err := zip.OpenReader(tmp.Name())
	if err != nil {
		return err
	}
	defer zr.Close()

	testcaseDir := filepath.Join(submissionDir, "testcase")
	if err := os.MkdirAll(testcaseDir, 0o755); err != nil {
		return err
	}

	for _, entry := range zr.File {
		target := filepath.Join(testcaseDir, entry.Name)
		if !withinDir(testcaseDir, target) {
			continue
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := entry.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"load": float64(s.dispatcher.QueueSize()) / float64(maxInt(s.dispatcher.QueueCapacity(), 1)),
	}
	if s.authorized(r.URL.Query().Get("token")) {
		resp["queueSize"] = s.dispatcher.QueueSize()
		resp["maxTaskCount"] = s.dispatcher.QueueCapacity()
		resp["containerCount"] = s.dispatcher.ContainerCount()
		resp["maxContainerCount"] = s.dispatcher.MaxContainerCount()
		resp["submissions"] = s.dispatcher.InFlightIDs()
		resp["running"] = s.dispatcher.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

func saveUploadedFile(fh *multipart.FileHeader, dest string) error {
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, f)
	return err
}

func withinDir(dir, target string) bool {
	cleanDir := filepath.Clean(dir)
	cleanTarget := filepath.Clean(target)
	return cleanTarget == cleanDir || len(cleanTarget) > len(cleanDir) && cleanTarget[:len(cleanDir)+1] == cleanDir+string(filepath.Separator)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("ingress: failed to encode response", "error", err)
	}
}
