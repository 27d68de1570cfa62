// Package backend implements the Completion adapter (spec.md §4.4): it
// posts a finished SandboxResult to the upstream backend and then either
// cleans up or backs up the submission's staging directory depending on the
// response.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dontdude/judgebox/internal/domain"
	"github.com/dontdude/judgebox/internal/platform/broadcast"
)

// Client posts submission results to the backend and manages the fate of
// the on-disk staging directory afterward.
type Client struct {
	backendURL string
	token      string
	baseDir    string
	backupDir  string

	httpClient  *http.Client
	broadcaster broadcast.Broadcaster
}

// New constructs a completion adapter. backendURL is the backend's base
// URL (e.g. "http://backend:8080"); baseDir is the same root the Dispatcher
// stages submissions under, and backupDir is where a submission directory is
// moved when the backend does not accept its result.
func New(backendURL, token, baseDir, backupDir string, broadcaster broadcast.Broadcaster) *Client {
	return &Client{
		backendURL:  backendURL,
		token:       token,
		baseDir:     baseDir,
		backupDir:   backupDir,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		broadcaster: broadcaster,
	}
}

// Handle is a domain.CompletionHandler: it posts the result, then cleans up
// on HTTP 200 or backs up otherwise, and returns whether the backend
// accepted the result.
func (c *Client) Handle(ctx context.Context, id string, result domain.SandboxResult) bool {
	ok := c.post(ctx, id, result)

	submissionDir := filepath.Join(c.baseDir, id)
	if ok {
		if err := os.RemoveAll(submissionDir); err != nil {
			slog.Error("backend: failed to remove submission dir", "id", id, "error", err)
		}
	} else {
		dest := filepath.Join(c.backupDir, fmt.Sprintf("%s_%s", id, time.Now().Format("2006-01-02_15:04:05")))
		if err := os.MkdirAll(c.backupDir, 0o755); err != nil {
			slog.Error("backend: failed to create backup dir", "error", err)
		} else if err := os.Rename(submissionDir, dest); err != nil {
			slog.Error("backend: failed to back up submission dir", "id", id, "dest", dest, "error", err)
		}
	}

	if c.broadcaster != nil {
		if err := c.broadcaster.Publish(ctx, id, result); err != nil {
			slog.Warn("backend: failed to publish completion event", "id", id, "error", err)
		}
	}

	return ok
}

func (c *Client) post(ctx context.Context, id string, result domain.SandboxResult) bool {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	_ = writer.WriteField("token", c.token)
	_ = writer.WriteField("status", result.Status.String())
	_ = writer.WriteField("stdout", result.Stdout)
	_ = writer.WriteField("stderr", result.Stderr)
	_ = writer.WriteField("error", result.Error)
	_ = writer.WriteField("exitCode", fmt.Sprintf("%d", result.ExitCode))

	for _, f := range result.Files {
		part, err := writer.CreateFormFile("files[]", f.Name)
		if err != nil {
			slog.Error("backend: failed to build multipart part", "id", id, "file", f.Name, "error", err)
			continue
		}
		if _, err := part.Write(f.Data); err != nil {
			slog.Error("backend: failed to write multipart part", "id", id, "file", f.Name, "error", err)
		}
	}
	if err := writer.Close(); err != nil {
		slog.Error("backend: failed to close multipart writer", "id", id, "error", err)
		return false
	}

	url := fmt.Sprintf("%s/submission/%s/complete", c.backendURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		slog.Error("backend: failed to build request", "id", id, "error", err)
		return false
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("backend: request failed", "id", id, "error", err)
		return false
	}
	defer resp.Body.Close()

	slog.Info("backend: completion posted", "id", id, "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK
}
