// Command judge-one runs a single submission directory through the Sandbox
// directly, bypassing the Dispatcher and its queue. It supplements the
// distillation's dropped one-shot runner
// (original_source/scripts/run_one_submission.py) for local, no-HTTP
// testing of the sandbox container shape.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dontdude/judgebox/internal/domain"
	"github.com/dontdude/judgebox/internal/platform/docker"
	"github.com/dontdude/judgebox/internal/sandbox"
)

func main() {
	dir := flag.String("dir", "", "host path to the submission directory, bind-mounted read-write at /sandbox")
	image := flag.String("image", "sandbox", "sandbox container image")
	timeLimitMS := flag.Int("time-limit-ms", 10_000, "wait deadline in milliseconds")
	memLimitKB := flag.Int64("mem-limit-kb", 128_000, "memory limit in kilobytes")
	outputLimit := flag.Int64("output-limit-bytes", 4_096, "stdout/stderr size cap in bytes")
	fileLimit := flag.Int64("file-limit-bytes", 64_000_000, "produced file tree size cap in bytes")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *dir == "" {
		slog.Error("judge-one: -dir is required")
		os.Exit(1)
	}
	abs, err := filepath.Abs(*dir)
	if err != nil {
		slog.Error("judge-one: failed to resolve directory", "error", err)
		os.Exit(1)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		slog.Error("judge-one: failed to read submission directory", "dir", abs, "error", err)
		os.Exit(1)
	}
	ignores := map[string]struct{}{"__pycache__": {}}
	for _, e := range entries {
		ignores[e.Name()] = struct{}{}
	}

	runtime := docker.NewClient()
	if err := runtime.EnsureImage(context.Background(), *image); err != nil {
		slog.Error("judge-one: failed to ensure image", "image", *image, "error", err)
		os.Exit(1)
	}

	inv := domain.SandboxInvocation{
		Image:                *image,
		TimeLimit:            time.Duration(*timeLimitMS) * time.Millisecond,
		MemLimitKB:           *memLimitKB,
		OutputSizeLimitBytes: *outputLimit,
		FileSizeLimitBytes:   *fileLimit,
		HostSrcDir:           abs,
		ContainerSrcDir:      abs,
		Ignores:              ignores,
	}

	result := sandbox.New(inv, runtime).Run(context.Background())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summarize(result)); err != nil {
		slog.Error("judge-one: failed to encode result", "error", err)
		os.Exit(1)
	}
	if result.Status != domain.StatusSuccess {
		os.Exit(1)
	}
}

// summarize renders a SandboxResult as JSON without embedding raw file
// bytes, printing basenames and sizes instead.
func summarize(result domain.SandboxResult) map[string]any {
	files := make([]map[string]any, 0, len(result.Files))
	for _, f := range result.Files {
		files = append(files, map[string]any{"name": f.Name, "bytes": len(f.Data)})
	}
	return map[string]any{
		"status":   result.Status.String(),
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"error":    result.Error,
		"exitCode": result.ExitCode,
		"files":    files,
	}
}
