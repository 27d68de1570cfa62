// Package sandbox implements a one-shot, isolated execution of a single
// submission directory inside a Docker container.
package sandbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dontdude/judgebox/internal/domain"
)

const defaultImage = "sandbox"

// outputLimitExceed is a local control-flow signal raised by getFiles when
// the produced file tree exceeds FileSizeLimitBytes. It never crosses the
// package boundary; Run translates it into a StatusOutputLimitExceed result.
var outputLimitExceed = errors.New("output limit exceed")

// Sandbox performs exactly one container lifecycle: create, start, wait,
// harvest, remove. Each instance must be used for a single Run call; callers
// must not reuse an instance.
type Sandbox struct {
	inv     domain.SandboxInvocation
	runtime domain.ContainerRuntime
	logger  *slog.Logger
}

// New constructs a Sandbox bound to one invocation. The invocation is
// immutable once built.
func New(inv domain.SandboxInvocation, runtime domain.ContainerRuntime) *Sandbox {
	if inv.Image == "" {
		inv.Image = defaultImage
	}
	return &Sandbox{
		inv:     inv,
		runtime: runtime,
		logger:  slog.Default(),
	}
}

// Run drives the container through CREATED -> STARTED -> WAITED ->
// HARVESTED -> REMOVED and returns exactly one SandboxResult. Container
// removal is guaranteed on every exit path.
func (s *Sandbox) Run(ctx context.Context) domain.SandboxResult {
	spec := domain.ContainerSpec{
		Image:      s.inv.Image,
		Command:    []string{"sh", "-c", "python3 main.py"},
		WorkingDir: "/sandbox",
		HostDir:    s.inv.HostSrcDir,
		MemLimitKB: s.inv.MemLimitKB,
		PidsLimit:  8,
		NanoCPUs:   1_000_000_000,
	}

	// CREATED
	id, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		s.logger.Error("sandbox: failed to create container", "src", s.inv.ContainerSrcDir, "error", err)
		return domain.SandboxResult{Status: domain.StatusJudgerError, Error: err.Error()}
	}

	// Every remaining exit path must remove the container, including the
	// error returns below.
	defer func() {
		if rmErr := s.runtime.RemoveContainer(context.Background(), id); rmErr != nil {
			s.logger.Error("sandbox: failed to remove container", "containerID", id, "error", rmErr)
		}
	}()

	// STARTED
	if err := s.runtime.StartContainer(ctx, id); err != nil {
		s.logger.Error("sandbox: failed to start container", "containerID", id, "error", err)
		return domain.SandboxResult{Status: domain.StatusJudgerError, Error: err.Error()}
	}

	// WAITED
	waitRes, err := s.runtime.Wait(ctx, id, s.inv.TimeLimit)
	if err != nil {
		s.logger.Error("sandbox: wait failed", "containerID", id, "error", err)
		return domain.SandboxResult{Status: domain.StatusJudgerError, Error: err.Error()}
	}
	if waitRes.TimedOut {
		s.logger.Info("sandbox: wait deadline reached, harvesting best-effort", "containerID", id)
	}

	// HARVESTED
	return s.harvest(ctx, id, waitRes)
}

func (s *Sandbox) harvest(ctx context.Context, id string, wait domain.WaitResult) domain.SandboxResult {
	stdout, stderr, err := s.runtime.Logs(ctx, id)
	if err != nil {
		s.logger.Error("sandbox: failed to fetch logs", "containerID", id, "error", err)
		return domain.SandboxResult{Status: domain.StatusJudgerError, Error: err.Error()}
	}

	limit := s.inv.OutputSizeLimitBytes
	if int64(len(stdout)) > limit || int64(len(stderr)) > limit {
		s.logger.Info("sandbox: output limit exceeded", "containerID", id)
		return domain.SandboxResult{
			Status:   domain.StatusOutputLimitExceed,
			Stdout:   "",
			Stderr:   domain.OutputLimitAdvisoryStream,
			Files:    nil,
			Error:    wait.Error,
			ExitCode: wait.ExitCode,
		}
	}

	files, err := s.getFiles(ctx, id)
	if errors.Is(err, outputLimitExceed) {
		s.logger.Info("sandbox: produced file size exceeded limit", "containerID", id)
		return domain.SandboxResult{
			Status:   domain.StatusOutputLimitExceed,
			Stdout:   "",
			Stderr:   domain.OutputLimitAdvisoryFiles,
			Files:    nil,
			Error:    wait.Error,
			ExitCode: wait.ExitCode,
		}
	}
	if err != nil {
		s.logger.Error("sandbox: failed to extract files", "containerID", id, "error", err)
		return domain.SandboxResult{Status: domain.StatusJudgerError, Error: err.Error()}
	}

	return domain.SandboxResult{
		Status:   domain.StatusSuccess,
		Stdout:   decodeUTF8(stdout),
		Stderr:   decodeUTF8(stderr),
		Files:    files,
		Error:    wait.Error,
		ExitCode: wait.ExitCode,
	}
}
