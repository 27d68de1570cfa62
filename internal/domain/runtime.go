package domain

import (
	"context"
	"io"
	"time"
)

// ContainerSpec describes the container a ContainerRuntime must create for a
// single Sandbox invocation. It mirrors the fixed container shape from
// spec.md: a single read-write bind mount, disabled networking, and the
// fixed resource ceiling.
type ContainerSpec struct {
	Image      string
	Command    []string
	WorkingDir string
	HostDir    string
	MemLimitKB int64
	PidsLimit  int64
	NanoCPUs   int64
}

// WaitResult is the outcome of waiting for a container to leave the running
// state, or of the wait deadline being reached first.
type WaitResult struct {
	// TimedOut is true when the deadline elapsed before the container exited.
	// Harvest still proceeds best-effort in this case.
	TimedOut bool
	ExitCode int64
	Error    string
}

// ContainerRuntime is the narrow slice of the Docker Engine API the Sandbox
// depends on. Implementations: internal/platform/docker.Client against a
// real daemon, and fakes in tests.
type ContainerRuntime interface {
	// EnsureImage pulls Image if it is not already present locally. Safe to
	// call every scheduling iteration.
	EnsureImage(ctx context.Context, image string) error

	// CreateContainer creates (but does not start) a container per spec,
	// returning its id.
	CreateContainer(ctx context.Context, spec ContainerSpec) (id string, err error)

	// StartContainer starts a previously created container.
	StartContainer(ctx context.Context, id string) error

	// Wait blocks until the container leaves the running state or timeout
	// elapses, whichever comes first.
	Wait(ctx context.Context, id string, timeout time.Duration) (WaitResult, error)

	// Logs returns the demultiplexed stdout/stderr byte streams.
	Logs(ctx context.Context, id string) (stdout, stderr []byte, err error)

	// CopyFromContainer returns a streaming tar archive rooted at path.
	CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error)

	// RemoveContainer force-removes the container. Must be safe to call
	// more than once and on a container that failed to start.
	RemoveContainer(ctx context.Context, id string) error
}
