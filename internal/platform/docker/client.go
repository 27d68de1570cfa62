// Package docker adapts the Docker Engine API client
// (github.com/docker/docker/client) to the domain.ContainerRuntime
// interface the Sandbox depends on.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/dontdude/judgebox/internal/domain"
)

// Client wraps the official Docker SDK client and implements
// domain.ContainerRuntime.
type Client struct {
	cli *client.Client
}

var _ domain.ContainerRuntime = (*Client)(nil)

// NewClient initializes and returns a verified Docker client. It performs a
// connection check (Ping) on construction; if the daemon is unreachable the
// function panics to prevent the service from starting in a broken state,
// matching the teacher's fail-fast constructor.
func NewClient() *Client {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		slog.Error("failed to create docker client", "error", err)
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		slog.Error("failed to connect to docker daemon", "error", err)
		panic(err)
	}

	slog.Info("docker client initialized")
	return &Client{cli: cli}
}

// EnsureImage pulls img if it is not present locally. Safe to call on every
// scheduling iteration.
func (c *Client) EnsureImage(ctx context.Context, img string) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("inspect image: %w", err)
	}

	slog.Info("pulling image", "image", img)
	reader, err := c.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// CreateContainer creates a container per spec: a single read-write bind
// mount at /sandbox, disabled networking, memory/pids/cpu ceiling.
func (c *Client) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	pidsLimit := spec.PidsLimit
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		WorkingDir: spec.WorkingDir,
		Tty:        false,
	}, &container.HostConfig{
		Binds:       []string{fmt.Sprintf("%s:%s:rw", spec.HostDir, spec.WorkingDir)},
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    spec.MemLimitKB * 1024,
			PidsLimit: &pidsLimit,
			NanoCPUs:  spec.NanoCPUs,
		},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

// StartContainer starts a previously created container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// Wait blocks until the container leaves the running state or timeout
// elapses. A deadline elapsing is reported as WaitResult.TimedOut, not as an
// error — it is a legitimate outcome that still proceeds to harvest.
func (c *Client) Wait(ctx context.Context, id string, timeout time.Duration) (domain.WaitResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := c.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.WaitResult{TimedOut: true}, nil
		}
		if err != nil {
			return domain.WaitResult{}, fmt.Errorf("wait container: %w", err)
		}
		return domain.WaitResult{}, nil
	case status := <-statusCh:
		res := domain.WaitResult{ExitCode: status.StatusCode}
		if status.Error != nil {
			res.Error = status.Error.Message
		}
		return res, nil
	case <-waitCtx.Done():
		return domain.WaitResult{TimedOut: true}, nil
	}
}

// Logs fetches stdout and stderr as two independent, fully demultiplexed
// byte streams using the Docker stdcopy framing.
func (c *Client) Logs(ctx context.Context, id string) ([]byte, []byte, error) {
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, rc); err != nil {
		return nil, nil, fmt.Errorf("demultiplex logs: %w", err)
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), nil
}

// CopyFromContainer returns a streaming tar archive rooted at path.
func (c *Client) CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error) {
	rc, _, err := c.cli.CopyFromContainer(ctx, id, path)
	if err != nil {
		return nil, fmt.Errorf("copy from container: %w", err)
	}
	return rc, nil
}

// RemoveContainer force-removes the container, including one that never
// started or is still running.
func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	if err := c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}
