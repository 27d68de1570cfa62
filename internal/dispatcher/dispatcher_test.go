package dispatcher

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/judgebox/internal/domain"
)

// fakeRuntime runs every submission to an immediate, empty success without
// touching Docker, so dispatcher tests exercise admission and scheduling
// semantics only.
type fakeRuntime struct{}

var _ domain.ContainerRuntime = fakeRuntime{}

func (fakeRuntime) EnsureImage(ctx context.Context, image string) error { return nil }
func (fakeRuntime) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	return "fake", nil
}
func (fakeRuntime) StartContainer(ctx context.Context, id string) error { return nil }
func (fakeRuntime) Wait(ctx context.Context, id string, timeout time.Duration) (domain.WaitResult, error) {
	return domain.WaitResult{ExitCode: 0}, nil
}
func (fakeRuntime) Logs(ctx context.Context, id string) ([]byte, []byte, error) {
	return nil, nil, nil
}
func (fakeRuntime) CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (fakeRuntime) RemoveContainer(ctx context.Context, id string) error { return nil }

func testConfig(t *testing.T, queueSize, maxContainers int) Config {
	t.Helper()
	return Config{
		BaseDir:           t.TempDir(),
		HostDir:           "/host/submissions",
		QueueSize:         queueSize,
		MaxContainerCount: maxContainers,
		Image:             "sandbox",
	}
}

func stageSubmission(t *testing.T, baseDir, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, id), 0o755))
}

func TestHandleRejectsUnknownSubmission(t *testing.T) {
	cfg := testConfig(t, 4, 1)
	d := New(cfg, fakeRuntime{}, nil, WithTesting())

	err := d.Handle("does-not-exist")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, d.InFlightIDs())
}

func TestHandleRejectsDuplicate(t *testing.T) {
	cfg := testConfig(t, 4, 1)
	d := New(cfg, fakeRuntime{}, nil, WithTesting())
	stageSubmission(t, cfg.BaseDir, "sub-1")

	require.NoError(t, d.Handle("sub-1"))
	err := d.Handle("sub-1")

	assert.ErrorIs(t, err, domain.ErrDuplicatedSubmissionID)
}

func TestHandleRollsBackInFlightOnQueueFull(t *testing.T) {
	cfg := testConfig(t, 1, 1)
	d := New(cfg, fakeRuntime{}, nil, WithTesting())
	stageSubmission(t, cfg.BaseDir, "sub-1")
	stageSubmission(t, cfg.BaseDir, "sub-2")

	require.NoError(t, d.Handle("sub-1"))
	err := d.Handle("sub-2")

	require.ErrorIs(t, err, domain.ErrQueueFull)
	assert.NotContains(t, d.InFlightIDs(), "sub-2")

	// sub-2 was rolled back, so resubmitting it must be accepted once room
	// frees up, never rejected as a duplicate.
	<-d.queue
	assert.NoError(t, d.Handle("sub-2"))
}

func TestSchedulingLoopRunsAdmittedSubmissionToCompletion(t *testing.T) {
	cfg := testConfig(t, 4, 2)
	completions := make(chan string, 1)
	onComplete := func(ctx context.Context, id string, result domain.SandboxResult) bool {
		completions <- id
		return true
	}

	d := New(cfg, fakeRuntime{}, onComplete, WithPollInterval(5*time.Millisecond))
	stageSubmission(t, cfg.BaseDir, "sub-1")

	d.Start()
	defer d.Stop()

	require.NoError(t, d.Handle("sub-1"))

	select {
	case id := <-completions:
		assert.Equal(t, "sub-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for submission to complete")
	}

	assert.Eventually(t, func() bool {
		return len(d.InFlightIDs()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTestingOptionSkipsCompletionCallback(t *testing.T) {
	cfg := testConfig(t, 4, 2)
	called := false
	onComplete := func(ctx context.Context, id string, result domain.SandboxResult) bool {
		called = true
		return true
	}

	d := New(cfg, fakeRuntime{}, onComplete, WithTesting(), WithPollInterval(5*time.Millisecond))
	stageSubmission(t, cfg.BaseDir, "sub-1")

	d.Start()
	defer d.Stop()
	require.NoError(t, d.Handle("sub-1"))

	assert.Eventually(t, func() bool {
		return len(d.InFlightIDs()) == 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, called)
}

func TestGracefulShutdownWaitsForInFlightWorkers(t *testing.T) {
	cfg := testConfig(t, 4, 2)
	d := New(cfg, fakeRuntime{}, nil, WithTesting(), WithPollInterval(5*time.Millisecond))
	stageSubmission(t, cfg.BaseDir, "sub-1")

	d.Start()
	require.NoError(t, d.Handle("sub-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, d.GracefulShutdown(ctx))
	assert.False(t, d.Running())
}

func TestQueueCapacityAndMaxContainerCountReflectConfig(t *testing.T) {
	cfg := testConfig(t, 7, 3)
	d := New(cfg, fakeRuntime{}, nil, WithTesting())

	assert.Equal(t, 7, d.QueueCapacity())
	assert.Equal(t, 3, d.MaxContainerCount())
	assert.Equal(t, 0, d.QueueSize())
	assert.Equal(t, 0, d.ContainerCount())
}
