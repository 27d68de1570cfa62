package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/dontdude/judgebox/internal/domain"
)

// fakeRuntime is a minimal, fully in-memory domain.ContainerRuntime used to
// drive Sandbox.Run without a live Docker daemon.
type fakeRuntime struct {
	mu sync.Mutex

	createErr error
	startErr  error
	waitErr   error
	logsErr   error
	copyErr   error
	removeErr error

	waitResult domain.WaitResult
	stdout     []byte
	stderr     []byte
	archive    []byte

	createdSpecs []domain.ContainerSpec
	removed      []string
}

var _ domain.ContainerRuntime = (*fakeRuntime)(nil)

func (f *fakeRuntime) EnsureImage(ctx context.Context, image string) error { return nil }

func (f *fakeRuntime) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdSpecs = append(f.createdSpecs, spec)
	if f.createErr != nil {
		return "", f.createErr
	}
	return "fake-container", nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, id string) error {
	return f.startErr
}

func (f *fakeRuntime) Wait(ctx context.Context, id string, timeout time.Duration) (domain.WaitResult, error) {
	if f.waitErr != nil {
		return domain.WaitResult{}, f.waitErr
	}
	return f.waitResult, nil
}

func (f *fakeRuntime) Logs(ctx context.Context, id string) ([]byte, []byte, error) {
	if f.logsErr != nil {
		return nil, nil, f.logsErr
	}
	return f.stdout, f.stderr, nil
}

func (f *fakeRuntime) CopyFromContainer(ctx context.Context, id, path string) (io.ReadCloser, error) {
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return io.NopCloser(bytes.NewReader(f.archive)), nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.removeErr
}

// buildTar packages files (name -> content) under a top-level "sandbox/"
// directory, matching the layout CopyFromContainer("/sandbox") produces.
func buildTar(files map[string][]byte) []byte {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	_ = tw.WriteHeader(&tar.Header{Name: "sandbox/", Typeflag: tar.TypeDir, Mode: 0o755})
	for name, data := range files {
		_ = tw.WriteHeader(&tar.Header{
			Name:     "sandbox/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(data)),
		})
		_, _ = tw.Write(data)
	}
	_ = tw.Close()
	return buf.Bytes()
}
