package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dontdude/judgebox/internal/domain"
)

// getFiles retrieves a streaming tar archive of /sandbox, rejects it with
// outputLimitExceed if the declared member sizes exceed FileSizeLimitBytes,
// otherwise extracts it into a fresh temporary directory and returns the
// top-level, non-ignored, non-directory entries as owned byte slices. The
// temporary directory is always removed before getFiles returns.
func (s *Sandbox) getFiles(ctx context.Context, id string) ([]domain.OutputFile, error) {
	rc, err := s.runtime.CopyFromContainer(ctx, id, "/sandbox")
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	archiveBytes, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	var total int64
	tr := tar.NewReader(bytes.NewReader(archiveBytes))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		total += hdr.Size
	}
	if total > s.inv.FileSizeLimitBytes {
		return nil, outputLimitExceed
	}

	extractDir := filepath.Join(os.TempDir(), uuid.NewString())
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(extractDir)

	if err := extractTar(bytes.NewReader(archiveBytes), extractDir); err != nil {
		return nil, err
	}

	root := filepath.Join(extractDir, "sandbox")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []domain.OutputFile
	for _, e := range entries {
		if _, ignored := s.inv.Ignores[e.Name()]; ignored {
			continue
		}
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, domain.OutputFile{Name: e.Name(), Data: data})
	}
	return files, nil
}

// extractTar writes every entry of the tar stream under dir, rejecting
// entries whose name would escape dir via path traversal.
func extractTar(r io.Reader, dir string) error {
	cleanDir := filepath.Clean(dir)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(cleanDir, hdr.Name)
		if target != cleanDir && !strings.HasPrefix(target, cleanDir+string(os.PathSeparator)) {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
