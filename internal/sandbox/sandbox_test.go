package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/judgebox/internal/domain"
)

func baseInvocation() domain.SandboxInvocation {
	return domain.SandboxInvocation{
		Image:                "sandbox",
		OutputSizeLimitBytes: 4096,
		FileSizeLimitBytes:   64_000_000,
		HostSrcDir:           "/host/submissions/abc",
		ContainerSrcDir:      "/submissions/abc",
		Ignores:              map[string]struct{}{},
	}
}

func TestRunSuccess(t *testing.T) {
	rt := &fakeRuntime{
		waitResult: domain.WaitResult{ExitCode: 0},
		stdout:     []byte("hello world"),
		stderr:     []byte(""),
		archive:    buildTar(map[string][]byte{"out.txt": []byte("result")}),
	}

	result := New(baseInvocation(), rt).Run(context.Background())

	require.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "hello world", result.Stdout)
	assert.Equal(t, int64(0), result.ExitCode)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "out.txt", result.Files[0].Name)
	assert.Equal(t, "result", string(result.Files[0].Data))
	assert.Equal(t, []string{"fake-container"}, rt.removed)
}

func TestRunIgnoresConfiguredNames(t *testing.T) {
	inv := baseInvocation()
	inv.Ignores = map[string]struct{}{"input.txt": {}}
	rt := &fakeRuntime{
		archive: buildTar(map[string][]byte{
			"out.txt":   []byte("result"),
			"input.txt": []byte("should not come back"),
		}),
	}

	result := New(inv, rt).Run(context.Background())

	require.Equal(t, domain.StatusSuccess, result.Status)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "out.txt", result.Files[0].Name)
}

func TestRunOutputLimitExceededOnStream(t *testing.T) {
	inv := baseInvocation()
	inv.OutputSizeLimitBytes = 4
	rt := &fakeRuntime{stdout: []byte("way too long for the limit")}

	result := New(inv, rt).Run(context.Background())

	require.Equal(t, domain.StatusOutputLimitExceed, result.Status)
	assert.Equal(t, domain.OutputLimitAdvisoryStream, result.Stderr)
	assert.Empty(t, result.Stdout)
	assert.Nil(t, result.Files)
	assert.Equal(t, []string{"fake-container"}, rt.removed)
}

func TestRunOutputLimitExceededOnFiles(t *testing.T) {
	inv := baseInvocation()
	inv.FileSizeLimitBytes = 4
	rt := &fakeRuntime{archive: buildTar(map[string][]byte{"big.bin": []byte("more than four bytes")})}

	result := New(inv, rt).Run(context.Background())

	require.Equal(t, domain.StatusOutputLimitExceed, result.Status)
	assert.Equal(t, domain.OutputLimitAdvisoryFiles, result.Stderr)
	assert.Nil(t, result.Files)
}

func TestRunCreateContainerFailureRemovesNothingAndReportsJudgerError(t *testing.T) {
	rt := &fakeRuntime{createErr: errors.New("daemon unreachable")}

	result := New(baseInvocation(), rt).Run(context.Background())

	require.Equal(t, domain.StatusJudgerError, result.Status)
	assert.Contains(t, result.Error, "daemon unreachable")
	assert.Empty(t, rt.removed)
}

func TestRunStartContainerFailureStillRemovesContainer(t *testing.T) {
	rt := &fakeRuntime{startErr: errors.New("start failed")}

	result := New(baseInvocation(), rt).Run(context.Background())

	require.Equal(t, domain.StatusJudgerError, result.Status)
	assert.Equal(t, []string{"fake-container"}, rt.removed)
}

func TestRunWaitTimeoutStillHarvests(t *testing.T) {
	rt := &fakeRuntime{
		waitResult: domain.WaitResult{TimedOut: true, ExitCode: -1},
		stdout:     []byte("partial"),
		archive:    buildTar(nil),
	}

	result := New(baseInvocation(), rt).Run(context.Background())

	require.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "partial", result.Stdout)
	assert.Equal(t, int64(-1), result.ExitCode)
}

func TestNewDefaultsImage(t *testing.T) {
	sb := New(domain.SandboxInvocation{}, &fakeRuntime{})
	assert.Equal(t, "sandbox", sb.inv.Image)
}

func TestDecodeUTF8ReplacesInvalidSequences(t *testing.T) {
	invalid := []byte{'h', 'i', 0xff, 0xfe}
	decoded := decodeUTF8(invalid)
	assert.True(t, strings.HasPrefix(decoded, "hi"))
}
