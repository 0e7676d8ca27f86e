package runner

import (
	"bytes"
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on POSIX shell utilities")
	}
}

func TestRunCapturesStdout(t *testing.T) {
	skipOnWindows(t)

	result, err := NewLocal().Run(context.Background(), "echo", []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunNonZeroExit(t *testing.T) {
	skipOnWindows(t)

	result, err := NewLocal().Run(context.Background(), "sh", []string{"-c", "echo oops >&2; exit 3"})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestRunMissingProgram(t *testing.T) {
	result, err := NewLocal().Run(context.Background(), "definitely-not-a-program-xyz", nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, -1, result.ExitCode)
}

func TestRunWorkingDirAndEnv(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	result, err := NewLocal().Run(context.Background(), "sh", []string{"-c", "pwd; printf %s \"$CELL_OS\""},
		WithWorkingDir(dir),
		WithEnv(map[string]string{"CELL_OS": "linux"}),
	)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
	assert.Contains(t, result.Stdout, "linux")
}

func TestRunMirrorsStreams(t *testing.T) {
	skipOnWindows(t)

	var live bytes.Buffer
	result, err := NewLocal().Run(context.Background(), "echo", []string{"mirrored"},
		WithStreams(&live, nil),
	)
	require.NoError(t, err)
	assert.Equal(t, "mirrored\n", result.Stdout)
	assert.Equal(t, "mirrored\n", live.String())
}

func TestRunHonorsCancellation(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewLocal().Run(ctx, "sleep", []string{"5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
