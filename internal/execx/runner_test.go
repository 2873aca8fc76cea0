package execx

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

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

	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestRunNonZeroExitReturnsCommandError(t *testing.T) {
	skipOnWindows(t)

	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo boom >&2; exit 3"},
	})
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr), "expected *CommandError, got %T", err)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "boom", cmdErr.Stderr)
	assert.Contains(t, cmdErr.Error(), "boom")
}

func TestRunMissingExecutableReturnsToolNotFound(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "definitely-not-a-real-binary-xyz",
	})
	require.Error(t, err)

	var notFound *ToolNotFoundError
	require.True(t, errors.As(err, &notFound), "expected *ToolNotFoundError, got %T", err)
	assert.Equal(t, "definitely-not-a-real-binary-xyz", notFound.Tool)
}

func TestRunEnvOverlay(t *testing.T) {
	skipOnWindows(t)

	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "printf '%s' \"$BOOTSTRAP_TEST_VAR\""},
		Env:  map[string]string{"BOOTSTRAP_TEST_VAR": "overlay-value"},
	})
	require.NoError(t, err)
	assert.Equal(t, "overlay-value", res.Stdout)
}

func TestRunWorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()

	res, err := ExecRunner{}.Run(context.Background(), Command{
		Name: "pwd",
		Dir:  dir,
	})
	require.NoError(t, err)

	// t.TempDir may sit behind a symlink (e.g. /var -> /private/var on macOS).
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(res.Stdout))
}

func TestCheckTool(t *testing.T) {
	skipOnWindows(t)

	assert.NoError(t, CheckTool(context.Background(), ExecRunner{}, "sh", "-c", "exit 0"))

	err := CheckTool(context.Background(), ExecRunner{}, "definitely-not-a-real-binary-xyz")
	var notFound *ToolNotFoundError
	require.True(t, errors.As(err, &notFound))

	// A present tool that exits non-zero is also reported as not installed.
	err = CheckTool(context.Background(), ExecRunner{}, "sh", "-c", "exit 1")
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "sh", notFound.Tool)
}
