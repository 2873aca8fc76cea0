package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"bootstrapctl/pkg/logging"
)

// Command describes a single external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory for the process. Empty means inherit.
	Dir string
	// Env is an overlay applied on top of the current process environment.
	Env map[string]string
	// Stream inherits stdout/stderr instead of capturing them. Used for chatty
	// or interactive sub-tools where buffering would hide progress.
	Stream bool
}

// Result holds the captured output of a completed process. Both fields are
// empty when the command was run in streaming mode.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes external processes. The concrete implementation is
// ExecRunner; tests substitute a recording fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands via os/exec. It applies no retry policy; callers
// decide whether a failure is retryable.
type ExecRunner struct{}

// Run executes the command to completion. On a non-zero exit it returns a
// *CommandError carrying the captured stderr; if the executable cannot be
// found it returns a *ToolNotFoundError.
func (ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	logging.Debug("exec", "Executing: %s %s", c.Name, strings.Join(c.Args, " "))

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if len(c.Env) > 0 {
		env := os.Environ()
		for k, v := range c.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	if c.Stream {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin
		return Result{}, classifyRunError(c, "", cmd.Run())
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	res := Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if runErr == nil && res.Stdout != "" {
		logging.Debug("exec", "%s", strings.TrimSpace(res.Stdout))
	}
	return res, classifyRunError(c, res.Stderr, runErr)
}

// classifyRunError maps os/exec failures onto the typed bootstrap errors.
func classifyRunError(c Command, stderr string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return &ToolNotFoundError{Tool: c.Name}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if stderr != "" {
			logging.Error("exec", nil, "Command failed: %s", strings.TrimSpace(stderr))
		}
		return &CommandError{
			Command:  commandLine(c),
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr),
		}
	}
	return fmt.Errorf("failed to run %s: %w", commandLine(c), err)
}

// CheckTool verifies an external dependency is installed and runnable by
// invoking it with the given probe arguments (typically a version subcommand).
// Any failure is reported as a *ToolNotFoundError for the tool.
func CheckTool(ctx context.Context, r Runner, tool string, probeArgs ...string) error {
	if _, err := r.Run(ctx, Command{Name: tool, Args: probeArgs}); err != nil {
		var notFound *ToolNotFoundError
		if errors.As(err, &notFound) {
			return err
		}
		return &ToolNotFoundError{Tool: tool}
	}
	return nil
}

func commandLine(c Command) string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}
