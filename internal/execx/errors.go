package execx

import "fmt"

// ToolNotFoundError indicates a required external dependency is missing from
// the PATH. It is raised during pre-flight checks and aborts the whole run.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("%s is not installed. Please install it first", e.Tool)
}

// CommandError indicates an external process exited non-zero. Stderr carries
// the captured diagnostic text (empty in streaming mode).
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command failed (exit %d): %s: %s", e.ExitCode, e.Command, e.Stderr)
	}
	return fmt.Sprintf("command failed (exit %d): %s", e.ExitCode, e.Command)
}
