package ansible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"bootstrapctl/internal/execx"
	"bootstrapctl/pkg/logging"
)

// DefaultConfigPath is the ansible.cfg exported to every playbook run.
const DefaultConfigPath = "ansible/ansible.cfg"

// Stage describes one invocation of an external workflow unit (a playbook).
// It is created per invocation and consumed once.
type Stage struct {
	// Playbook is the path of the workflow unit, e.g. "ansible/vault/init.yml".
	Playbook string
	// Vars is the variable map passed to the playbook. Scalars are flattened
	// into the key=value argument convention; lists and maps are written to a
	// temporary JSON side file and passed by reference.
	Vars map[string]any
	// Verbose streams the playbook output instead of capturing it.
	Verbose bool
}

// StageError indicates a playbook exited non-zero. It carries the captured
// stderr for diagnostics and is fatal to the whole run.
type StageError struct {
	Playbook string
	Stderr   string
	cause    error
}

func (e *StageError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("playbook %s failed: %s", e.Playbook, e.Stderr)
	}
	return fmt.Sprintf("playbook %s failed", e.Playbook)
}

func (e *StageError) Unwrap() error { return e.cause }

// Executor runs playbooks through a command Runner. Stages are expected to be
// idempotent; the executor applies no retry of its own.
type Executor struct {
	Runner execx.Runner
	// ConfigPath is exported as ANSIBLE_CONFIG for every run. Defaults to
	// DefaultConfigPath when empty.
	ConfigPath string
}

// NewExecutor returns an Executor using the given process runner.
func NewExecutor(runner execx.Runner) *Executor {
	return &Executor{Runner: runner}
}

// Run executes the stage to completion, failing with a *StageError on a
// non-zero exit. The temporary side file for structured variables is removed
// unconditionally after the call.
func (e *Executor) Run(ctx context.Context, stage Stage) error {
	logging.Info("ansible", "Running playbook: %s", stage.Playbook)

	args := []string{stage.Playbook}
	if stage.Verbose {
		args = append(args, "-v")
	}

	scalars, structured := splitVars(stage.Vars)
	for _, key := range sortedKeys(scalars) {
		args = append(args, "-e", fmt.Sprintf("%s=%v", key, scalars[key]))
	}

	if len(structured) > 0 {
		sideFile, err := writeVarsFile(structured)
		if err != nil {
			return err
		}
		defer os.Remove(sideFile)
		args = append(args, "-e", "@"+sideFile)
	}

	configPath := e.ConfigPath
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	_, err := e.Runner.Run(ctx, execx.Command{
		Name:   "ansible-playbook",
		Args:   args,
		Env:    map[string]string{"ANSIBLE_CONFIG": configPath},
		Stream: stage.Verbose,
	})
	if err != nil {
		var cmdErr *execx.CommandError
		if errors.As(err, &cmdErr) {
			return &StageError{Playbook: stage.Playbook, Stderr: cmdErr.Stderr, cause: err}
		}
		return err
	}

	logging.Info("ansible", "Playbook completed: %s", stage.Playbook)
	return nil
}

// splitVars separates scalar variables (passed inline) from structured ones
// (passed via side file).
func splitVars(vars map[string]any) (scalars map[string]any, structured map[string]any) {
	scalars = make(map[string]any)
	structured = make(map[string]any)
	for key, value := range vars {
		switch value.(type) {
		case string, bool, int, int32, int64, float32, float64:
			scalars[key] = value
		default:
			structured[key] = value
		}
	}
	return scalars, structured
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeVarsFile(vars map[string]any) (string, error) {
	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("failed to encode extra vars: %w", err)
	}
	f, err := os.CreateTemp("", "bootstrap-extra-vars-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create extra vars file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write extra vars file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close extra vars file: %w", err)
	}
	return f.Name(), nil
}
