package bootstrap

import (
	"errors"

	"bootstrapctl/internal/ansible"
	"bootstrapctl/internal/config"
	"bootstrapctl/internal/execx"
	"bootstrapctl/internal/state"
)

// IsExpectedError reports whether err belongs to the known orchestration
// failure taxonomy: missing tools, missing configuration, missing handoff
// files, failed commands or stages. Expected failures get a clean one-line
// message at the top level; anything else is logged with full detail.
func IsExpectedError(err error) bool {
	var toolErr *execx.ToolNotFoundError
	var cmdErr *execx.CommandError
	var stageErr *ansible.StageError
	var keyErr *config.MissingKeyError
	var credErr *state.CredentialsFileError
	return errors.As(err, &toolErr) ||
		errors.As(err, &cmdErr) ||
		errors.As(err, &stageErr) ||
		errors.As(err, &keyErr) ||
		errors.As(err, &credErr) ||
		errors.Is(err, config.ErrConfigNotFound)
}
