package keycloak

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootstrapctl/internal/ansible"
	"bootstrapctl/internal/config"
)

// fakeStageRunner records every stage and can fail a specific invocation.
type fakeStageRunner struct {
	stages []ansible.Stage
	failAt int // 1-based index of the call that fails; 0 means never
}

func (f *fakeStageRunner) Run(ctx context.Context, stage ansible.Stage) error {
	f.stages = append(f.stages, stage)
	if f.failAt > 0 && len(f.stages) == f.failAt {
		return &ansible.StageError{Playbook: stage.Playbook, Stderr: "injected failure"}
	}
	return nil
}

func testParams() ProvisionParams {
	return ProvisionParams{
		Realms:        []string{"dev", "staging", "prod"},
		AdminPassword: "kc-admin",
		RootToken:     "hvs.root",
		KeycloakURL:   "http://localhost:8080",
		VaultURL:      "http://localhost:8200",
	}
}

func TestResolveEnvironmentsPrecedence(t *testing.T) {
	realms := []string{"dev", "prod"}

	tests := []struct {
		name string
		def  config.ClientDefinition
		want []string
	}{
		{
			name: "explicit list wins",
			def: config.ClientDefinition{
				ID:           "app",
				Environments: []string{"prod"},
				RedirectURIs: map[string][]string{"dev": {"https://dev/*"}},
			},
			want: []string{"prod"},
		},
		{
			name: "redirect keys next",
			def: config.ClientDefinition{
				ID:           "app",
				RedirectURIs: map[string][]string{"staging": {"https://s/*"}, "dev": {"https://d/*"}},
				WebOrigins:   map[string][]string{"prod": {"https://p"}},
			},
			want: []string{"dev", "staging"},
		},
		{
			name: "web origin keys next",
			def: config.ClientDefinition{
				ID:         "app",
				WebOrigins: map[string][]string{"prod": {"https://p"}},
			},
			want: []string{"prod"},
		},
		{
			name: "realm set as fallback",
			def:  config.ClientDefinition{ID: "app"},
			want: []string{"dev", "prod"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveEnvironments(tc.def, realms)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveEnvironmentsNeverSilentlyEmpty(t *testing.T) {
	_, err := ResolveEnvironments(config.ClientDefinition{ID: "app"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zero target environments")
}

func TestEffectiveClientID(t *testing.T) {
	confidential := config.ClientDefinition{ID: "app", Public: false}
	public := config.ClientDefinition{ID: "app", Public: true}

	for _, env := range []string{"dev", "staging", "prod"} {
		assert.Equal(t, "app-"+env, EffectiveClientID(confidential, env))
		assert.Equal(t, "app", EffectiveClientID(public, env))
	}
}

func TestProvisionAllFansOutPerEnvironment(t *testing.T) {
	runner := &fakeStageRunner{}
	p := NewProvisioner(runner)

	clients := []config.ClientDefinition{
		{ID: "app", Public: false, Environments: []string{"dev", "prod"}},
	}
	require.NoError(t, p.ProvisionAll(context.Background(), clients, testParams()))

	require.Len(t, runner.stages, 2)
	assert.Equal(t, "app-dev", runner.stages[0].Vars["client_id"])
	assert.Equal(t, "dev", runner.stages[0].Vars["realm"])
	assert.Equal(t, "app-prod", runner.stages[1].Vars["client_id"])
	assert.Equal(t, "prod", runner.stages[1].Vars["realm"])
	for _, stage := range runner.stages {
		assert.Equal(t, DefaultClientPlaybook, stage.Playbook)
		assert.Equal(t, "hvs.root", stage.Vars["vault_token"])
		assert.Equal(t, "http://localhost:8080", stage.Vars["keycloak_url"])
	}
}

func TestProvisionAllDefaultsToWildcardURIs(t *testing.T) {
	runner := &fakeStageRunner{}
	p := NewProvisioner(runner)

	clients := []config.ClientDefinition{
		{
			ID:           "dashboard",
			Public:       true,
			Environments: []string{"dev", "prod"},
			RedirectURIs: map[string][]string{"dev": {"https://dev.example.com/*"}},
		},
	}
	require.NoError(t, p.ProvisionAll(context.Background(), clients, testParams()))

	require.Len(t, runner.stages, 2)
	assert.Equal(t, []string{"https://dev.example.com/*"}, runner.stages[0].Vars["redirect_uris"])
	assert.Equal(t, []string{"*"}, runner.stages[0].Vars["web_origins"])
	// No mapping for prod at all: both lists fall back to the wildcard.
	assert.Equal(t, []string{"*"}, runner.stages[1].Vars["redirect_uris"])
	assert.Equal(t, []string{"*"}, runner.stages[1].Vars["web_origins"])
}

func TestProvisionAllUsesRealmFallback(t *testing.T) {
	runner := &fakeStageRunner{}
	p := NewProvisioner(runner)

	clients := []config.ClientDefinition{{ID: "app"}}
	require.NoError(t, p.ProvisionAll(context.Background(), clients, testParams()))
	assert.Len(t, runner.stages, 3) // one call per declared realm
}

func TestProvisionAllAbortsOnFirstFailure(t *testing.T) {
	runner := &fakeStageRunner{failAt: 2}
	p := NewProvisioner(runner)

	clients := []config.ClientDefinition{
		{ID: "first", Environments: []string{"dev", "prod"}},
		{ID: "second", Environments: []string{"dev"}},
	}
	err := p.ProvisionAll(context.Background(), clients, testParams())
	require.Error(t, err)

	var stageErr *ansible.StageError
	require.True(t, errors.As(err, &stageErr))
	// The failing call aborts the remaining fan-out; no rollback of the
	// first client, no attempt at the second one.
	assert.Len(t, runner.stages, 2)
}
