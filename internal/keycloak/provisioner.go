package keycloak

import (
	"context"
	"fmt"
	"sort"

	"bootstrapctl/internal/ansible"
	"bootstrapctl/internal/config"
	"bootstrapctl/pkg/logging"
)

// DefaultClientPlaybook is the stage invoked once per (client, environment)
// pair.
const DefaultClientPlaybook = "ansible/keycloak/create-client.yml"

// wildcard is the redirect/origin default applied when a client declares no
// URIs for an environment.
const wildcard = "*"

// StageRunner runs one provisioning stage. Satisfied by *ansible.Executor.
type StageRunner interface {
	Run(ctx context.Context, stage ansible.Stage) error
}

// ProvisionParams carries the shared inputs every client-creation call needs:
// admin credentials, the secrets-manager root token and the forwarded service
// endpoints.
type ProvisionParams struct {
	Realms        []string
	AdminPassword string
	RootToken     string
	KeycloakURL   string
	VaultURL      string
	Verbose       bool
}

// Provisioner fans one ClientDefinition out into a provisioning call per
// resolved environment.
type Provisioner struct {
	Stages   StageRunner
	Playbook string
}

// NewProvisioner returns a Provisioner invoking the default client playbook.
func NewProvisioner(stages StageRunner) *Provisioner {
	return &Provisioner{Stages: stages, Playbook: DefaultClientPlaybook}
}

// ResolveEnvironments determines a client's target environments: the explicit
// list, else the keys of its redirect-URI map, else the keys of its
// web-origin map, else the full declared realm set. The first non-empty
// source wins. Resolving to zero environments is an error, never a silent
// no-op.
func ResolveEnvironments(def config.ClientDefinition, realms []string) ([]string, error) {
	if len(def.Environments) > 0 {
		return append([]string(nil), def.Environments...), nil
	}
	if envs := sortedMapKeys(def.RedirectURIs); len(envs) > 0 {
		return envs, nil
	}
	if envs := sortedMapKeys(def.WebOrigins); len(envs) > 0 {
		return envs, nil
	}
	if len(realms) > 0 {
		return append([]string(nil), realms...), nil
	}
	return nil, fmt.Errorf("client %q resolves to zero target environments: no explicit list, no URI mappings and no declared realms", def.ID)
}

// EffectiveClientID computes the per-environment client id. Public clients
// keep their base id everywhere; confidential clients get an environment
// suffix so their secrets stay scoped per environment.
func EffectiveClientID(def config.ClientDefinition, environment string) string {
	if def.Public {
		return def.ID
	}
	return def.ID + "-" + environment
}

// ProvisionAll expands every client definition and invokes the creation stage
// once per (client, environment) pair. The pairs are independent; a failure
// aborts the remaining fan-out without rolling back clients already created.
func (p *Provisioner) ProvisionAll(ctx context.Context, clients []config.ClientDefinition, params ProvisionParams) error {
	for _, def := range clients {
		environments, err := ResolveEnvironments(def, params.Realms)
		if err != nil {
			return err
		}
		for _, env := range environments {
			if err := p.provisionOne(ctx, def, env, params); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Provisioner) provisionOne(ctx context.Context, def config.ClientDefinition, environment string, params ProvisionParams) error {
	effectiveID := EffectiveClientID(def, environment)
	logging.Info("keycloak", "Provisioning client %s in realm %s", effectiveID, environment)

	playbook := p.Playbook
	if playbook == "" {
		playbook = DefaultClientPlaybook
	}

	return p.Stages.Run(ctx, ansible.Stage{
		Playbook: playbook,
		Vars: map[string]any{
			"realm":             environment,
			"client_id":         effectiveID,
			"client_name":       def.Name,
			"client_desc":       def.Description,
			"public_client":     def.Public,
			"redirect_uris":     urisFor(def.RedirectURIs, environment),
			"web_origins":       urisFor(def.WebOrigins, environment),
			"kc_admin_password": params.AdminPassword,
			"vault_token":       params.RootToken,
			"keycloak_url":      params.KeycloakURL,
			"vault_url":         params.VaultURL,
		},
		Verbose: params.Verbose,
	})
}

func urisFor(m map[string][]string, environment string) []string {
	if uris := m[environment]; len(uris) > 0 {
		return uris
	}
	return []string{wildcard}
}

func sortedMapKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
