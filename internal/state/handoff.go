// Package state loads the files that carry credentials between stage
// boundaries. The secrets-manager init and Kubernetes-auth stages persist
// their output to disk; the orchestrator reads it back here before any
// dependent stage runs. The files are the explicit inter-stage contract, not
// a cache.
package state

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCredentialsFile is written by the secrets-manager init stage.
	DefaultCredentialsFile = ".vault-credentials.yml"
	// DefaultKubernetesAuthFile is written by the Kubernetes-auth setup stage.
	DefaultKubernetesAuthFile = ".vault-k8s-auth.yml"
)

// CredentialsFileError indicates a handoff file is absent. The files are
// produced only by the init/auth-setup stages, so absence means an earlier
// step did not complete.
type CredentialsFileError struct {
	Path string
}

func (e *CredentialsFileError) Error() string {
	return fmt.Sprintf("credentials file not found: %s (did the secrets-manager stages complete?)", e.Path)
}

// VaultCredentials is the root credential bundle produced by the init stage.
type VaultCredentials struct {
	Vault struct {
		RootToken  string   `yaml:"root_token"`
		UnsealKeys []string `yaml:"unseal_keys,omitempty"`
	} `yaml:"vault"`
}

// KubernetesAuth carries the Kubernetes-auth trust parameters produced by the
// auth-setup stage.
type KubernetesAuth struct {
	Kubernetes struct {
		Host             string `yaml:"host"`
		TokenReviewerJWT string `yaml:"token_reviewer_jwt"`
		CACert           string `yaml:"ca_cert"`
	} `yaml:"kubernetes"`
}

// LoadVaultCredentials reads and validates the credential bundle. Every
// required field is checked so a partially written file fails fast instead of
// propagating empty values into later stages.
func LoadVaultCredentials(path string) (*VaultCredentials, error) {
	var creds VaultCredentials
	if err := loadYAML(path, &creds); err != nil {
		return nil, err
	}
	if creds.Vault.RootToken == "" {
		return nil, fmt.Errorf("credentials file %s is missing vault.root_token", path)
	}
	return &creds, nil
}

// LoadKubernetesAuth reads and validates the Kubernetes-auth trust
// parameters.
func LoadKubernetesAuth(path string) (*KubernetesAuth, error) {
	var auth KubernetesAuth
	if err := loadYAML(path, &auth); err != nil {
		return nil, err
	}
	if auth.Kubernetes.Host == "" {
		return nil, fmt.Errorf("auth file %s is missing kubernetes.host", path)
	}
	if auth.Kubernetes.TokenReviewerJWT == "" {
		return nil, fmt.Errorf("auth file %s is missing kubernetes.token_reviewer_jwt", path)
	}
	if auth.Kubernetes.CACert == "" {
		return nil, fmt.Errorf("auth file %s is missing kubernetes.ca_cert", path)
	}
	return &auth, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CredentialsFileError{Path: path}
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
