package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the conventional name of the local secrets/config
// document, expected in the working directory.
const DefaultConfigFile = "secrets.local.yaml"

// ErrConfigNotFound indicates the backing config document does not exist.
// This is a fatal precondition failure, not a recoverable error.
var ErrConfigNotFound = errors.New("configuration file not found")

// MissingKeyError indicates a required section or key is absent from the
// config document. The bootstrap refuses to run anything without it.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("configuration key %q is missing or empty", e.Key)
}

// Load reads and validates the platform config document at the given path.
// Every required section is checked up front so a malformed document fails
// before any cluster or tool interaction happens.
func Load(path string) (*PlatformConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg PlatformConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks presence of every required key. It returns a
// *MissingKeyError naming the first absent key.
func (c *PlatformConfig) Validate() error {
	if c.Vault.Replicas < 1 {
		return &MissingKeyError{Key: "vault.replicas"}
	}
	if c.Keycloak.AdminPassword == "" {
		return &MissingKeyError{Key: "keycloak.admin_password"}
	}
	if c.Keycloak.PostgresqlPassword == "" {
		return &MissingKeyError{Key: "keycloak.postgresql_password"}
	}
	if len(c.Keycloak.Realms) == 0 {
		return &MissingKeyError{Key: "keycloak.realms"}
	}
	for i, client := range c.Keycloak.Clients {
		if client.ID == "" {
			return &MissingKeyError{Key: fmt.Sprintf("keycloak.clients[%d].id", i)}
		}
	}
	if c.Jenkins.AdminPassword == "" {
		return &MissingKeyError{Key: "jenkins.admin_password"}
	}
	if c.Jenkins.GitURL == "" {
		return &MissingKeyError{Key: "jenkins.git_url"}
	}
	if c.Jenkins.GitBranch == "" {
		return &MissingKeyError{Key: "jenkins.git_branch"}
	}
	if len(c.MongoDB.Environments) == 0 {
		return &MissingKeyError{Key: "mongodb.environments"}
	}
	for env, creds := range c.MongoDB.Environments {
		if creds.Username == "" {
			return &MissingKeyError{Key: fmt.Sprintf("mongodb.environments.%s.username", env)}
		}
		if creds.Password == "" {
			return &MissingKeyError{Key: fmt.Sprintf("mongodb.environments.%s.password", env)}
		}
		if creds.Database == "" {
			return &MissingKeyError{Key: fmt.Sprintf("mongodb.environments.%s.database", env)}
		}
	}
	return nil
}
