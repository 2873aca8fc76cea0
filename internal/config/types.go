package config

// PlatformConfig is the parsed local secrets/config document. It is loaded
// once before any stage runs and is read-only afterwards; no stage mutates it.
type PlatformConfig struct {
	Vault           VaultConfig           `yaml:"vault"`
	Keycloak        KeycloakConfig        `yaml:"keycloak"`
	Jenkins         JenkinsConfig         `yaml:"jenkins"`
	MongoDB         MongoDBConfig         `yaml:"mongodb"`
	ExternalSecrets ExternalSecretsConfig `yaml:"external_secrets"`
}

// VaultConfig holds settings for the secrets manager deployment.
type VaultConfig struct {
	// Replicas is the HA replica count. Unseal must be applied to every replica.
	Replicas int `yaml:"replicas"`
}

// KeycloakConfig holds settings for the identity provider deployment and the
// identity clients to provision in it.
type KeycloakConfig struct {
	AdminPassword      string `yaml:"admin_password"`
	PostgresqlPassword string `yaml:"postgresql_password"`
	// Realms is the full set of declared identity realms, one per target
	// environment (e.g. dev, staging, prod).
	Realms       []string           `yaml:"realms"`
	DefaultRealm string             `yaml:"default_realm,omitempty"`
	Clients      []ClientDefinition `yaml:"clients,omitempty"`
}

// ClientDefinition declares one identity client to be provisioned, possibly
// across several environments. The provisioner expands it into one call per
// resolved environment.
type ClientDefinition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Public marks a public (non-confidential) client. Public clients keep
	// their base id in every environment; confidential clients get an
	// environment suffix.
	Public bool `yaml:"public"`
	// Environments is the explicit target environment list. When empty, the
	// environments are derived from RedirectURIs, then WebOrigins, then the
	// declared realm set.
	Environments []string            `yaml:"environments,omitempty"`
	RedirectURIs map[string][]string `yaml:"redirect_uris,omitempty"`
	WebOrigins   map[string][]string `yaml:"web_origins,omitempty"`
}

// JenkinsConfig holds settings for the CI controller deployment.
type JenkinsConfig struct {
	AdminPassword string `yaml:"admin_password"`
	GitURL        string `yaml:"git_url"`
	GitBranch     string `yaml:"git_branch"`
	Registry      string `yaml:"registry,omitempty"`
}

// MongoDBConfig holds per-environment database credentials. They are stored
// in the secrets manager once the database operator is deployed.
type MongoDBConfig struct {
	Environments map[string]MongoDBEnvironment `yaml:"environments"`
}

// MongoDBEnvironment is one environment's database credential set.
type MongoDBEnvironment struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ExternalSecretsConfig holds settings for the secret-sync operator. It
// currently carries no required keys; the deployment is driven by its values
// file.
type ExternalSecretsConfig struct {
	PollInterval string `yaml:"poll_interval,omitempty"`
}
