// Package bootstrap sequences the platform bring-up: cluster, secrets
// manager, identity provider, CI controller, database and secret-sync
// operators. Stages run strictly in dependency order; each one assumes
// everything before it completed.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"bootstrapctl/internal/ansible"
	"bootstrapctl/internal/cluster"
	"bootstrapctl/internal/config"
	"bootstrapctl/internal/execx"
	"bootstrapctl/internal/keycloak"
	"bootstrapctl/internal/state"
	"bootstrapctl/internal/tunnel"
	"bootstrapctl/internal/vault"
	"bootstrapctl/pkg/logging"
)

const (
	playbookVerifyCluster     = "ansible/verify-cluster.yml"
	playbookVaultInit         = "ansible/vault/init.yml"
	playbookVaultUnseal       = "ansible/vault/unseal.yml"
	playbookVaultK8sAuth      = "ansible/vault/setup-k8s-auth.yml"
	playbookStoreSecrets      = "ansible/vault/store-secrets.yml"
	playbookKeycloakConfigure = "ansible/keycloak/configure.yml"
	playbookJenkinsConfigure  = "ansible/jenkins/configure.yml"
	playbookTriggerBuild      = "ansible/jenkins/trigger-build.yml"
)

const (
	localVaultAddr   = "http://localhost:8200"
	localKeycloakURL = "http://localhost:8080"
	localJenkinsURL  = "http://localhost:8080"

	podWaitTimeout     = 5 * time.Minute
	jenkinsWaitTimeout = 10 * time.Minute
)

// requiredTools are the external dependencies verified before any stage runs.
// Each is probed independently; the first missing one aborts the run.
var requiredTools = []struct {
	name  string
	probe []string
}{
	{"k3d", []string{"version"}},
	{"kubectl", []string{"version", "--client"}},
	{"helm", []string{"version"}},
	{"ansible-playbook", []string{"--version"}},
	{"terraform", []string{"version"}},
}

// Options are the run parameters supplied from the CLI.
type Options struct {
	Cluster cluster.Spec
	// ConfigFile is the platform configuration document. Defaults to
	// config.DefaultConfigFile.
	ConfigFile string
	// CredentialsFile and KubernetesAuthFile are the handoff files produced by
	// the secrets-manager stages.
	CredentialsFile    string
	KubernetesAuthFile string
	// TerraformDir holds the declarative secrets-manager configuration.
	TerraformDir string
	// TriggerBuild appends the build-and-publish stage after bring-up.
	TriggerBuild bool
	// Verbose streams stage output and is propagated to every playbook run.
	Verbose bool
}

func withDefaults(opts Options) Options {
	if opts.ConfigFile == "" {
		opts.ConfigFile = config.DefaultConfigFile
	}
	if opts.CredentialsFile == "" {
		opts.CredentialsFile = state.DefaultCredentialsFile
	}
	if opts.KubernetesAuthFile == "" {
		opts.KubernetesAuthFile = state.DefaultKubernetesAuthFile
	}
	if opts.TerraformDir == "" {
		opts.TerraformDir = "terraform/vault"
	}
	return opts
}

// Orchestrator runs the full bootstrap sequence. One Orchestrator serves one
// run; the config and credentials it loads are scoped to that run.
type Orchestrator struct {
	opts Options

	runner    execx.Runner
	stages    StageRunner
	clusters  ClusterProvisioner
	tunnels   TunnelOpener
	connect   KubeConnector
	dialVault VaultDialer
	clients   ClientProvisioner

	// populated as the run progresses
	pods     PodWaiter
	deployer PackageDeployer
	cfg      *config.PlatformConfig
	creds    *state.VaultCredentials
	auth     *state.KubernetesAuth
}

// New wires an Orchestrator with the real component implementations.
func New(opts Options) *Orchestrator {
	runner := execx.ExecRunner{}
	executor := ansible.NewExecutor(runner)
	return &Orchestrator{
		opts:      withDefaults(opts),
		runner:    runner,
		stages:    executor,
		clusters:  cluster.NewProvisioner(runner, &cluster.TerminalConfirm{In: os.Stdin, Out: os.Stdout}),
		tunnels:   tunnelManagerAdapter{m: &tunnel.Manager{}},
		connect:   defaultKubeConnector,
		dialVault: defaultVaultDialer,
		clients:   keycloak.NewProvisioner(executor),
	}
}

// Run executes the whole sequence. The first failing stage aborts the run;
// nothing is rolled back. Re-running is safe because cluster provisioning,
// package installs and stages are all idempotent.
func (o *Orchestrator) Run(ctx context.Context) error {
	cfg, err := config.Load(o.opts.ConfigFile)
	if err != nil {
		return err
	}
	o.cfg = cfg

	if err := o.checkPrerequisites(ctx); err != nil {
		return err
	}
	if err := o.clusters.Ensure(ctx, o.opts.Cluster); err != nil {
		return err
	}

	// The kubeconfig context for the cluster only exists from here on.
	pods, deployer, err := o.connect()
	if err != nil {
		return err
	}
	o.pods, o.deployer = pods, deployer

	if err := o.runStage(ctx, playbookVerifyCluster, nil); err != nil {
		return err
	}
	if err := o.setupVault(ctx); err != nil {
		return err
	}
	if err := o.loadHandoffFiles(); err != nil {
		return err
	}
	if err := o.applyTerraform(ctx); err != nil {
		return err
	}
	if err := o.storeApplicationSecrets(ctx); err != nil {
		return err
	}
	if err := o.setupKeycloak(ctx); err != nil {
		return err
	}
	if err := o.setupJenkins(ctx); err != nil {
		return err
	}
	if err := o.setupMongoDB(ctx); err != nil {
		return err
	}
	if err := o.setupExternalSecrets(ctx); err != nil {
		return err
	}
	if o.opts.TriggerBuild {
		if err := o.triggerBuild(ctx); err != nil {
			return err
		}
	}

	o.logSummary()
	return nil
}

func (o *Orchestrator) checkPrerequisites(ctx context.Context) error {
	logging.Info("bootstrap", "Checking prerequisites...")
	for _, tool := range requiredTools {
		if err := execx.CheckTool(ctx, o.runner, tool.name, tool.probe...); err != nil {
			return err
		}
		logging.Debug("bootstrap", "Found required tool: %s", tool.name)
	}
	return nil
}

// setupVault deploys the secrets manager and takes it from sealed to trusted:
// pods Running, init, unseal every replica, pods Ready, Kubernetes auth. The
// Running and Ready gates are distinct because a sealed replica runs without
// ever passing readiness.
func (o *Orchestrator) setupVault(ctx context.Context) error {
	if err := o.deployer.Install(ctx, vaultRelease(o.cfg.Vault.Replicas)); err != nil {
		return err
	}
	if err := o.pods.WaitForPodsRunning(ctx, "vault", "app.kubernetes.io/name=vault", podWaitTimeout); err != nil {
		return err
	}
	if err := o.runStage(ctx, playbookVaultInit, nil); err != nil {
		return err
	}
	if err := o.runStage(ctx, playbookVaultUnseal, map[string]any{
		"vault_replicas": o.cfg.Vault.Replicas,
	}); err != nil {
		return err
	}
	if err := o.pods.WaitForPodsReady(ctx, "vault", "app.kubernetes.io/name=vault", podWaitTimeout); err != nil {
		return err
	}
	return o.runStage(ctx, playbookVaultK8sAuth, nil)
}

// loadHandoffFiles reads the credential bundle and Kubernetes-auth trust
// parameters persisted by the init and auth-setup stages. Absence of either
// file means an earlier stage did not complete.
func (o *Orchestrator) loadHandoffFiles() error {
	creds, err := state.LoadVaultCredentials(o.opts.CredentialsFile)
	if err != nil {
		return err
	}
	auth, err := state.LoadKubernetesAuth(o.opts.KubernetesAuthFile)
	if err != nil {
		return err
	}
	o.creds, o.auth = creds, auth
	return nil
}

// applyTerraform runs the declarative secrets-manager configuration through a
// tunnel to the first replica. The seal status is verified through the same
// tunnel first so a sealed or uninitialized replica fails here rather than
// mid-apply.
func (o *Orchestrator) applyTerraform(ctx context.Context) error {
	if _, err := os.Stat(o.opts.TerraformDir); err != nil {
		return fmt.Errorf("terraform directory not found: %s", o.opts.TerraformDir)
	}

	logging.Info("bootstrap", "Applying Terraform configuration in %s...", o.opts.TerraformDir)

	spec := tunnel.Spec{Namespace: "vault", Target: "vault-0", LocalPort: 8200, RemotePort: 8200}
	return o.withTunnels(ctx, []tunnel.Spec{spec}, func(ctx context.Context) error {
		client, err := o.dialVault(localVaultAddr, o.creds.Vault.RootToken)
		if err != nil {
			return err
		}
		if err := client.VerifyUnsealed(ctx); err != nil {
			return err
		}

		env := map[string]string{
			"VAULT_ADDR":       localVaultAddr,
			"VAULT_TOKEN":      o.creds.Vault.RootToken,
			"TF_IN_AUTOMATION": "true",
		}
		if _, err := o.runner.Run(ctx, execx.Command{
			Name: "terraform",
			Args: []string{"init"},
			Dir:  o.opts.TerraformDir,
			Env:  env,
		}); err != nil {
			return err
		}
		_, err = o.runner.Run(ctx, execx.Command{
			Name: "terraform",
			Args: []string{
				"apply", "-auto-approve",
				"-var", "vault_addr=" + localVaultAddr,
				"-var", "vault_token=" + o.creds.Vault.RootToken,
				"-var", "kubernetes_host=" + o.auth.Kubernetes.Host,
				"-var", "token_reviewer_jwt=" + o.auth.Kubernetes.TokenReviewerJWT,
				"-var", "kubernetes_ca_cert=" + o.auth.Kubernetes.CACert,
			},
			Dir: o.opts.TerraformDir,
			Env: env,
		})
		return err
	})
}

func (o *Orchestrator) storeApplicationSecrets(ctx context.Context) error {
	spec := vaultServiceTunnel(5 * time.Second)
	return o.withTunnels(ctx, []tunnel.Spec{spec}, func(ctx context.Context) error {
		vars := map[string]any{"vault_token": o.creds.Vault.RootToken}
		if o.cfg.ExternalSecrets.PollInterval != "" {
			vars["poll_interval"] = o.cfg.ExternalSecrets.PollInterval
		}
		return o.runStage(ctx, playbookStoreSecrets, vars)
	})
}

// setupKeycloak deploys the identity provider and configures it through dual
// tunnels: realm/role/user configuration first, then the per-environment
// client fan-out.
func (o *Orchestrator) setupKeycloak(ctx context.Context) error {
	if err := o.deployer.Install(ctx, keycloakRelease(o.cfg.Keycloak)); err != nil {
		return err
	}
	if err := o.pods.WaitForPodsReady(ctx, "keycloak", "app.kubernetes.io/name=keycloak", podWaitTimeout); err != nil {
		return err
	}

	specs := []tunnel.Spec{
		vaultServiceTunnel(5 * time.Second),
		{Namespace: "keycloak", Target: "svc/keycloak", LocalPort: 8080, RemotePort: 80, Settle: 5 * time.Second},
	}
	return o.withTunnels(ctx, specs, func(ctx context.Context) error {
		if err := o.runStage(ctx, playbookKeycloakConfigure, map[string]any{
			"vault_token": o.creds.Vault.RootToken,
		}); err != nil {
			return err
		}
		return o.clients.ProvisionAll(ctx, o.cfg.Keycloak.Clients, keycloak.ProvisionParams{
			Realms:        o.cfg.Keycloak.Realms,
			AdminPassword: o.cfg.Keycloak.AdminPassword,
			RootToken:     o.creds.Vault.RootToken,
			KeycloakURL:   localKeycloakURL,
			VaultURL:      localVaultAddr,
			Verbose:       o.opts.Verbose,
		})
	})
}

func (o *Orchestrator) setupJenkins(ctx context.Context) error {
	if err := o.deployer.Install(ctx, jenkinsRelease(o.cfg.Jenkins)); err != nil {
		return err
	}
	if err := o.pods.WaitForPodsReady(ctx, "jenkins", "app.kubernetes.io/component=jenkins-controller", jenkinsWaitTimeout); err != nil {
		return err
	}

	specs := []tunnel.Spec{
		vaultServiceTunnel(10 * time.Second),
		{Namespace: "jenkins", Target: "svc/jenkins", LocalPort: 8080, RemotePort: 8080, Settle: 10 * time.Second},
	}
	return o.withTunnels(ctx, specs, func(ctx context.Context) error {
		return o.runStage(ctx, playbookJenkinsConfigure, map[string]any{
			"vault_token": o.creds.Vault.RootToken,
		})
	})
}

// setupMongoDB deploys the cluster-scoped database operator and stores each
// environment's database credentials in the secrets manager.
func (o *Orchestrator) setupMongoDB(ctx context.Context) error {
	if err := o.deployer.Install(ctx, mongodbRelease()); err != nil {
		return err
	}
	if err := o.pods.WaitForPodsReady(ctx, "mongodb", "name=mongodb-kubernetes-operator", podWaitTimeout); err != nil {
		return err
	}

	for _, env := range sortedEnvironments(o.cfg.MongoDB.Environments) {
		envCfg := o.cfg.MongoDB.Environments[env]
		spec := vaultServiceTunnel(5 * time.Second)
		err := o.withTunnels(ctx, []tunnel.Spec{spec}, func(ctx context.Context) error {
			client, err := o.dialVault(localVaultAddr, o.creds.Vault.RootToken)
			if err != nil {
				return err
			}
			logging.Info("bootstrap", "Storing MongoDB credentials for environment %s", env)
			return client.StoreKV(ctx, vault.DefaultKVMount, env+"/mongodb", map[string]any{
				"username": envCfg.Username,
				"password": envCfg.Password,
				"database": envCfg.Database,
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) setupExternalSecrets(ctx context.Context) error {
	if err := o.deployer.Install(ctx, externalSecretsRelease()); err != nil {
		return err
	}
	return o.pods.WaitForPodsReady(ctx, "external-secrets", "app.kubernetes.io/name=external-secrets", podWaitTimeout)
}

func (o *Orchestrator) triggerBuild(ctx context.Context) error {
	environment := o.cfg.Keycloak.DefaultRealm
	if environment == "" && len(o.cfg.Keycloak.Realms) > 0 {
		environment = o.cfg.Keycloak.Realms[0]
	}
	logging.Info("bootstrap", "Triggering initial build for environment %s", environment)

	spec := tunnel.Spec{Namespace: "jenkins", Target: "svc/jenkins", LocalPort: 8080, RemotePort: 8080, Settle: 10 * time.Second}
	return o.withTunnels(ctx, []tunnel.Spec{spec}, func(ctx context.Context) error {
		return o.runStage(ctx, playbookTriggerBuild, map[string]any{
			"environment":      environment,
			"jenkins_password": o.cfg.Jenkins.AdminPassword,
			"jenkins_url":      localJenkinsURL,
		})
	})
}

// withTunnels opens the given tunnels in order and guarantees every opened one
// is closed in reverse-acquisition order when fn returns, on every exit path.
func (o *Orchestrator) withTunnels(ctx context.Context, specs []tunnel.Spec, fn func(context.Context) error) error {
	opened := make([]Tunnel, 0, len(specs))
	defer func() {
		for i := len(opened) - 1; i >= 0; i-- {
			if err := opened[i].Close(); err != nil {
				logging.Warn("bootstrap", "Failed to stop port-forward: %v", err)
			}
		}
	}()
	for _, spec := range specs {
		t, err := o.tunnels.Open(ctx, spec)
		if err != nil {
			return err
		}
		opened = append(opened, t)
	}
	return fn(ctx)
}

func (o *Orchestrator) runStage(ctx context.Context, playbook string, vars map[string]any) error {
	return o.stages.Run(ctx, ansible.Stage{
		Playbook: playbook,
		Vars:     vars,
		Verbose:  o.opts.Verbose,
	})
}

func (o *Orchestrator) logSummary() {
	logging.Info("bootstrap", "Bootstrap complete: infrastructure ready")
	logging.Info("bootstrap", "Vault URL: %s (use kubectl port-forward)", localVaultAddr)
	logging.Info("bootstrap", "Keycloak URL: %s (use kubectl port-forward)", localKeycloakURL)
	logging.Info("bootstrap", "Keycloak admin: admin / %s", o.cfg.Keycloak.AdminPassword)
	logging.Info("bootstrap", "Jenkins URL: %s (use kubectl port-forward)", localJenkinsURL)
	logging.Info("bootstrap", "Jenkins admin: admin / %s", o.cfg.Jenkins.AdminPassword)
}

func vaultServiceTunnel(settle time.Duration) tunnel.Spec {
	return tunnel.Spec{
		Namespace:  "vault",
		Target:     "svc/vault",
		LocalPort:  8200,
		RemotePort: 8200,
		Settle:     settle,
	}
}

func sortedEnvironments(m map[string]config.MongoDBEnvironment) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
