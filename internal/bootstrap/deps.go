package bootstrap

import (
	"context"
	"time"

	"bootstrapctl/internal/ansible"
	"bootstrapctl/internal/cluster"
	"bootstrapctl/internal/config"
	"bootstrapctl/internal/helm"
	"bootstrapctl/internal/keycloak"
	"bootstrapctl/internal/kube"
	"bootstrapctl/internal/tunnel"
	"bootstrapctl/internal/vault"
)

// The orchestrator depends on narrow interfaces over the concrete components
// so the stage sequence can be exercised with fakes.

// StageRunner runs one external workflow unit.
type StageRunner interface {
	Run(ctx context.Context, stage ansible.Stage) error
}

// ClusterProvisioner makes the declared cluster exist.
type ClusterProvisioner interface {
	Ensure(ctx context.Context, spec cluster.Spec) error
}

// PackageDeployer installs or upgrades one package release.
type PackageDeployer interface {
	Install(ctx context.Context, rel helm.Release) error
}

// PodWaiter gates progress on pod phase/readiness.
type PodWaiter interface {
	WaitForPodsRunning(ctx context.Context, namespace, labelSelector string, timeout time.Duration) error
	WaitForPodsReady(ctx context.Context, namespace, labelSelector string, timeout time.Duration) error
}

// Tunnel is a live forward that must be closed exactly once by its owner.
type Tunnel interface {
	Close() error
}

// TunnelOpener opens port-forward tunnels to cluster-internal services.
type TunnelOpener interface {
	Open(ctx context.Context, spec tunnel.Spec) (Tunnel, error)
}

// VaultClient is the slice of the secrets-manager API the orchestrator uses.
type VaultClient interface {
	VerifyUnsealed(ctx context.Context) error
	StoreKV(ctx context.Context, mount, path string, data map[string]any) error
}

// VaultDialer builds a VaultClient for a forwarded address. Dialed anew for
// every tunnel scope since the local address only exists while the tunnel is
// open.
type VaultDialer func(address, token string) (VaultClient, error)

// ClientProvisioner fans identity-client definitions out across environments.
type ClientProvisioner interface {
	ProvisionAll(ctx context.Context, clients []config.ClientDefinition, params keycloak.ProvisionParams) error
}

// KubeConnector builds the cluster-facing dependencies. Deferred until after
// cluster provisioning because the kubeconfig context only exists once the
// cluster does.
type KubeConnector func() (PodWaiter, PackageDeployer, error)

// tunnelManagerAdapter narrows *tunnel.Manager to the TunnelOpener interface.
type tunnelManagerAdapter struct {
	m *tunnel.Manager
}

func (a tunnelManagerAdapter) Open(ctx context.Context, spec tunnel.Spec) (Tunnel, error) {
	t, err := a.m.Open(ctx, spec)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// defaultKubeConnector wires the real client-go backed dependencies.
func defaultKubeConnector() (PodWaiter, PackageDeployer, error) {
	client, err := kube.NewClient()
	if err != nil {
		return nil, nil, err
	}
	return client, helm.NewDeployer(client), nil
}

// defaultVaultDialer wires the real secrets-manager API client.
func defaultVaultDialer(address, token string) (VaultClient, error) {
	return vault.NewClient(address, token)
}
