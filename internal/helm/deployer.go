package helm

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/cli/values"
	"helm.sh/helm/v3/pkg/getter"
	helmdriver "helm.sh/helm/v3/pkg/storage/driver"

	"bootstrapctl/pkg/logging"
)

// Release declares one package deployment into the cluster.
type Release struct {
	// Name is the release name, e.g. "vault".
	Name string
	// Chart is the chart name within the repository, e.g. "vault".
	Chart string
	// RepoURL is the chart repository. The chart is located directly against
	// it, which makes repository registration implicit and idempotent.
	RepoURL string
	// Namespace is created if absent before the install.
	Namespace string
	// ValuesFile is an optional on-disk value overlay.
	ValuesFile string
	// Set is an ordered sequence of key=value pairs layered on top of the
	// values file. Used to inject per-deployment secrets and structured
	// array-style overrides without editing the file.
	Set []string
	// Wait blocks until the release's resources are ready. Left off for
	// services that cannot become ready right after install (e.g. the secrets
	// manager before unsealing).
	Wait bool
	// Timeout bounds the install when Wait is set.
	Timeout time.Duration
}

// NamespaceEnsurer creates a namespace when absent.
type NamespaceEnsurer interface {
	EnsureNamespace(ctx context.Context, name string) error
}

// Deployer installs or upgrades Helm releases. Every call is an
// upgrade-or-install, so repeated deployments converge on the same release.
type Deployer struct {
	Namespaces NamespaceEnsurer
	// KubeConfig optionally overrides the kubeconfig path used by Helm.
	KubeConfig string
}

// NewDeployer returns a Deployer that ensures namespaces through the given
// ensurer.
func NewDeployer(namespaces NamespaceEnsurer) *Deployer {
	return &Deployer{Namespaces: namespaces}
}

// Install deploys the release, upgrading it when it already exists.
func (d *Deployer) Install(ctx context.Context, rel Release) error {
	logging.Info("helm", "Deploying release %s (chart %s) into namespace %s...", rel.Name, rel.Chart, rel.Namespace)

	if err := d.Namespaces.EnsureNamespace(ctx, rel.Namespace); err != nil {
		return err
	}

	settings := cli.New()
	if d.KubeConfig != "" {
		settings.KubeConfig = d.KubeConfig
	}
	settings.SetNamespace(rel.Namespace)

	cfg := new(action.Configuration)
	if err := cfg.Init(settings.RESTClientGetter(), rel.Namespace, "secret", func(format string, v ...any) {
		logging.Debug("helm", format, v...)
	}); err != nil {
		return fmt.Errorf("init helm configuration: %w", err)
	}

	cpo := action.ChartPathOptions{RepoURL: rel.RepoURL}
	chartPath, err := cpo.LocateChart(rel.Chart, settings)
	if err != nil {
		return fmt.Errorf("locate chart %s: %w", rel.Chart, err)
	}
	ch, err := loader.Load(chartPath)
	if err != nil {
		return fmt.Errorf("load chart %s: %w", rel.Chart, err)
	}

	vals, err := buildValues(settings, rel)
	if err != nil {
		return err
	}

	up := action.NewUpgrade(cfg)
	up.Namespace = rel.Namespace
	up.Wait = rel.Wait
	up.Timeout = rel.Timeout

	if _, err := up.RunWithContext(ctx, rel.Name, ch, vals); err != nil {
		// First deployment: the release doesn't exist yet, install instead.
		if stdErrors.Is(err, helmdriver.ErrNoDeployedReleases) || stdErrors.Is(err, helmdriver.ErrReleaseNotFound) {
			in := action.NewInstall(cfg)
			in.Namespace = rel.Namespace
			in.ReleaseName = rel.Name
			in.Wait = rel.Wait
			in.Timeout = rel.Timeout
			if _, ierr := in.RunWithContext(ctx, ch, vals); ierr != nil {
				return fmt.Errorf("helm install %s: %w", rel.Name, ierr)
			}
			logging.Info("helm", "Release %s installed", rel.Name)
			return nil
		}
		return fmt.Errorf("helm upgrade %s: %w", rel.Name, err)
	}

	logging.Info("helm", "Release %s upgraded", rel.Name)
	return nil
}

// buildValues merges the on-disk values file with the ordered inline
// overrides, later entries winning.
func buildValues(settings *cli.EnvSettings, rel Release) (map[string]any, error) {
	valueOpts := &values.Options{Values: rel.Set}
	if rel.ValuesFile != "" {
		valueOpts.ValueFiles = []string{rel.ValuesFile}
	}
	vals, err := valueOpts.MergeValues(getter.All(settings))
	if err != nil {
		return nil, fmt.Errorf("merge values for release %s: %w", rel.Name, err)
	}
	return vals, nil
}
