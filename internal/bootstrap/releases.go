package bootstrap

import (
	"fmt"
	"time"

	"bootstrapctl/internal/config"
	"bootstrapctl/internal/helm"
)

// Release definitions for the platform packages. Inline overrides inject
// per-deployment secrets and parameters on top of the checked-in values files
// so secrets never land on disk.

func vaultRelease(replicas int) helm.Release {
	return helm.Release{
		Name:       "vault",
		Chart:      "vault",
		RepoURL:    "https://helm.releases.hashicorp.com",
		Namespace:  "vault",
		ValuesFile: "helm/vault/values.yaml",
		Set: []string{
			fmt.Sprintf("server.ha.replicas=%d", replicas),
		},
		// No wait: sealed replicas never pass readiness, the unseal stage
		// gates instead.
	}
}

func keycloakRelease(cfg config.KeycloakConfig) helm.Release {
	return helm.Release{
		Name:       "keycloak",
		Chart:      "keycloak",
		RepoURL:    "https://charts.bitnami.com/bitnami",
		Namespace:  "keycloak",
		ValuesFile: "helm/keycloak/values.yaml",
		Set: []string{
			"auth.adminPassword=" + cfg.AdminPassword,
			"image.registry=docker.io",
			"image.repository=bitnamilegacy/keycloak",
			"postgresql.image.registry=docker.io",
			"postgresql.image.repository=bitnamilegacy/postgresql",
			"postgresql.auth.password=" + cfg.PostgresqlPassword,
		},
	}
}

func jenkinsRelease(cfg config.JenkinsConfig) helm.Release {
	return helm.Release{
		Name:       "jenkins",
		Chart:      "jenkins",
		RepoURL:    "https://charts.jenkins.io",
		Namespace:  "jenkins",
		ValuesFile: "helm/jenkins/values.yaml",
		Set: []string{
			"controller.admin.password=" + cfg.AdminPassword,
			"controller.containerEnv[0].name=GIT_URL",
			"controller.containerEnv[0].value=" + cfg.GitURL,
			"controller.containerEnv[1].name=GIT_BRANCH",
			"controller.containerEnv[1].value=" + cfg.GitBranch,
			"controller.containerEnv[2].name=REGISTRY",
			"controller.containerEnv[2].value=" + cfg.Registry,
		},
		Wait:    true,
		Timeout: 10 * time.Minute,
	}
}

func mongodbRelease() helm.Release {
	return helm.Release{
		Name:       "mongodb-operator",
		Chart:      "community-operator",
		RepoURL:    "https://mongodb.github.io/helm-charts",
		Namespace:  "mongodb",
		ValuesFile: "helm/mongodb/values.yaml",
		Set: []string{
			// Cluster-scoped: the operator watches workloads in every namespace.
			"operator.watchNamespace=*",
		},
		Wait:    true,
		Timeout: 5 * time.Minute,
	}
}

func externalSecretsRelease() helm.Release {
	return helm.Release{
		Name:       "external-secrets",
		Chart:      "external-secrets",
		RepoURL:    "https://charts.external-secrets.io",
		Namespace:  "external-secrets",
		ValuesFile: "helm/external-secrets/values.yaml",
		Wait:       true,
		Timeout:    5 * time.Minute,
	}
}
