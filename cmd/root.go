package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bootstrapctl",
	Short: "Bootstrap the platform on a local k3d cluster",
	Long: `bootstrapctl provisions a local k3d cluster and brings up the platform
services on it: HashiCorp Vault, Keycloak, Jenkins, the MongoDB community
operator and the External Secrets operator. Service configuration runs through
Ansible stages and Terraform, with port-forward tunnels opened on demand for
anything only reachable inside the cluster.`,
	// SilenceUsage prevents printing the usage message on errors handled by us
	// (failed stages, missing tools).
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "bootstrapctl version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newBootstrapCmd())
	rootCmd.AddCommand(newVersionCmd())
}
