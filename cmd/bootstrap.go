package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bootstrapctl/internal/bootstrap"
	"bootstrapctl/internal/cluster"
	"bootstrapctl/pkg/logging"
)

// debugLogFile is the file sink added under --debug, truncated on each run.
const debugLogFile = "bootstrap.log"

// Exit codes of the run subcommand.
const (
	exitFailure   = 1
	exitInterrupt = 130
)

func newBootstrapCmd() *cobra.Command {
	var (
		clusterName  string
		servers      int
		agents       int
		skipCluster  bool
		debug        bool
		configFile   string
		triggerBuild bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full platform bring-up sequence",
		Long: `Runs the bootstrap sequence end to end: cluster provisioning, Vault
deployment with init/unseal, Terraform-managed Vault configuration, Keycloak
with per-environment identity clients, Jenkins, the MongoDB operator and the
External Secrets operator.

Stages run strictly in order and the first failure aborts the run. Re-running
is safe: the cluster, package installs and stages are idempotent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				closeLog, err := logging.InitForDebug(os.Stdout, debugLogFile)
				if err != nil {
					return err
				}
				defer closeLog()
			} else {
				logging.InitForCLI(logging.LevelInfo, os.Stdout)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch := bootstrap.New(bootstrap.Options{
				Cluster: cluster.Spec{
					Name:         clusterName,
					Servers:      servers,
					Agents:       agents,
					SkipIfExists: skipCluster,
				},
				ConfigFile:   configFile,
				TriggerBuild: triggerBuild,
				Verbose:      debug,
			})

			err := orch.Run(ctx)
			if err == nil {
				return nil
			}

			// The run loop is the single place errors surface: interrupts get
			// their own exit code, expected orchestration failures a clean
			// one-liner, anything else the full detail.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logging.Warn("bootstrap", "Interrupted by user")
				os.Exit(exitInterrupt)
			}
			if bootstrap.IsExpectedError(err) {
				logging.Error("bootstrap", nil, "Bootstrap failed: %v", err)
			} else {
				logging.Error("bootstrap", err, "Unexpected error during bootstrap")
			}
			os.Exit(exitFailure)
			return nil
		},
	}

	cmd.Flags().StringVar(&clusterName, "cluster-name", "cka", "Name of the k3d cluster")
	cmd.Flags().IntVar(&servers, "servers", 1, "Number of server nodes")
	cmd.Flags().IntVar(&agents, "agents", 2, "Number of agent nodes")
	cmd.Flags().BoolVar(&skipCluster, "skip-cluster", false, "Reuse the cluster if it already exists, without prompting")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to console and "+debugLogFile)
	cmd.Flags().StringVar(&configFile, "config", "", "Path to the platform config document (default secrets.local.yaml)")
	cmd.Flags().BoolVar(&triggerBuild, "trigger-build", false, "Trigger an initial build for the default environment after bring-up")

	return cmd
}
