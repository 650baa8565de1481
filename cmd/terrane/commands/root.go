package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	topologyPath string
	statePath    string
	varFlags     []string
	verbose      bool
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "terrane",
		Short: "Terrane - Cloud Topology Reconciliation Engine",
		Long: `Terrane reconciles declarative network topologies against a cloud provider.

It reads resource descriptors for a multi-tier topology (VPC, subnets,
routing, security policy, load balancer, compute pool), builds a dependency
graph, plans the minimal change-set against last-applied state, applies it
through a pluggable provider layer, and keeps load-balancer target-group
membership converged with observed target health.

Features:
  - Declarative YAML topologies with variables and computed expressions
  - Content-hash based diffing: second apply of an unchanged topology is a no-op
  - Parallel DAG execution with per-node retry and backoff
  - Health-gated target attachment (failures stop routing, never delete)
  - Drift detection against live provider state
  - SQLite-backed applied state, run history, and event log`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&topologyPath, "file", "f", "topology.yaml", "topology file path")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "terrane.db", "state database path")
	rootCmd.PersistentFlags().StringArrayVar(&varFlags, "var", nil, "set a topology variable (name=value)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newOutputsCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newAttachCommand())

	return rootCmd
}
