package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		outFile string
		dotFile string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate execution plan",
		Long: `Generate an execution plan by comparing the topology with applied state.

The plan:
  - Expands counted declarations into independent resources
  - Builds the dependency graph from attribute references
  - Diffs each resource's content hash against the applied record
  - Orders creates topologically and deletes in reverse dependency order`,
		Example: `  # Show the plan for the default topology file
  terrane plan

  # Plan a specific topology and save the plan for apply
  terrane plan -f prod.yaml --out plan.json

  # Override a topology variable
  terrane plan --var instance_count=5

  # Write the dependency graph alongside the plan
  terrane plan --out plan.json --dot topology.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			_, graph, err := loadGraph()
			if err != nil {
				return err
			}

			plan, err := engine.NewPlanner(rt.store).Plan(graph)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(graph.ToDOT()), 0644); err != nil {
					return fmt.Errorf("failed to write graph file: %w", err)
				}
				log.Info().Str("path", dotFile).Msg("Wrote dependency graph")
			}

			if outFile != "" {
				data, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, data, 0644); err != nil {
					return fmt.Errorf("failed to write plan file: %w", err)
				}
				log.Info().Str("path", outFile).Str("plan_id", plan.ID).Msg("Saved plan")
			}

			return printPlan(plan)
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "save the plan to a file for apply")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph in DOT format")

	return cmd
}
