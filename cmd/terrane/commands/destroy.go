package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newDestroyCommand() *cobra.Command {
	var (
		autoApprove bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete all applied resources",
		Long: `Plan and execute the deletion of every resource in the applied state.

Deletes run in reverse dependency order: a resource is removed only after
everything that references it is gone.`,
		Example: `  # Destroy with an approval prompt
  terrane destroy

  # Destroy without prompting
  terrane destroy --auto-approve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			// An empty graph plans every applied resource for deletion.
			graph, err := engine.NewGraphBuilder().Build(nil)
			if err != nil {
				return err
			}
			plan, err := engine.NewPlanner(rt.store).Plan(graph)
			if err != nil {
				return err
			}

			if err := printPlan(plan); err != nil {
				return err
			}
			if !plan.HasChanges() {
				return nil
			}

			if !autoApprove {
				ok, err := confirm("Destroy all applied resources?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Destroy cancelled.")
					return nil
				}
			}

			executor := engine.NewExecutor(rt.store, rt.providers, engine.ExecutorOptions{
				Parallelism: parallelism,
				Logger:      rt.tel.Logger,
				Metrics:     rt.tel.Metrics,
				Events:      rt.tel.Events,
				Tracer:      rt.tel.Tracer,
			})

			result, err := executor.Apply(ctx, plan)
			if err != nil {
				return err
			}
			if err := saveRun(ctx, rt.store, result); err != nil {
				return err
			}
			if err := printApplyResult(result); err != nil {
				return err
			}
			if result.Status != engine.RunStatusSucceeded {
				return fmt.Errorf("run %s finished with status %s", result.RunID, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	cmd.Flags().IntVar(&parallelism, "parallelism", 10, "max parallel provider operations")

	return cmd
}
