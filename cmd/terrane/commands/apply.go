package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		planFile    string
		autoApprove bool
		parallelism int
		maxRetries  int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the topology",
		Long: `Plan and apply the topology, or execute a previously saved plan.

This command:
  - Generates a plan (or loads one saved by 'plan --out')
  - Shows the change summary and prompts for approval (unless --auto-approve)
  - Executes the plan DAG in parallel, respecting dependencies
  - Retries transient provider failures with exponential backoff
  - Records applied state, the run, and its events in the store`,
		Example: `  # Plan and apply with an approval prompt
  terrane apply

  # Apply without prompting
  terrane apply --auto-approve

  # Execute a saved plan
  terrane apply --plan plan.json --auto-approve

  # Limit concurrent provider operations
  terrane apply --parallelism 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			var plan *engine.Plan
			if planFile != "" {
				plan, err = loadPlanFile(planFile)
			} else {
				var graph *engine.Graph
				_, graph, err = loadGraph()
				if err == nil {
					plan, err = engine.NewPlanner(rt.store).Plan(graph)
				}
			}
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
				ok, err := confirm("Apply these changes?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("Apply cancelled.")
					return nil
				}
			}

			executor := engine.NewExecutor(rt.store, rt.providers, engine.ExecutorOptions{
				Parallelism: parallelism,
				MaxRetries:  maxRetries,
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
			if result.Status == engine.RunStatusFailed || result.Status == engine.RunStatusPartial {
				return fmt.Errorf("run %s finished with status %s", result.RunID, result.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&planFile, "plan", "p", "", "execute a saved plan instead of planning")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	cmd.Flags().IntVar(&parallelism, "parallelism", 10, "max parallel provider operations")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "retry budget per step for transient errors")

	return cmd
}

// loadPlanFile reads a plan saved by 'plan --out'.
func loadPlanFile(path string) (*engine.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan engine.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	return &plan, nil
}

// confirm prompts on stdin for a yes/no answer.
func confirm(prompt string) (bool, error) {
	fmt.Printf("%s Only 'yes' is accepted: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(line) == "yes", nil
}
