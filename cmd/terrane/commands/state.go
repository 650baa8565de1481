package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect applied state and run history",
	}

	cmd.AddCommand(newStateListCommand())
	cmd.AddCommand(newStateRunsCommand())

	return cmd
}

func newStateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List applied resources",
		Example: `  # List all applied resources
  terrane state list

  # Machine-readable output
  terrane state list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			records, err := rt.store.List()
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(records)
			}
			if len(records) == 0 {
				fmt.Println("No applied resources.")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("  %-40s %-22s applied %s (run %s)\n",
					rec.ID, rec.ProviderID, rec.LastApplied.Format("2006-01-02 15:04:05"), rec.LastRunID)
			}
			return nil
		},
	}
}

func newStateRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Example: `  # Show the last 20 runs
  terrane state runs

  # Show more history
  terrane state runs --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			runs, err := rt.store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("  %-38s %-10s started %s  %s\n",
					run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"), run.Summary)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")

	return cmd
}
