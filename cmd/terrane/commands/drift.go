package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newDriftCommand() *cobra.Command {
	var exitCode bool

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect drift between applied state and live resources",
		Long: `Read each applied resource from the provider and compare it against the
attributes recorded at apply time.

Drift is reported, never auto-corrected: run 'plan' and 'apply' to
reconcile. Resources deleted out-of-band are reported as missing.`,
		Example: `  # Report drift for all applied resources
  terrane drift

  # Exit non-zero when drift is found (for CI)
  terrane drift --exit-code`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			detector := engine.NewDriftDetector(rt.store, rt.providers, rt.tel.Logger, rt.tel.Metrics, rt.tel.Events)
			report, err := detector.Detect(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printDriftReport(report)
			}

			if exitCode && report.Drifted() {
				return fmt.Errorf("drift detected")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "exit non-zero when drift is detected")

	return cmd
}

func printDriftReport(report *engine.DriftReport) {
	if len(report.Entries) == 0 {
		fmt.Println("No applied resources to check.")
		return
	}

	var drifted int
	for i := range report.Entries {
		e := &report.Entries[i]
		switch e.Status {
		case engine.DriftStatusInSync:
			continue
		case engine.DriftStatusDrifted:
			drifted++
			fmt.Printf("  %-9s %-40s fields: %s\n", e.Status, e.ResourceID, strings.Join(e.Fields, ", "))
		default:
			drifted++
			fmt.Printf("  %-9s %s\n", e.Status, e.ResourceID)
		}
	}
	if drifted == 0 {
		fmt.Printf("All %d resources in sync.\n", len(report.Entries))
		return
	}
	fmt.Printf("\n%d of %d resources drifted. Run 'terrane plan' to reconcile.\n", drifted, len(report.Entries))
}
