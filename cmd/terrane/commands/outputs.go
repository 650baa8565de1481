package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrane-io/terrane/pkg/engine"
)

func newOutputsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "Print topology outputs from applied state",
		Long: `Resolve the topology's outputs section against applied state.

Each output names a resource attribute (ref://type.name/field); values come
from the attributes recorded at apply time, including provider-assigned ones
like a load balancer's DNS name.`,
		Example: `  # Print outputs after an apply
  terrane outputs

  # Machine-readable output
  terrane outputs --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			topo, err := loadTopologyOnly()
			if err != nil {
				return err
			}
			if len(topo.Outputs) == 0 {
				fmt.Println("Topology declares no outputs.")
				return nil
			}

			outputs, err := engine.ResolveOutputs(rt.store, topo.Outputs)
			if err != nil {
				return err
			}

			if jsonOutput {
				byName := make(map[string]any, len(outputs))
				for _, o := range outputs {
					byName[o.Name] = o.Value
				}
				return printJSON(byName)
			}
			for _, o := range outputs {
				fmt.Printf("  %s = %v\n", o.Name, o.Value)
			}
			return nil
		},
	}
}
