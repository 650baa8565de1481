package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the topology file",
		Long: `Validate the topology without touching the provider or state:

  - YAML structure and declaration fields
  - Resource types and per-type constraints
  - Variable substitution and expression evaluation
  - Reference resolution (unknown references, duplicates, cycles)`,
		Example: `  # Validate the default topology file
  terrane validate

  # Validate a specific file with a variable override
  terrane validate -f prod.yaml --var instance_count=5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, graph, err := loadGraph()
			if err != nil {
				return err
			}
			fmt.Printf("Topology is valid: %d resources after expansion.\n", graph.Len())
			return nil
		},
	}
}
