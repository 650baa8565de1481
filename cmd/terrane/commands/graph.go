package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the topology dependency graph",
		Long: `Expand the topology and print its dependency graph in DOT format.

Pipe the output to graphviz to render it.`,
		Example: `  # Print the graph
  terrane graph

  # Render it with graphviz
  terrane graph | dot -Tsvg -o topology.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, graph, err := loadGraph()
			if err != nil {
				return err
			}

			dot := graph.ToDOT()
			if outFile != "" {
				return os.WriteFile(outFile, []byte(dot), 0644)
			}
			fmt.Print(dot)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the graph to a file")

	return cmd
}
