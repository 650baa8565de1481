package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/terrane-io/terrane/pkg/resource"
)

// GraphBuilder builds a dependency DAG from expanded resource descriptors.
// It validates references, detects cycles, and computes a deterministic
// topological ordering.
type GraphBuilder struct {
	// nodes maps resource IDs to their graph nodes
	nodes map[resource.ID]*Node

	// inDegree tracks the number of incoming edges for each node
	inDegree map[resource.ID]int
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes:    make(map[resource.ID]*Node),
		inDegree: make(map[resource.ID]int),
	}
}

// Build constructs the dependency graph from expanded descriptors. It fails
// on duplicate IDs, references to undeclared resources, and cycles; a cycle
// error names every resource on the cycle path.
func (b *GraphBuilder) Build(descs []*resource.Descriptor) (*Graph, error) {
	// First pass: index all descriptors
	for _, d := range descs {
		id := d.ID()
		if d.Name == "" {
			return nil, NewPermanentError(fmt.Sprintf("resource of type %s has empty name", d.Type), nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := b.nodes[id]; exists {
			return nil, NewPermanentError(fmt.Sprintf("duplicate resource: %s", id), nil).
				WithCode(ErrCodeDuplicate).WithResource(string(id))
		}
		b.nodes[id] = &Node{Desc: d}
		b.inDegree[id] = 0
	}

	// Second pass: resolve references into edges
	for id, node := range b.nodes {
		for _, target := range node.Desc.References() {
			if _, exists := b.nodes[target]; !exists {
				return nil, NewPermanentError(
					fmt.Sprintf("resource %s references undeclared resource %s", id, target),
					nil,
				).WithCode(ErrCodeUnknownReference).WithResource(string(id))
			}
			if target == id {
				return nil, NewPermanentError(
					fmt.Sprintf("circular dependency detected: %s -> %s", id, id),
					nil,
				).WithCode(ErrCodeCycle).WithResource(string(id))
			}
			node.DependsOn = appendUniqueID(node.DependsOn, target)
		}
		sortIDs(node.DependsOn)
	}
	for id, node := range b.nodes {
		for _, dep := range node.DependsOn {
			b.nodes[dep].Dependents = appendUniqueID(b.nodes[dep].Dependents, id)
			b.inDegree[id]++
		}
	}
	for _, node := range b.nodes {
		sortIDs(node.Dependents)
	}

	if cycle := b.findCycle(); len(cycle) > 0 {
		return nil, NewPermanentError(
			fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
			nil,
		).WithCode(ErrCodeCycle)
	}

	order, err := b.topoOrder()
	if err != nil {
		return nil, err
	}

	return &Graph{Nodes: b.nodes, order: order}, nil
}

// findCycle runs DFS over dependency edges and returns the first cycle path
// found, or nil. Start nodes are visited in sorted order so the reported
// cycle is stable.
func (b *GraphBuilder) findCycle() []resource.ID {
	visited := make(map[resource.ID]bool)
	onStack := make(map[resource.ID]bool)

	ids := make([]resource.ID, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)

	var dfs func(id resource.ID, path []resource.ID) []resource.ID
	dfs = func(id resource.ID, path []resource.ID) []resource.ID {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range b.nodes[id].DependsOn {
			if !visited[dep] {
				if cycle := dfs(dep, path); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				// Found a cycle. Trim the path to its start so the
				// error names exactly the resources on the loop.
				for i, p := range path {
					if p == dep {
						return append(path[i:], dep)
					}
				}
			}
		}

		onStack[id] = false
		return nil
	}

	for _, id := range ids {
		if !visited[id] {
			if cycle := dfs(id, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoOrder runs Kahn's algorithm. The ready set is kept sorted so two runs
// over the same descriptors always produce the same ordering.
func (b *GraphBuilder) topoOrder() ([]resource.ID, error) {
	inDegree := make(map[resource.ID]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	ready := make([]resource.ID, 0)
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	order := make([]resource.ID, 0, len(b.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := make([]resource.ID, 0)
		for _, dep := range b.nodes[id].Dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sortIDs(ready)
		}
	}

	// Cycle detection already ran, so this indicates a builder bug.
	if len(order) != len(b.nodes) {
		return nil, NewPermanentError("failed to order all resources", nil).
			WithCode(ErrCodeInternal)
	}

	return order, nil
}

// ToDOT generates a DOT format representation of the graph for visualization.
// The output can be rendered with Graphviz tools.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph resources {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, id := range g.order {
		sb.WriteString(fmt.Sprintf("  %q [label=%q];\n", string(id), string(id)))
	}
	sb.WriteString("\n")
	for _, id := range g.order {
		for _, dep := range g.Nodes[id].DependsOn {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", string(dep), string(id)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []resource.ID) string {
	if len(cycle) == 0 {
		return ""
	}
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}

func appendUniqueID(ids []resource.ID, id resource.ID) []resource.ID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func sortIDs(ids []resource.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
