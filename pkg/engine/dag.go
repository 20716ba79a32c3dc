package engine

import (
	"context"
	"fmt"
	"strings"
)

// graphIndex is an adjacency view of a rule graph built from its edge list.
type graphIndex struct {
	// ids lists every node id in sorted order
	ids []string

	// adjacencyList maps node ids to the nodes they feed
	adjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int
}

func newGraphIndex(reg *ComponentRegistry, edges []Edge) *graphIndex {
	g := &graphIndex{
		ids:           reg.IDs(),
		adjacencyList: make(map[string][]string),
		inDegree:      make(map[string]int),
	}
	SortNodeIDs(g.ids)
	for _, id := range g.ids {
		g.adjacencyList[id] = make([]string, 0)
		g.inDegree[id] = 0
	}
	for _, e := range edges {
		g.adjacencyList[e.From] = append(g.adjacencyList[e.From], e.To)
		g.inDegree[e.To]++
	}
	return g
}

// AcyclicValidator rejects graphs containing a cycle.
type AcyclicValidator struct{}

// Name implements Validator.
func (AcyclicValidator) Name() string { return "check_is_dag" }

// Validate implements Validator.
func (AcyclicValidator) Validate(_ context.Context, in ValidationInput) (bool, string) {
	g := newGraphIndex(in.Registry, in.Edges)
	if cycle := g.detectCycle(); cycle != nil {
		return false, fmt.Sprintf("graph is not a DAG: %s", formatCycle(cycle))
	}
	return true, ""
}

// detectCycle uses depth-first search and returns the first cycle found.
func (g *graphIndex) detectCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range g.ids {
		if !visited[id] {
			if cycle := g.detectCycleUtil(id, visited, recStack, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *graphIndex) detectCycleUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, next := range g.adjacencyList[nodeID] {
		if !visited[next] {
			if cycle := g.detectCycleUtil(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for i, id := range path {
				if id == next {
					return append(append([]string(nil), path[i:]...), next)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// ComputeLevels groups the nodes of an acyclic graph by their longest
// distance from a root, using Kahn's algorithm. Nodes on a cycle are left out.
func ComputeLevels(reg *ComponentRegistry) [][]string {
	g := newGraphIndex(reg, reg.CalculateEdges())

	inDegree := make(map[string]int, len(g.inDegree))
	for id, degree := range g.inDegree {
		inDegree[id] = degree
	}

	levels := make([][]string, 0)
	current := make([]string, 0)
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	for len(current) > 0 {
		levels = append(levels, current)
		next := make([]string, 0)
		for _, id := range current {
			for _, dependent := range g.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		SortNodeIDs(next)
		current = next
	}
	return levels
}

// ToDOT renders a rule graph in Graphviz DOT format, clustered by level.
// Nodes absent from order are drawn greyed out.
func ToDOT(reg *ComponentRegistry, order []string) string {
	scheduled := make(map[string]bool, len(order))
	for _, id := range order {
		scheduled[id] = true
	}

	var sb strings.Builder
	sb.WriteString("digraph Rule {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range ComputeLevels(reg) {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			node, _ := reg.Get(id)
			color := getKindColor(node.Kind())
			if !scheduled[id] {
				color = "gray90"
			}
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, id, node.Type(), color))
		}
		sb.WriteString("  }\n\n")
	}

	ids := reg.IDs()
	SortNodeIDs(ids)
	for _, id := range ids {
		node, _ := reg.Get(id)
		outputs := node.OutputConnectors()
		for _, name := range outputs.Names() {
			for _, conn := range outputs[name] {
				sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%s\", %s];\n",
					id, conn.NodeID, name, getConnectorStyle(name)))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

func getKindColor(kind Kind) string {
	switch kind {
	case KindStart:
		return "lightgray"
	case KindInput, KindConnector:
		return "lightblue"
	case KindConstant:
		return "lightyellow"
	case KindFilter:
		return "orange"
	case KindOutput:
		return "lightgreen"
	case KindFlow:
		return "plum"
	default:
		return "white"
	}
}

func getConnectorStyle(name string) string {
	switch {
	case IsFilterConnector(name):
		return "style=dashed, color=orange"
	case IsVoidConnector(name):
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}
