package engine

import (
	"fmt"
)

// BuildExecutionOrder walks the graph depth-first from its start node. A
// node is entered only once every node feeding it has been visited, so each
// node appears after all of its producers. Nodes that cannot be reached are
// returned as orphans, excluding synthetic generated inputs.
func BuildExecutionOrder(reg *ComponentRegistry) (order []string, orphans []string, err error) {
	starts := reg.ByKind(KindStart)
	switch {
	case len(starts) == 0:
		return nil, nil, NewGraphError("no start node found", nil).WithCode(ErrCodeValidation)
	case len(starts) > 1:
		return nil, nil, NewGraphError(fmt.Sprintf("multiple start nodes found: %d", len(starts)), nil).
			WithCode(ErrCodeValidation)
	}

	visited := make(map[string]bool, reg.Len())
	order = make([]string, 0, reg.Len())

	var walk func(id string)
	walk = func(id string) {
		visited[id] = true
		order = append(order, id)

		node, _ := reg.Get(id)
		outputs := node.OutputConnectors()
		for _, name := range outputs.Names() {
			for _, conn := range outputs[name] {
				next := conn.NodeID
				if visited[next] {
					continue
				}
				if _, ok := reg.Get(next); !ok {
					continue
				}
				if producersVisited(reg, next, visited) {
					walk(next)
				}
			}
		}
	}
	walk(starts[0].ID())

	ids := reg.IDs()
	SortNodeIDs(ids)
	orphans = make([]string, 0)
	for _, id := range ids {
		if !visited[id] && !reg.IsGenerated(id) {
			orphans = append(orphans, id)
		}
	}
	return order, orphans, nil
}

func producersVisited(reg *ComponentRegistry, id string, visited map[string]bool) bool {
	for _, producer := range reg.InputConnections(id, "") {
		if !visited[producer] {
			return false
		}
	}
	return true
}
