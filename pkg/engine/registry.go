package engine

import (
	"fmt"
	"strings"
)

// Edge is a derived producer to consumer pair.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ComponentRegistry owns the nodes of one rule and indexes them by type,
// kind and memory type. It is mutated only while a rule is being built.
type ComponentRegistry struct {
	// nodes maps node ids to their node
	nodes map[string]Node

	// ids keeps registration order
	ids []string

	// generated marks synthetic nodes contributed by input generators
	generated map[string]bool

	byType   map[string][]string
	byKind   map[Kind][]string
	byMemory map[MemoryType][]string
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		nodes:     make(map[string]Node),
		ids:       make([]string, 0),
		generated: make(map[string]bool),
		byType:    make(map[string][]string),
		byKind:    make(map[Kind][]string),
		byMemory:  make(map[MemoryType][]string),
	}
}

// Register adds a node under id. Registering an id twice is an error.
func (r *ComponentRegistry) Register(id string, node Node) error {
	if id == "" {
		return NewGraphError("node has empty ID", nil).WithCode(ErrCodeInvalidDocument)
	}
	if node == nil {
		return NewGraphError(fmt.Sprintf("node %s is nil", id), nil).WithCode(ErrCodeInvalidDocument)
	}
	if _, exists := r.nodes[id]; exists {
		return NewGraphError(fmt.Sprintf("duplicate node id: %s", id), nil).
			WithCode(ErrCodeDuplicateNode).WithNode(id)
	}

	r.nodes[id] = node
	r.ids = append(r.ids, id)

	typeName := strings.ToLower(node.Type())
	r.byType[typeName] = append(r.byType[typeName], id)
	r.byKind[node.Kind()] = append(r.byKind[node.Kind()], id)
	r.byMemory[node.MemoryType()] = append(r.byMemory[node.MemoryType()], id)
	return nil
}

// RegisterGenerated adds a synthetic node contributed by an input generator.
func (r *ComponentRegistry) RegisterGenerated(id string, node Node) error {
	if err := r.Register(id, node); err != nil {
		return err
	}
	r.generated[id] = true
	return nil
}

// Unregister removes a node and its index entries. Unknown ids are ignored.
func (r *ComponentRegistry) Unregister(id string) {
	node, ok := r.nodes[id]
	if !ok {
		return
	}
	delete(r.nodes, id)
	delete(r.generated, id)
	r.ids = removeID(r.ids, id)

	typeName := strings.ToLower(node.Type())
	r.byType[typeName] = removeID(r.byType[typeName], id)
	r.byKind[node.Kind()] = removeID(r.byKind[node.Kind()], id)
	r.byMemory[node.MemoryType()] = removeID(r.byMemory[node.MemoryType()], id)
}

// Get returns the node registered under id.
func (r *ComponentRegistry) Get(id string) (Node, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// Len returns the number of registered nodes.
func (r *ComponentRegistry) Len() int {
	return len(r.nodes)
}

// IDs returns the node ids in registration order.
func (r *ComponentRegistry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// IsGenerated reports whether id was contributed by an input generator.
func (r *ComponentRegistry) IsGenerated(id string) bool {
	return r.generated[id]
}

// ByType returns the nodes built from a catalog type, case-insensitively.
func (r *ComponentRegistry) ByType(typeName string) []Node {
	return r.lookup(r.byType[strings.ToLower(typeName)])
}

// ByKind returns the nodes of a kind in registration order.
func (r *ComponentRegistry) ByKind(kind Kind) []Node {
	return r.lookup(r.byKind[kind])
}

// ByMemoryType returns the nodes of a memory type in registration order.
func (r *ComponentRegistry) ByMemoryType(memory MemoryType) []Node {
	return r.lookup(r.byMemory[memory])
}

func (r *ComponentRegistry) lookup(ids []string) []Node {
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.nodes[id])
	}
	return out
}

// OutputConnections returns the ids of the nodes fed by a node. An empty
// connector selects every output connector.
func (r *ComponentRegistry) OutputConnections(id, connector string) []string {
	node, ok := r.nodes[id]
	if !ok {
		return nil
	}
	return node.OutputConnectors().NodeIDs(connector)
}

// InputConnections returns the ids of the nodes feeding a node. An empty
// connector selects every input connector.
func (r *ComponentRegistry) InputConnections(id, connector string) []string {
	node, ok := r.nodes[id]
	if !ok {
		return nil
	}
	return node.InputConnectors().NodeIDs(connector)
}

// CalculateEdges scans every node's output connectors and returns the edge list.
func (r *ComponentRegistry) CalculateEdges() []Edge {
	ids := r.IDs()
	SortNodeIDs(ids)

	edges := make([]Edge, 0)
	for _, id := range ids {
		for _, to := range r.OutputConnections(id, "") {
			edges = append(edges, Edge{From: id, To: to})
		}
	}
	return edges
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
