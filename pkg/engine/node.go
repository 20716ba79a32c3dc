package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Reserved column and connector names shared by the executor and node implementations.
const (
	// OutputColumn is the accumulator holding the final result of each row.
	OutputColumn = "output"

	// MessageColumn is the accumulator holding the diagnostic message of each row.
	MessageColumn = "message"

	// FilterSuffix marks an output connector whose value is a row mask.
	FilterSuffix = "_filter"

	// VoidSuffix marks a connector that only carries ordering, never data.
	VoidSuffix = "_void"

	// ValueConnector is the output connector of input nodes.
	ValueConnector = "output_value"
)

// Kind classifies what role a node plays in the graph.
type Kind string

const (
	KindInput     Kind = "input"
	KindConstant  Kind = "constant"
	KindOutput    Kind = "output"
	KindFilter    Kind = "filter"
	KindConnector Kind = "connector"
	KindStart     Kind = "start"
	KindFlow      Kind = "flow"
	KindOther     Kind = "other"
)

// MemoryType tells the executor where a node's outputs live.
type MemoryType string

const (
	// MemoryState outputs are written, masked, into the state table.
	MemoryState MemoryType = "state"

	// MemoryFilter outputs are row masks propagated to downstream nodes.
	MemoryFilter MemoryType = "filter"

	// MemoryConstant outputs are resolved once at build time and never run.
	MemoryConstant MemoryType = "constant"
)

// Connection addresses one connector of one node.
type Connection struct {
	// NodeID is the node on the other side of the edge.
	NodeID string `json:"node"`

	// Connector is the connector name on that node.
	Connector string `json:"connector"`
}

// Key returns the state key of the connection.
func (c Connection) Key() string {
	return StateKey(c.NodeID, c.Connector)
}

// StateKey builds the flat "{node_id}@{connector}" address used by the state table.
func StateKey(nodeID, connector string) string {
	return nodeID + "@" + connector
}

// Connectors maps connector names to their connections.
type Connectors map[string][]Connection

// Names returns the connector names in sorted order.
func (c Connectors) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NodeIDs returns the ids of every node referenced by the connectors whose
// name matches connector. An empty connector matches all of them.
func (c Connectors) NodeIDs(connector string) []string {
	ids := make([]string, 0)
	for _, name := range c.Names() {
		if connector != "" && name != connector {
			continue
		}
		for _, conn := range c[name] {
			ids = append(ids, conn.NodeID)
		}
	}
	return ids
}

// Inputs is the resolved input of a single node invocation.
type Inputs struct {
	// Rows is the number of active rows the node is evaluated over.
	Rows int

	// Values maps input connector names to their masked columns.
	Values map[string]Column

	// Payload holds the masked request columns. Only connector and flow
	// nodes receive it.
	Payload map[string]Column
}

// Get returns the column bound to an input connector.
func (in Inputs) Get(name string) (Column, bool) {
	col, ok := in.Values[name]
	return col, ok
}

// Require returns the column bound to an input connector or an error naming it.
func (in Inputs) Require(name, nodeType string) (Column, error) {
	col, ok := in.Values[name]
	if !ok {
		return nil, fmt.Errorf("missing input %s in %s node", name, nodeType)
	}
	return col, nil
}

// Outputs maps output connector names to a Column, a Mask, a typed slice or
// a scalar that is broadcast over the active rows.
type Outputs map[string]any

// Node is one executable unit of a rule graph.
type Node interface {
	// ID returns the unique node id.
	ID() string

	// Type returns the catalog name the node was built from.
	Type() string

	// Kind returns the node's role.
	Kind() Kind

	// MemoryType returns where the node's outputs are kept.
	MemoryType() MemoryType

	// InputConnectors returns the producers feeding each input connector.
	InputConnectors() Connectors

	// OutputConnectors returns the consumers of each output connector.
	OutputConnectors() Connectors

	// Run evaluates the node over the active rows.
	Run(ctx context.Context, in Inputs) (Outputs, error)
}

// ConstantNode is implemented by nodes whose single value is known at build time.
type ConstantNode interface {
	Node
	ConstantValue() any
}

// InputNode is implemented by nodes that declare a request field.
type InputNode interface {
	Node
	InputName() string
	InputDefault() (any, bool)
}

// InputGenerator is implemented by nodes that contribute synthetic input
// nodes to the rule they are part of.
type InputGenerator interface {
	GenerateInputNodes() []Node
}

// BaseNode carries the identity and wiring shared by every node variant.
// Variants embed it and override Kind, MemoryType and Run as needed.
type BaseNode struct {
	id       string
	typeName string
	inputs   Connectors
	outputs  Connectors
}

// NewBaseNode creates the shared part of a node from its document definition.
func NewBaseNode(def NodeDefinition) BaseNode {
	return BaseNode{
		id:       def.ID,
		typeName: def.Name,
		inputs:   def.InputConnectors(),
		outputs:  def.OutputConnectors(),
	}
}

// NewDetachedNode creates the shared part of a node that is not wired into the graph.
func NewDetachedNode(id, typeName string) BaseNode {
	return BaseNode{
		id:       id,
		typeName: typeName,
		inputs:   Connectors{},
		outputs:  Connectors{},
	}
}

// ID implements Node.
func (b BaseNode) ID() string { return b.id }

// Type implements Node.
func (b BaseNode) Type() string { return b.typeName }

// Kind implements Node.
func (b BaseNode) Kind() Kind { return KindOther }

// MemoryType implements Node.
func (b BaseNode) MemoryType() MemoryType { return MemoryState }

// InputConnectors implements Node.
func (b BaseNode) InputConnectors() Connectors { return b.inputs }

// OutputConnectors implements Node.
func (b BaseNode) OutputConnectors() Connectors { return b.outputs }

// Run implements Node and produces nothing.
func (b BaseNode) Run(context.Context, Inputs) (Outputs, error) { return Outputs{}, nil }

// IsFilterConnector reports whether an output connector carries a row mask.
func IsFilterConnector(name string) bool {
	return strings.HasSuffix(name, FilterSuffix)
}

// IsVoidConnector reports whether a connector only carries ordering.
func IsVoidConnector(name string) bool {
	return strings.HasSuffix(name, VoidSuffix)
}

// MetadataCarrier is implemented by nodes that expose their decoded metadata
// for debugging and serialization.
type MetadataCarrier interface {
	Metadata() any
}
