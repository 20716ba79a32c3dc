package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NodeRef is a node id as it appears in a document. Editors emit both
// numbers and strings, so either form is accepted and normalized to a string.
type NodeRef string

// UnmarshalJSON implements json.Unmarshaler.
func (r *NodeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = NodeRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("node reference must be a string or a number: %w", err)
	}
	*r = NodeRef(n.String())
	return nil
}

// ConnectionDefinition is one entry of a connector's connection list.
type ConnectionDefinition struct {
	Node   NodeRef `json:"node"`
	Output string  `json:"output,omitempty"`
	Input  string  `json:"input,omitempty"`
}

// ConnectorDefinition lists the connections of one connector.
type ConnectorDefinition struct {
	Connections []ConnectionDefinition `json:"connections"`
}

// NodeDefinition is the declared form of a node inside a document.
type NodeDefinition struct {
	// ID is the node id.
	ID string `json:"-"`

	// Name is the catalog type name, e.g. "Input" or "CSVTableV0".
	Name string `json:"name"`

	// Data holds the node-specific metadata, decoded by the node factory.
	Data json.RawMessage `json:"data,omitempty"`

	// Inputs maps input connector names to their producers.
	Inputs map[string]*ConnectorDefinition `json:"inputs,omitempty"`

	// Outputs maps output connector names to their consumers.
	Outputs map[string]*ConnectorDefinition `json:"outputs,omitempty"`
}

type rawNodeDefinition struct {
	ID NodeRef `json:"id"`
	NodeDefinition
}

// InputConnectors converts the declared inputs into connections to producers.
func (d NodeDefinition) InputConnectors() Connectors {
	out := make(Connectors, len(d.Inputs))
	for name, def := range d.Inputs {
		conns := make([]Connection, 0)
		if def != nil {
			for _, c := range def.Connections {
				conns = append(conns, Connection{NodeID: string(c.Node), Connector: c.Output})
			}
		}
		out[name] = conns
	}
	return out
}

// OutputConnectors converts the declared outputs into connections to consumers.
func (d NodeDefinition) OutputConnectors() Connectors {
	out := make(Connectors, len(d.Outputs))
	for name, def := range d.Outputs {
		conns := make([]Connection, 0)
		if def != nil {
			for _, c := range def.Connections {
				conns = append(conns, Connection{NodeID: string(c.Node), Connector: c.Input})
			}
		}
		out[name] = conns
	}
	return out
}

// DataField returns a top-level string field of the metadata, if present.
func (d NodeDefinition) DataField(field string) (string, bool) {
	if len(d.Data) == 0 {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(d.Data, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[field]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Document is a parsed rule graph.
type Document struct {
	// Version is the declared version, empty when absent.
	Version string

	// Nodes maps node ids to their definitions.
	Nodes map[string]NodeDefinition

	// Raw is the undecoded "nodes" section, used for content hashing.
	Raw json.RawMessage
}

type rawDocument struct {
	Version *string         `json:"version"`
	Nodes   json.RawMessage `json:"nodes"`
}

// ParseDocument decodes a JSON rule graph.
func ParseDocument(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewGraphError("invalid rule document", err).WithCode(ErrCodeInvalidDocument)
	}
	if len(raw.Nodes) == 0 || string(raw.Nodes) == "null" {
		return nil, NewGraphError("rule document has no nodes section", nil).WithCode(ErrCodeInvalidDocument)
	}

	var defs map[string]rawNodeDefinition
	if err := json.Unmarshal(raw.Nodes, &defs); err != nil {
		return nil, NewGraphError("invalid nodes section", err).WithCode(ErrCodeInvalidDocument)
	}

	doc := &Document{
		Nodes: make(map[string]NodeDefinition, len(defs)),
		Raw:   raw.Nodes,
	}
	if raw.Version != nil {
		doc.Version = *raw.Version
	}

	for key, def := range defs {
		id := string(def.ID)
		if id == "" {
			id = key
		}
		if strings.TrimSpace(def.Name) == "" {
			return nil, NewGraphError(fmt.Sprintf("node %s has no name", id), nil).
				WithCode(ErrCodeInvalidDocument).WithNode(id)
		}
		if _, exists := doc.Nodes[id]; exists {
			return nil, NewGraphError(fmt.Sprintf("duplicate node id: %s", id), nil).
				WithCode(ErrCodeDuplicateNode).WithNode(id)
		}
		def.NodeDefinition.ID = id
		doc.Nodes[id] = def.NodeDefinition
	}

	return doc, nil
}

// NodeIDs returns the node ids in sorted order.
func (d *Document) NodeIDs() []string {
	ids := make([]string, 0, len(d.Nodes))
	for id := range d.Nodes {
		ids = append(ids, id)
	}
	SortNodeIDs(ids)
	return ids
}

// SortNodeIDs sorts ids numerically when both sides are integers and
// lexically otherwise, so "2" sorts before "10".
func SortNodeIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
}
