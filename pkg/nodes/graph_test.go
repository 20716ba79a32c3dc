package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

type testConn struct {
	Node   string `json:"node"`
	Output string `json:"output,omitempty"`
	Input  string `json:"input,omitempty"`
}

type testConnector struct {
	Connections []testConn `json:"connections"`
}

type testNode struct {
	ID      string                    `json:"id"`
	Name    string                    `json:"name"`
	Data    any                       `json:"data,omitempty"`
	Inputs  map[string]*testConnector `json:"inputs"`
	Outputs map[string]*testConnector `json:"outputs"`
}

// testGraph assembles rule documents for tests.
type testGraph struct {
	version string
	nodes   map[string]*testNode
}

func newTestGraph() *testGraph {
	return &testGraph{nodes: make(map[string]*testNode)}
}

func (g *testGraph) add(id, name string, data any) *testGraph {
	g.nodes[id] = &testNode{
		ID:      id,
		Name:    name,
		Data:    data,
		Inputs:  map[string]*testConnector{},
		Outputs: map[string]*testConnector{},
	}
	return g
}

func (g *testGraph) connect(from, output, to, input string) *testGraph {
	src, dst := g.nodes[from], g.nodes[to]
	if src.Outputs[output] == nil {
		src.Outputs[output] = &testConnector{}
	}
	src.Outputs[output].Connections = append(src.Outputs[output].Connections, testConn{Node: to, Input: input})
	if dst.Inputs[input] == nil {
		dst.Inputs[input] = &testConnector{}
	}
	dst.Inputs[input].Connections = append(dst.Inputs[input].Connections, testConn{Node: from, Output: output})
	return g
}

// start wires the start node to the void input of every listed node.
func (g *testGraph) start(id string, targets ...string) *testGraph {
	g.add(id, "Start", nil)
	for _, target := range targets {
		g.connect(id, "output_up_void", target, "input_void")
	}
	return g
}

func (g *testGraph) bytes(t *testing.T) []byte {
	t.Helper()
	doc := map[string]any{"nodes": g.nodes}
	if g.version != "" {
		doc["version"] = g.version
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal graph: %v", err)
	}
	return data
}

func (g *testGraph) build(t *testing.T, catalog *Catalog, opts ...engine.Option) *engine.Rule {
	t.Helper()
	rule, err := engine.BuildJSON(context.Background(), g.bytes(t), catalog, opts...)
	if err != nil {
		t.Fatalf("Failed to build rule: %v", err)
	}
	return rule
}

func strPtr(s string) *string { return &s }

// ageGraph checks ages: negative is invalid, under 18 is underage.
func ageGraph() *testGraph {
	g := newTestGraph()
	g.add("age", "Input", map[string]any{"name": "age"}).
		add("zero", "Constant", map[string]any{"value": "0"}).
		add("eighteen", "Constant", map[string]any{"value": "18"}).
		add("yes", "Bool", map[string]any{"value": true}).
		add("no", "Bool", map[string]any{"value": false}).
		add("negative", "Check", map[string]any{"operator": "<"}).
		add("if_negative", "If", nil).
		add("minor", "Check", map[string]any{"operator": "<"}).
		add("if_minor", "If", nil).
		add("invalid", "Output", map[string]any{"message": "invalid age"}).
		add("underage", "Output", map[string]any{"message": "underage"}).
		add("valid", "Output", map[string]any{"message": "valid age"})
	g.start("start", "age", "zero", "eighteen", "yes", "no")

	g.connect("age", "output_value", "negative", "input_value_0").
		connect("zero", "output_value", "negative", "input_value_1").
		connect("negative", "output_bool", "if_negative", "input_bool").
		connect("if_negative", "output_then_filter", "invalid", "input_void").
		connect("no", "output_value", "invalid", "input_bool").
		connect("if_negative", "output_else_filter", "minor", "input_void").
		connect("age", "output_value", "minor", "input_value_0").
		connect("eighteen", "output_value", "minor", "input_value_1").
		connect("minor", "output_bool", "if_minor", "input_bool").
		connect("if_minor", "output_then_filter", "underage", "input_void").
		connect("no", "output_value", "underage", "input_bool").
		connect("if_minor", "output_else_filter", "valid", "input_void").
		connect("yes", "output_value", "valid", "input_bool")
	return g
}
