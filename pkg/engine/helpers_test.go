package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// stubNode is a configurable node used to exercise the engine without the
// node catalog.
type stubNode struct {
	BaseNode
	kind       Kind
	memory     MemoryType
	inputName  string
	def        any
	hasDefault bool
	value      any
	run        func(ctx context.Context, in Inputs) (Outputs, error)
}

func (n *stubNode) Kind() Kind { return n.kind }

func (n *stubNode) MemoryType() MemoryType { return n.memory }

func (n *stubNode) InputName() string { return n.inputName }

func (n *stubNode) InputDefault() (any, bool) { return n.def, n.hasDefault }

func (n *stubNode) ConstantValue() any { return n.value }

func (n *stubNode) Run(ctx context.Context, in Inputs) (Outputs, error) {
	if n.run == nil {
		return Outputs{}, nil
	}
	return n.run(ctx, in)
}

type stubData struct {
	Name    string  `json:"name"`
	Default *string `json:"default"`
	Value   any     `json:"value"`
	Message *string `json:"message"`
	Error   string  `json:"error"`
}

var errStub = errors.New("stub failure")

// testCatalog maps lower-case type names to factories.
type testCatalog map[string]Factory

func (c testCatalog) Lookup(typeName string) (Factory, bool) {
	f, ok := c[strings.ToLower(typeName)]
	return f, ok
}

func stubFactory(configure func(n *stubNode, data stubData)) Factory {
	return func(def NodeDefinition, _ BuildContext) (Node, error) {
		var data stubData
		if len(def.Data) > 0 {
			if err := json.Unmarshal(def.Data, &data); err != nil {
				return nil, err
			}
		}
		n := &stubNode{BaseNode: NewBaseNode(def), kind: KindOther, memory: MemoryState}
		configure(n, data)
		return n, nil
	}
}

func newTestCatalog() testCatalog {
	return testCatalog{
		"start": stubFactory(func(n *stubNode, _ stubData) {
			n.kind = KindStart
		}),
		"input": stubFactory(func(n *stubNode, data stubData) {
			n.kind = KindInput
			n.inputName = data.Name
			if data.Default != nil {
				n.def, n.hasDefault = *data.Default, true
			}
		}),
		"constant": stubFactory(func(n *stubNode, data stubData) {
			n.kind = KindConstant
			n.memory = MemoryConstant
			n.value = data.Value
		}),
		"output": stubFactory(func(n *stubNode, data stubData) {
			n.kind = KindOutput
			n.run = func(_ context.Context, in Inputs) (Outputs, error) {
				value, ok := in.Get("input_bool")
				if !ok {
					value = make(Column, in.Rows)
				}
				var message any
				if data.Message != nil {
					message = *data.Message
				}
				return Outputs{OutputColumn: value, MessageColumn: message}, nil
			}
		}),
		"if": stubFactory(func(n *stubNode, _ stubData) {
			n.kind = KindFilter
			n.memory = MemoryFilter
			n.run = func(_ context.Context, in Inputs) (Outputs, error) {
				col, err := in.Require("input_bool", "If")
				if err != nil {
					return nil, err
				}
				then := make(Mask, len(col))
				otherwise := make(Mask, len(col))
				for i, v := range col {
					then[i] = ToBool(v)
					otherwise[i] = !then[i]
				}
				return Outputs{"output_then_filter": then, "output_else_filter": otherwise}, nil
			}
		}),
		"double": stubFactory(func(n *stubNode, _ stubData) {
			n.run = func(_ context.Context, in Inputs) (Outputs, error) {
				col, err := in.Require("input_value", "Double")
				if err != nil {
					return nil, err
				}
				values, err := FloatColumn(col)
				if err != nil {
					return nil, err
				}
				out := make(Column, len(values))
				for i, v := range values {
					out[i] = v * 2
				}
				return Outputs{"output_value": out}, nil
			}
		}),
		"fail": stubFactory(func(n *stubNode, data stubData) {
			n.run = func(context.Context, Inputs) (Outputs, error) {
				if data.Error == "execution" {
					return nil, NewExecutionError("nested failure", errStub)
				}
				return nil, fmt.Errorf("fail node: %w", errStub)
			}
		}),
	}
}

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

// connect wires from.output to to.input. A missing target node only gets
// the outgoing half, which is how dangling connections are produced.
func (g *testGraph) connect(from, output, to, input string) *testGraph {
	src := g.nodes[from]
	if src.Outputs[output] == nil {
		src.Outputs[output] = &testConnector{}
	}
	src.Outputs[output].Connections = append(src.Outputs[output].Connections, testConn{Node: to, Input: input})
	if dst, ok := g.nodes[to]; ok {
		if dst.Inputs[input] == nil {
			dst.Inputs[input] = &testConnector{}
		}
		dst.Inputs[input].Connections = append(dst.Inputs[input].Connections, testConn{Node: from, Output: output})
	}
	return g
}

// start adds a start node wired to the void input of every target.
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

func (g *testGraph) build(t *testing.T, opts ...Option) *Rule {
	t.Helper()
	rule, err := BuildJSON(context.Background(), g.bytes(t), newTestCatalog(), opts...)
	if err != nil {
		t.Fatalf("Failed to build rule: %v", err)
	}
	return rule
}

// gateGraph doubles x on truthy rows and echoes it on the others.
func gateGraph() *testGraph {
	g := newTestGraph()
	g.add("x", "Input", map[string]any{"name": "x"}).
		add("gate", "If", nil).
		add("dbl", "Double", nil).
		add("doubled", "Output", map[string]any{"message": "doubled"}).
		add("echoed", "Output", map[string]any{"message": "echoed"}).
		start("start", "x").
		connect("x", "output_value", "gate", "input_bool").
		connect("x", "output_value", "dbl", "input_value").
		connect("x", "output_value", "echoed", "input_bool").
		connect("gate", "output_then_filter", "dbl", "input_void").
		connect("gate", "output_else_filter", "echoed", "input_void").
		connect("dbl", "output_value", "doubled", "input_bool")
	return g
}

func strPtr(s string) *string { return &s }
