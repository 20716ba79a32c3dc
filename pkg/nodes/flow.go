package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

const flowInputPrefix = "input_"

// Flow runs an embedded rule as a single node. Its wired inputs and the
// request payload become the child's request, with the "input_" prefix
// stripped from connector names.
type Flow struct {
	engine.BaseNode
	data  FlowMetadata
	child *engine.Rule
}

func (c *Catalog) newFlow(def engine.NodeDefinition, bc engine.BuildContext) (engine.Node, error) {
	n := &Flow{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}

	raw, err := n.data.Document()
	if err != nil {
		return nil, metadataError(def, fmt.Errorf("value is not a JSON string: %w", err))
	}
	doc, err := engine.ParseDocument(raw)
	if err != nil {
		return nil, engine.NewGraphError(fmt.Sprintf("invalid sub-rule document in node %s", def.ID), err).
			WithCode(engine.ErrCodeInvalidDocument).
			WithNode(def.ID)
	}

	name := n.data.Name
	if name == "" {
		name = def.ID
	}
	child, err := bc.BuildChild(doc, name)
	if err != nil {
		return nil, engine.NewGraphError(fmt.Sprintf("failed to build sub-rule %s in node %s", name, def.ID), err).
			WithCode(codeOf(err, engine.ErrCodeInvalidMetadata)).
			WithNode(def.ID)
	}
	n.child = child
	return n, nil
}

// codeOf returns the code of a RuleError, or fallback.
func codeOf(err error, fallback string) string {
	var re *engine.RuleError
	if errors.As(err, &re) && re.Code != "" {
		return re.Code
	}
	return fallback
}

// Kind implements engine.Node.
func (*Flow) Kind() engine.Kind { return engine.KindFlow }

// Metadata implements engine.MetadataCarrier.
func (n *Flow) Metadata() any { return n.data }

// Child returns the embedded rule.
func (n *Flow) Child() *engine.Rule { return n.child }

// GenerateInputNodes implements engine.InputGenerator. Only inputs
// generated inside the child are lifted; the child's own declared inputs
// are fed through the flow's connectors.
func (n *Flow) GenerateInputNodes() []engine.Node {
	var nodes []engine.Node
	reg := n.child.Registry()
	for _, id := range reg.IDs() {
		node, _ := reg.Get(id)
		if gen, ok := node.(engine.InputGenerator); ok {
			nodes = append(nodes, gen.GenerateInputNodes()...)
		}
	}
	return nodes
}

// Run implements engine.Node.
func (n *Flow) Run(ctx context.Context, in engine.Inputs) (engine.Outputs, error) {
	batch := engine.Batch{Rows: in.Rows, Columns: make(map[string]engine.Column, len(in.Payload)+len(in.Values))}
	for name, col := range in.Payload {
		batch.Columns[strings.TrimPrefix(name, flowInputPrefix)] = col
	}
	for name, col := range in.Values {
		batch.Columns[strings.TrimPrefix(name, flowInputPrefix)] = col
	}

	exec, err := n.child.ExecuteBatch(ctx, batch)
	if exec != nil {
		engine.RecordSubExecution(ctx, exec)
	}
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_value": exec.States[engine.OutputColumn].Clone()}, nil
}
