package nodes

import (
	"context"
	"fmt"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Check operators.
const (
	OpEqual          = "=="
	OpNotEqual       = "!="
	OpGreater        = ">"
	OpLess           = "<"
	OpGreaterOrEqual = ">="
	OpLessOrEqual    = "<="
)

// Check compares its two inputs row by row. Equality compares the string
// forms; ordering compares the numeric forms.
type Check struct {
	engine.BaseNode
	data OperatorMetadata
}

func (c *Catalog) newCheck(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &Check{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	if n.data.Operator == "" {
		n.data.Operator = OpEqual
	}
	switch n.data.Operator {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterOrEqual, OpLessOrEqual:
	default:
		return nil, metadataError(def, fmt.Errorf("unknown operator %q", n.data.Operator))
	}
	return n, nil
}

// Metadata implements engine.MetadataCarrier.
func (n *Check) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *Check) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_value_0", "input_value_1", n.compare)
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

func (n *Check) compare(a, b any) (any, error) {
	switch n.data.Operator {
	case OpEqual:
		return engine.ToString(a) == engine.ToString(b), nil
	case OpNotEqual:
		return engine.ToString(a) != engine.ToString(b), nil
	}

	// missing values compare false, like NaN
	if a == nil || b == nil {
		return false, nil
	}
	x, err := engine.ToFloat(a)
	if err != nil {
		return nil, err
	}
	y, err := engine.ToFloat(b)
	if err != nil {
		return nil, err
	}
	switch n.data.Operator {
	case OpGreater:
		return x > y, nil
	case OpLess:
		return x < y, nil
	case OpGreaterOrEqual:
		return x >= y, nil
	default:
		return x <= y, nil
	}
}

// And is the row-wise conjunction of two boolean inputs.
type And struct {
	engine.BaseNode
}

func (c *Catalog) newAnd(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &And{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*And) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *And) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_bool_0", "input_bool_1", func(a, b any) (any, error) {
		return engine.ToBool(a) && engine.ToBool(b), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// Or is the row-wise disjunction of two boolean inputs.
type Or struct {
	engine.BaseNode
}

func (c *Catalog) newOr(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &Or{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*Or) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *Or) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_bool_0", "input_bool_1", func(a, b any) (any, error) {
		return engine.ToBool(a) || engine.ToBool(b), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// Not negates a boolean input.
type Not struct {
	engine.BaseNode
}

func (c *Catalog) newNot(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &Not{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*Not) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *Not) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapValues(in, n.Type(), "input_bool", func(v any) (any, error) {
		return !engine.ToBool(v), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// mapValues applies fn to every row of one input.
func mapValues(in engine.Inputs, nodeType, name string, fn func(any) (any, error)) (engine.Column, error) {
	col, err := in.Require(name, nodeType)
	if err != nil {
		return nil, err
	}
	out := make(engine.Column, len(col))
	for i, v := range col {
		if out[i], err = fn(v); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return out, nil
}

// mapPairs applies fn to every row of two inputs.
func mapPairs(in engine.Inputs, nodeType, left, right string, fn func(a, b any) (any, error)) (engine.Column, error) {
	a, err := in.Require(left, nodeType)
	if err != nil {
		return nil, err
	}
	b, err := in.Require(right, nodeType)
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("%s has %d rows and %s has %d", left, len(a), right, len(b))
	}
	out := make(engine.Column, len(a))
	for i := range a {
		if out[i], err = fn(a[i], b[i]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return out, nil
}
