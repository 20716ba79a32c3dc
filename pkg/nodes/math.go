package nodes

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Math operators.
const (
	OpSum      = "+"
	OpSub      = "-"
	OpMultiply = "*"
	OpDivide   = "/"
)

// Math applies an arithmetic operator to two numeric inputs. Missing
// operands and division by zero produce missing values.
type Math struct {
	engine.BaseNode
	data OperatorMetadata
}

func (c *Catalog) newMath(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &Math{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	if n.data.Operator == "" {
		n.data.Operator = OpSum
	}
	switch n.data.Operator {
	case OpSum, OpSub, OpMultiply, OpDivide:
	default:
		return nil, metadataError(def, fmt.Errorf("unknown operator %q", n.data.Operator))
	}
	return n, nil
}

// Metadata implements engine.MetadataCarrier.
func (n *Math) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *Math) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_value_0", "input_value_1", func(a, b any) (any, error) {
		if a == nil || b == nil {
			return nil, nil
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
		case OpSum:
			return x + y, nil
		case OpSub:
			return x - y, nil
		case OpMultiply:
			return x * y, nil
		default:
			if y == 0 {
				return nil, nil
			}
			return x / y, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_value": out}, nil
}

// Round rounds a numeric input to the nearest integer, halves to even.
type Round struct {
	engine.BaseNode
}

func (c *Catalog) newRound(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &Round{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*Round) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *Round) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapValues(in, n.Type(), "input_value", func(v any) (any, error) {
		if v == nil {
			return nil, nil
		}
		f, err := engine.ToFloat(v)
		if err != nil {
			return nil, err
		}
		return int64(math.RoundToEven(f)), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_value": out}, nil
}

// AbsoluteValue returns the absolute value of a numeric input.
type AbsoluteValue struct {
	engine.BaseNode
}

func (c *Catalog) newAbsoluteValue(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &AbsoluteValue{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*AbsoluteValue) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *AbsoluteValue) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapValues(in, n.Type(), "input_value", func(v any) (any, error) {
		if v == nil {
			return nil, nil
		}
		f, err := engine.ToFloat(v)
		if err != nil {
			return nil, err
		}
		return math.Abs(f), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_value": out}, nil
}

// CurrentYear outputs the current calendar year.
type CurrentYear struct {
	engine.BaseNode
	now func() time.Time
}

func (c *Catalog) newCurrentYear(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &CurrentYear{BaseNode: engine.NewBaseNode(def), now: time.Now}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*CurrentYear) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *CurrentYear) Run(context.Context, engine.Inputs) (engine.Outputs, error) {
	return engine.Outputs{"output_value": n.now().Year()}, nil
}
