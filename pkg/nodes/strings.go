package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// StartsWith reports whether input_value_0 starts with input_value_1.
type StartsWith struct {
	engine.BaseNode
}

func (c *Catalog) newStartsWith(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &StartsWith{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*StartsWith) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *StartsWith) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_value_0", "input_value_1", func(a, b any) (any, error) {
		if a == nil {
			return false, nil
		}
		return strings.HasPrefix(engine.ToString(a), engine.ToString(b)), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// EndsWith reports whether input_value_0 ends with input_value_1.
type EndsWith struct {
	engine.BaseNode
}

func (c *Catalog) newEndsWith(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &EndsWith{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*EndsWith) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *EndsWith) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_value_0", "input_value_1", func(a, b any) (any, error) {
		if a == nil {
			return false, nil
		}
		return strings.HasSuffix(engine.ToString(a), engine.ToString(b)), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// StartsWithAny reports whether input_value starts with any element of input_list.
type StartsWithAny struct {
	engine.BaseNode
}

func (c *Catalog) newStartsWithAny(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &StartsWithAny{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*StartsWithAny) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *StartsWithAny) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := matchAny(in, n.Type(), strings.HasPrefix)
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// EndsWithAny reports whether input_value ends with any element of input_list.
type EndsWithAny struct {
	engine.BaseNode
}

func (c *Catalog) newEndsWithAny(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &EndsWithAny{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*EndsWithAny) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *EndsWithAny) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := matchAny(in, n.Type(), strings.HasSuffix)
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// Contains reports whether input_value is an element of input_list.
type Contains struct {
	engine.BaseNode
}

func (c *Catalog) newContains(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &Contains{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*Contains) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *Contains) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := matchAny(in, n.Type(), func(s, elem string) bool { return s == elem })
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// matchAny evaluates match(input_value, element) over the list bound to
// each row. A row whose list cell is not a list uses the whole column as
// the list.
func matchAny(in engine.Inputs, nodeType string, match func(s, elem string) bool) (engine.Column, error) {
	values, err := in.Require("input_value", nodeType)
	if err != nil {
		return nil, err
	}
	lists, err := in.Require("input_list", nodeType)
	if err != nil {
		return nil, err
	}

	var whole []string
	out := make(engine.Column, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = false
			continue
		}
		var list []string
		if i < len(lists) {
			list = asList(lists[i])
		}
		if list == nil {
			if whole == nil {
				whole = make([]string, 0, len(lists))
				for _, cell := range lists {
					if cell != nil {
						whole = append(whole, engine.ToString(cell))
					}
				}
			}
			list = whole
		}
		s := engine.ToString(v)
		found := false
		for _, elem := range list {
			if match(s, elem) {
				found = true
				break
			}
		}
		out[i] = found
	}
	return out, nil
}

func asList(cell any) []string {
	switch t := cell.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, len(t))
		for i, v := range t {
			out[i] = engine.ToString(v)
		}
		return out
	default:
		return nil
	}
}

// LowerCase lower-cases the string form of its input.
type LowerCase struct {
	engine.BaseNode
}

func (c *Catalog) newLowerCase(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &LowerCase{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*LowerCase) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *LowerCase) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapValues(in, n.Type(), "input_value", func(v any) (any, error) {
		return strings.ToLower(engine.ToString(v)), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_value": out}, nil
}

// IsSubStringOf reports whether input_value_0 occurs in input_value_1.
type IsSubStringOf struct {
	engine.BaseNode
}

func (c *Catalog) newIsSubStringOf(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &IsSubStringOf{BaseNode: engine.NewBaseNode(def)}, nil
}

// Metadata implements engine.MetadataCarrier.
func (*IsSubStringOf) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *IsSubStringOf) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_value_0", "input_value_1", func(a, b any) (any, error) {
		if a == nil || b == nil {
			return false, nil
		}
		return strings.Contains(engine.ToString(b), engine.ToString(a)), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_bool": out}, nil
}

// GetChar returns the character at a 1-based position of its input.
type GetChar struct {
	engine.BaseNode
	data GetCharMetadata
}

func (c *Catalog) newGetChar(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &GetChar{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	return n, nil
}

// Metadata implements engine.MetadataCarrier.
func (n *GetChar) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *GetChar) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapValues(in, n.Type(), "input_value", func(v any) (any, error) {
		runes := []rune(engine.ToString(v))
		if n.data.Index > len(runes) {
			return nil, fmt.Errorf("index %d out of range for %q", n.data.Index, string(runes))
		}
		return string(runes[n.data.Index-1]), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_value": out}, nil
}

// Concat joins the string forms of its two inputs with a separator.
type Concat struct {
	engine.BaseNode
	data ConcatMetadata
}

func (c *Catalog) newConcat(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &Concat{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	return n, nil
}

// Metadata implements engine.MetadataCarrier.
func (n *Concat) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *Concat) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	out, err := mapPairs(in, n.Type(), "input_value_0", "input_value_1", func(a, b any) (any, error) {
		return engine.ToString(a) + n.data.Separator + engine.ToString(b), nil
	})
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"output_value": out}, nil
}
