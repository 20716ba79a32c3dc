package nodes

import (
	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Constant holds a literal string value.
type Constant struct {
	engine.BaseNode
	data ConstantMetadata
}

func (c *Catalog) newConstant(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &Constant{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	return n, nil
}

// Kind implements engine.Node.
func (*Constant) Kind() engine.Kind { return engine.KindConstant }

// MemoryType implements engine.Node.
func (*Constant) MemoryType() engine.MemoryType { return engine.MemoryConstant }

// ConstantValue implements engine.ConstantNode.
func (n *Constant) ConstantValue() any { return string(n.data.Value) }

// Metadata implements engine.MetadataCarrier.
func (n *Constant) Metadata() any { return n.data }

// Bool holds a literal boolean. Missing or unrecognized values are false.
type Bool struct {
	engine.BaseNode
	data BoolMetadata
}

func (c *Catalog) newBool(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &Bool{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	return n, nil
}

// Kind implements engine.Node.
func (*Bool) Kind() engine.Kind { return engine.KindConstant }

// MemoryType implements engine.Node.
func (*Bool) MemoryType() engine.MemoryType { return engine.MemoryConstant }

// ConstantValue implements engine.ConstantNode.
func (n *Bool) ConstantValue() any { return n.data.Bool() }

// Metadata implements engine.MetadataCarrier.
func (n *Bool) Metadata() any { return n.data }

// List holds a literal list of strings. Every row reads the whole list.
type List struct {
	engine.BaseNode
	data ListMetadata
}

func (c *Catalog) newList(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &List{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	return n, nil
}

// Kind implements engine.Node.
func (*List) Kind() engine.Kind { return engine.KindConstant }

// MemoryType implements engine.Node.
func (*List) MemoryType() engine.MemoryType { return engine.MemoryConstant }

// ConstantValue implements engine.ConstantNode.
func (n *List) ConstantValue() any {
	values := make([]string, len(n.data.Value))
	for i, v := range n.data.Value {
		values[i] = string(v)
	}
	return values
}

// Metadata implements engine.MetadataCarrier.
func (n *List) Metadata() any { return n.data }
