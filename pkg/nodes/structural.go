package nodes

import (
	"context"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Start is the single entry point of a rule. It carries ordering only.
type Start struct {
	engine.BaseNode
}

// Kind implements engine.Node.
func (*Start) Kind() engine.Kind { return engine.KindStart }

// Metadata implements engine.MetadataCarrier.
func (*Start) Metadata() any { return EmptyMetadata{} }

func (c *Catalog) newStart(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &Start{BaseNode: engine.NewBaseNode(def)}, nil
}

// Input declares one request field. Its column is seeded from the payload
// before the run starts, so it never runs itself.
type Input struct {
	engine.BaseNode
	data InputMetadata
}

// NewInput creates a detached input node, used for inputs generated by
// connectors and flows.
func NewInput(id, name string, def *Text) *Input {
	return &Input{
		BaseNode: engine.NewDetachedNode(id, "Input"),
		data:     InputMetadata{Name: name, Default: def},
	}
}

func (c *Catalog) newInput(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &Input{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	return n, nil
}

// Kind implements engine.Node.
func (*Input) Kind() engine.Kind { return engine.KindInput }

// InputName implements engine.InputNode.
func (n *Input) InputName() string { return n.data.Name }

// InputDefault implements engine.InputNode.
func (n *Input) InputDefault() (any, bool) {
	if n.data.Default == nil {
		return nil, false
	}
	return string(*n.data.Default), true
}

// Metadata implements engine.MetadataCarrier.
func (n *Input) Metadata() any { return n.data }

// Output answers the rows that reach it with its boolean input and message.
type Output struct {
	engine.BaseNode
	data OutputMetadata
}

func (c *Catalog) newOutput(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	n := &Output{BaseNode: engine.NewBaseNode(def)}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	return n, nil
}

// Kind implements engine.Node.
func (*Output) Kind() engine.Kind { return engine.KindOutput }

// Metadata implements engine.MetadataCarrier.
func (n *Output) Metadata() any { return n.data }

// Run implements engine.Node.
func (n *Output) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	value, ok := in.Get("input_bool")
	if !ok {
		value = make(engine.Column, in.Rows)
	}
	var message any
	if n.data.Message != nil {
		message = *n.data.Message
	}
	return engine.Outputs{
		engine.OutputColumn:  value,
		engine.MessageColumn: message,
	}, nil
}

// If splits the active rows into a then branch and an else branch.
type If struct {
	engine.BaseNode
}

func (c *Catalog) newIf(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return &If{BaseNode: engine.NewBaseNode(def)}, nil
}

// Kind implements engine.Node.
func (*If) Kind() engine.Kind { return engine.KindFilter }

// MemoryType implements engine.Node.
func (*If) MemoryType() engine.MemoryType { return engine.MemoryFilter }

// Metadata implements engine.MetadataCarrier.
func (*If) Metadata() any { return EmptyMetadata{} }

// Run implements engine.Node.
func (n *If) Run(_ context.Context, in engine.Inputs) (engine.Outputs, error) {
	cond, err := in.Require("input_bool", n.Type())
	if err != nil {
		return nil, err
	}
	then := make(engine.Mask, len(cond))
	otherwise := make(engine.Mask, len(cond))
	for i, v := range cond {
		then[i] = engine.ToBool(v)
		otherwise[i] = !then[i]
	}
	return engine.Outputs{
		"output_then_filter": then,
		"output_else_filter": otherwise,
	}, nil
}
