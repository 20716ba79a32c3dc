package nodes

import (
	"context"
	"fmt"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// ConnectorCall is one batch handed to a connector handler.
type ConnectorCall struct {
	// NodeID is the connector node being evaluated.
	NodeID string

	// Type is the catalog name of the node, e.g. "BureauConnector".
	Type string

	// Metadata is the node's declared configuration.
	Metadata ConnectorMetadata

	// Rows is the number of active rows.
	Rows int

	// Inputs holds the graph-wired input connectors.
	Inputs map[string]engine.Column

	// Fields holds the wired inputs renamed through headers/headers_map.
	Fields map[string]engine.Column

	// Payload holds the request columns.
	Payload map[string]engine.Column
}

// ConnectorHandler evaluates connector nodes against an external system. It
// returns one value per active row.
type ConnectorHandler interface {
	Call(ctx context.Context, call ConnectorCall) (engine.Column, error)
}

// ConnectorHandlerFunc adapts a function to ConnectorHandler.
type ConnectorHandlerFunc func(ctx context.Context, call ConnectorCall) (engine.Column, error)

// Call implements ConnectorHandler.
func (f ConnectorHandlerFunc) Call(ctx context.Context, call ConnectorCall) (engine.Column, error) {
	return f(ctx, call)
}

// FieldDeclarer is implemented by handlers that read request fields. The
// connector contributes one required input per declared field so the
// request schema covers them.
type FieldDeclarer interface {
	Fields(meta ConnectorMetadata) []string
}

// Connector evaluates a connector node. Without a handler a virtual
// connector behaves as an Input named after data.name, and a dynamic
// connector answers with its declared default.
type Connector struct {
	engine.BaseNode
	data    ConnectorMetadata
	handler ConnectorHandler
	virtual bool
}

func (c *Catalog) newVirtualConnector(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return c.newConnector(def, true)
}

func (c *Catalog) newDynamicConnector(def engine.NodeDefinition, _ engine.BuildContext) (engine.Node, error) {
	return c.newConnector(def, false)
}

func (c *Catalog) newConnector(def engine.NodeDefinition, virtual bool) (engine.Node, error) {
	n := &Connector{BaseNode: engine.NewBaseNode(def), virtual: virtual}
	if err := decodeMetadata(def, &n.data, c.validate); err != nil {
		return nil, err
	}
	if !virtual && len(n.data.Headers) > 0 && len(n.data.Headers) != len(n.data.HeadersMap) {
		return nil, metadataError(def, fmt.Errorf("headers has %d entries and headers_map %d", len(n.data.Headers), len(n.data.HeadersMap)))
	}
	n.handler, _ = c.Handler(n.data.Resource, n.data.Source, n.data.Service, def.Name)
	return n, nil
}

// Kind implements engine.Node.
func (n *Connector) Kind() engine.Kind {
	if n.virtual && n.handler == nil {
		return engine.KindInput
	}
	return engine.KindConnector
}

// InputName implements engine.InputNode.
func (n *Connector) InputName() string { return n.data.Name }

// InputDefault implements engine.InputNode.
func (n *Connector) InputDefault() (any, bool) {
	if n.data.Default == nil {
		return nil, false
	}
	return string(*n.data.Default), true
}

// Metadata implements engine.MetadataCarrier.
func (n *Connector) Metadata() any { return n.data }

// GenerateInputNodes implements engine.InputGenerator.
func (n *Connector) GenerateInputNodes() []engine.Node {
	declarer, ok := n.handler.(FieldDeclarer)
	if !ok {
		return nil
	}
	fields := declarer.Fields(n.data)
	nodes := make([]engine.Node, 0, len(fields))
	for _, field := range fields {
		nodes = append(nodes, NewInput(n.ID()+"_"+field, field, n.data.Default))
	}
	return nodes
}

// Run implements engine.Node.
func (n *Connector) Run(ctx context.Context, in engine.Inputs) (engine.Outputs, error) {
	if n.handler == nil {
		if n.data.Default == nil {
			return engine.Outputs{"output_value": nil}, nil
		}
		return engine.Outputs{"output_value": string(*n.data.Default)}, nil
	}

	call := ConnectorCall{
		NodeID:   n.ID(),
		Type:     n.Type(),
		Metadata: n.data,
		Rows:     in.Rows,
		Inputs:   in.Values,
		Fields:   make(map[string]engine.Column, len(n.data.Headers)),
		Payload:  in.Payload,
	}
	for i, header := range n.data.Headers {
		if i >= len(n.data.HeadersMap) {
			break
		}
		if col, ok := in.Values[n.data.HeadersMap[i]]; ok {
			call.Fields[header] = col
		}
	}

	out, err := n.handler.Call(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", n.data.Name, err)
	}
	if len(out) != in.Rows {
		return nil, fmt.Errorf("connector %s returned %d rows, expected %d", n.data.Name, len(out), in.Rows)
	}
	return engine.Outputs{"output_value": out}, nil
}
