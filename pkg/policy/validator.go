package policy

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Validator runs an Engine as an engine.Validator. Blocking violations fail
// the build; warnings are logged.
type Validator struct {
	engine *Engine
	logger zerolog.Logger
}

// NewValidator wraps e.
func NewValidator(e *Engine, logger zerolog.Logger) *Validator {
	return &Validator{
		engine: e,
		logger: logger.With().Str("component", "policy-validator").Logger(),
	}
}

// Name implements engine.Validator.
func (v *Validator) Name() string { return "policy" }

// Validate implements engine.Validator.
func (v *Validator) Validate(ctx context.Context, in engine.ValidationInput) (bool, string) {
	result, err := v.engine.Evaluate(ctx, NewInput(in))
	if err != nil {
		return false, err.Error()
	}

	for _, w := range result.Warnings {
		v.logger.Warn().
			Str("policy", w.Policy).
			Str("node_id", w.Node).
			Msg(w.Message)
	}
	if result.Allowed {
		return true, ""
	}

	messages := make([]string, len(result.Violations))
	for i, violation := range result.Violations {
		messages[i] = violation.Policy + ": " + violation.Message
	}
	return false, strings.Join(messages, "; ")
}

// NewInput builds the policy input of a rule graph.
func NewInput(in engine.ValidationInput) *Input {
	input := &Input{
		Nodes: []NodeInput{},
		Edges: make([]EdgeInput, 0, len(in.Edges)),
	}
	if in.Document != nil {
		input.Version = in.Document.Version
		for _, id := range in.Document.NodeIDs() {
			def := in.Document.Nodes[id]
			node := NodeInput{ID: id, Type: def.Name, Data: def.Data}
			if in.Registry != nil {
				if n, ok := in.Registry.Get(id); ok {
					node.Kind = string(n.Kind())
				}
			}
			input.Nodes = append(input.Nodes, node)
		}
	}
	for _, e := range in.Edges {
		input.Edges = append(input.Edges, EdgeInput{From: e.From, To: e.To})
	}
	return input
}
