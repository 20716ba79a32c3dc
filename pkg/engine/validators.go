package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationInput is what every validator inspects.
type ValidationInput struct {
	// Document is the parsed rule graph.
	Document *Document

	// Registry holds the built nodes, including generated ones.
	Registry *ComponentRegistry

	// Edges is the registry's edge list.
	Edges []Edge
}

// Validator checks one structural or semantic property of a rule graph.
type Validator interface {
	// Name identifies the validator in diagnostics.
	Name() string

	// Validate returns false and a diagnostic message when the check fails.
	Validate(ctx context.Context, in ValidationInput) (bool, string)
}

// ValidatorProvider is implemented by catalogs that ship node-specific validators.
type ValidatorProvider interface {
	Validators() []Validator
}

// DefaultValidators returns the structural validators every rule must pass.
func DefaultValidators() []Validator {
	return []Validator{
		SingleStartValidator{},
		ConnectionValidator{},
		AcyclicValidator{},
		UniqueNameValidator{},
	}
}

// RunValidators runs every validator and reports all failures in one graph error.
func RunValidators(ctx context.Context, validators []Validator, in ValidationInput) error {
	failures := make([]string, 0)
	failed := make([]string, 0)
	for _, v := range validators {
		ok, msg := v.Validate(ctx, in)
		if ok {
			continue
		}
		if msg == "" {
			msg = fmt.Sprintf("validator %s failed", v.Name())
		}
		failures = append(failures, msg)
		failed = append(failed, v.Name())
	}
	if len(failures) == 0 {
		return nil
	}
	return NewGraphError(strings.Join(failures, "; "), nil).
		WithDetail("validators", failed).
		WithDetail("failures", failures)
}

// SingleStartValidator requires exactly one start node.
type SingleStartValidator struct{}

// Name implements Validator.
func (SingleStartValidator) Name() string { return "single_start_node_exists" }

// Validate implements Validator.
func (SingleStartValidator) Validate(_ context.Context, in ValidationInput) (bool, string) {
	n := len(in.Registry.ByKind(KindStart))
	switch {
	case n == 0:
		return false, "no start node found"
	case n > 1:
		return false, fmt.Sprintf("multiple start nodes found: %d", n)
	}
	return true, ""
}

// ConnectionValidator requires every connection to reference a known node.
type ConnectionValidator struct{}

// Name implements Validator.
func (ConnectionValidator) Name() string { return "connections_reference_nodes" }

// Validate implements Validator.
func (ConnectionValidator) Validate(_ context.Context, in ValidationInput) (bool, string) {
	ids := in.Registry.IDs()
	SortNodeIDs(ids)
	for _, id := range ids {
		node, _ := in.Registry.Get(id)
		for _, target := range node.OutputConnectors().NodeIDs("") {
			if _, ok := in.Registry.Get(target); !ok {
				return false, fmt.Sprintf("node %s connects to non-existent node %s", id, target)
			}
		}
		for _, source := range node.InputConnectors().NodeIDs("") {
			if _, ok := in.Registry.Get(source); !ok {
				return false, fmt.Sprintf("node %s depends on non-existent node %s", id, source)
			}
		}
	}
	return true, ""
}

// UniqueNameValidator requires the user-facing data.name of every node
// other than Input and Output to be unique.
type UniqueNameValidator struct{}

// Name implements Validator.
func (UniqueNameValidator) Name() string { return "unique_node_name" }

// Validate implements Validator.
func (UniqueNameValidator) Validate(_ context.Context, in ValidationInput) (bool, string) {
	if in.Document == nil {
		return true, ""
	}

	names := make([]string, 0)
	idsByName := make(map[string][]string)
	for _, id := range in.Document.NodeIDs() {
		def := in.Document.Nodes[id]
		if def.Name == "Input" || def.Name == "Output" {
			continue
		}
		name, ok := dataName(def.Data)
		if !ok {
			continue
		}
		if _, seen := idsByName[name]; !seen {
			names = append(names, name)
		}
		idsByName[name] = append(idsByName[name], id)
	}

	details := make([]string, 0)
	for _, name := range names {
		if ids := idsByName[name]; len(ids) > 1 {
			details = append(details, fmt.Sprintf("'%s' (nodes: %s)", name, strings.Join(ids, ", ")))
		}
	}
	if len(details) > 0 {
		return false, "Duplicate node names found: " + strings.Join(details, ", ")
	}
	return true, ""
}

func dataName(data json.RawMessage) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	var fields struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &fields); err != nil || fields.Name == nil {
		return "", false
	}
	return *fields.Name, true
}
