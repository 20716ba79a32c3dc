package policy

import (
	"encoding/json"
	"time"
)

// Severity grades a violation. Error and critical violations reject the
// rule document; the others are reported as warnings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of severity s fails the build.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module over Input. Every element of its deny set is a
// violation: either a message string or an object with message, and optionally
// node and severity.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"` // default for deny entries without one
	Enabled     bool     `json:"enabled"`
	Tags        []string `json:"tags,omitempty"`
	Source      string   `json:"source,omitempty"` // empty for built-ins
}

// Violation is one deny entry.
type Violation struct {
	Policy   string   `json:"policy"`
	Node     string   `json:"node,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result splits the violations of an evaluation into blocking ones and
// warnings. Allowed is true when there is no blocking violation.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	Warnings          []Violation   `json:"warnings,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the view of a rule document that policies see as input.
type Input struct {
	Version string      `json:"version,omitempty"` // declared version
	Nodes   []NodeInput `json:"nodes"`             // id order
	Edges   []EdgeInput `json:"edges"`
}

// NodeInput is one document node. Kind is the evaluation kind of the built
// node, such as "input" or "connector".
type NodeInput struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Kind string          `json:"kind,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EdgeInput connects a producer node to a consumer node.
type EdgeInput struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Bundle is a JSON file holding several policies.
type Bundle struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Policies []Policy `json:"policies"`
}
