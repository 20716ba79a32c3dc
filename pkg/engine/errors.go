package engine

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrorClass classifies a rule failure.
type ErrorClass string

const (
	// ErrorClassValidation indicates the request batch does not satisfy the
	// rule's request schema. Raised before any node runs.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassExecution indicates a node failed while the rule was running.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassInvalidVersion indicates the document content does not match
	// its declared version.
	ErrorClassInvalidVersion ErrorClass = "invalid_version"

	// ErrorClassGraph indicates the document could not be built into a rule:
	// unknown node types, failed validators, malformed metadata.
	ErrorClassGraph ErrorClass = "graph"
)

// RuleMetadata identifies a rule in errors and snapshots.
type RuleMetadata struct {
	// Name is the optional rule name given by the caller.
	Name string `json:"name,omitempty"`

	// Version is the effective version of the rule.
	Version string `json:"version"`
}

// String returns "name@version".
func (m RuleMetadata) String() string {
	name := m.Name
	if name == "" {
		name = "<unnamed>"
	}
	return name + "@" + m.Version
}

// RuleError is a classified failure tied back to the rule that produced it.
// nolint:revive // RuleError is intentionally named to distinguish from standard errors
type RuleError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Rule identifies the rule the error was raised from.
	Rule RuleMetadata `json:"rule"`

	// NodeID is the failing node, if applicable.
	NodeID string `json:"node_id,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Execution is the state of the run when an execution error was raised.
	Execution *ExecutionSnapshot `json:"execution,omitempty"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.NodeID != "" {
		msg += fmt.Sprintf(" (node=%s)", e.NodeID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *RuleError {
	return &RuleError{Class: ErrorClassValidation, Message: message, Err: err, Code: ErrCodeValidation}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *RuleError {
	return &RuleError{Class: ErrorClassExecution, Message: message, Err: err, Code: ErrCodeNodeFailed}
}

// NewInvalidVersionError creates a new invalid version error.
func NewInvalidVersionError(message string, err error) *RuleError {
	return &RuleError{Class: ErrorClassInvalidVersion, Message: message, Err: err, Code: ErrCodeVersionMismatch}
}

// NewGraphError creates a new graph error.
func NewGraphError(message string, err error) *RuleError {
	return &RuleError{Class: ErrorClassGraph, Message: message, Err: err, Code: ErrCodeValidation}
}

// WithRule sets the rule the error belongs to.
func (e *RuleError) WithRule(meta RuleMetadata) *RuleError {
	e.Rule = meta
	return e
}

// WithNode sets the failing node.
func (e *RuleError) WithNode(nodeID string) *RuleError {
	e.NodeID = nodeID
	return e
}

// WithCode adds an error code to an error.
func (e *RuleError) WithCode(code string) *RuleError {
	e.Code = code
	return e
}

// WithExecution attaches a snapshot of the run.
func (e *RuleError) WithExecution(snapshot *ExecutionSnapshot) *RuleError {
	e.Execution = snapshot
	return e
}

// WithDetail adds a detail field to the error context.
func (e *RuleError) WithDetail(key string, value interface{}) *RuleError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrorFrame is one rule/node pair of a nested failure.
type ErrorFrame struct {
	Rule   RuleMetadata `json:"rule"`
	NodeID string       `json:"node_id,omitempty"`
	Class  ErrorClass   `json:"class"`
}

// Chain returns the rule/node frames of the failure ordered from the
// innermost sub-rule to the outermost rule.
func (e *RuleError) Chain() []ErrorFrame {
	frames := make([]ErrorFrame, 0)
	var err error = e
	for err != nil {
		var re *RuleError
		if !errors.As(err, &re) {
			break
		}
		frames = append(frames, ErrorFrame{Rule: re.Rule, NodeID: re.NodeID, Class: re.Class})
		err = re.Err
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames
}

// Root returns the innermost cause that is not a RuleError.
func (e *RuleError) Root() error {
	var cur error = e
	for {
		re, ok := cur.(*RuleError)
		if !ok || re.Err == nil {
			return cur
		}
		cur = re.Err
	}
}

// ProblemDetails is the serializable description of a failure.
type ProblemDetails struct {
	Title    string          `json:"title"`
	Detail   ProblemDetail   `json:"detail"`
	Status   string          `json:"status"`
	Metadata ProblemMetadata `json:"metadata"`
}

// ProblemDetail explains one occurrence of a failure.
type ProblemDetail struct {
	Msg       string           `json:"msg"`
	Type      string           `json:"type"`
	Exception ProblemException `json:"exception"`
}

// ProblemException describes the underlying cause.
type ProblemException struct {
	Msg  string `json:"msg"`
	Type string `json:"exception_type"`
}

// ProblemMetadata carries the rule identity and the run snapshot.
type ProblemMetadata struct {
	RuleMetadata
	NodeID    string             `json:"node_id,omitempty"`
	Execution *ExecutionSnapshot `json:"execution,omitempty"`
}

// Problem renders the error as problem details.
func (e *RuleError) Problem() ProblemDetails {
	title, status := "Rule build failed", "500"
	switch e.Class {
	case ErrorClassValidation:
		title, status = "Request validation failed", "422"
	case ErrorClassExecution:
		title, status = "Rule execution failed", "500"
	case ErrorClassInvalidVersion:
		title, status = "Invalid rule version", "409"
	}

	cause := e.Root()
	exc := ProblemException{Msg: cause.Error(), Type: reflect.TypeOf(cause).String()}
	if re, ok := cause.(*RuleError); ok {
		exc = ProblemException{Msg: re.Message, Type: string(re.Class)}
	}

	return ProblemDetails{
		Title: title,
		Detail: ProblemDetail{
			Msg:       e.Error(),
			Type:      string(e.Class),
			Exception: exc,
		},
		Status: status,
		Metadata: ProblemMetadata{
			RuleMetadata: e.Rule,
			NodeID:       e.NodeID,
			Execution:    e.Execution,
		},
	}
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	return classOf(err) == ErrorClassValidation
}

// IsExecution returns true if the error is classified as an execution error.
func IsExecution(err error) bool {
	return classOf(err) == ErrorClassExecution
}

// IsInvalidVersion returns true if the error is classified as an invalid version.
func IsInvalidVersion(err error) bool {
	return classOf(err) == ErrorClassInvalidVersion
}

// IsGraph returns true if the error is classified as a graph error.
func IsGraph(err error) bool {
	return classOf(err) == ErrorClassGraph
}

func asRuleError(err error, target **RuleError) bool {
	return errors.As(err, target)
}

func classOf(err error) ErrorClass {
	var e *RuleError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeMissingInput    = "MISSING_INPUT"
	ErrCodeInvalidDocument = "INVALID_DOCUMENT"
	ErrCodeDuplicateNode   = "DUPLICATE_NODE"
	ErrCodeUnknownNode     = "UNKNOWN_NODE"
	ErrCodeInvalidMetadata = "INVALID_METADATA"
	ErrCodeVersionMismatch = "VERSION_MISMATCH"
	ErrCodeVersionMissing  = "VERSION_MISSING"
	ErrCodeNodeFailed      = "NODE_FAILED"
	ErrCodeSubRuleFailed   = "SUB_RULE_FAILED"
	ErrCodeFlowDepth       = "FLOW_DEPTH_EXCEEDED"
	ErrCodeCanceled        = "CANCELED"
)
