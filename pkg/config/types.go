package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// Settings is the configuration of a process embedding the rule engine.
type Settings struct {
	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Rules configures how documents are built into rules.
	Rules RuleSettings `yaml:"rules"`

	// Connectors configures the connector handlers registered on the catalog.
	Connectors ConnectorSettings `yaml:"connectors"`

	// Policies configures the policy validator.
	Policies PolicySettings `yaml:"policies"`

	// Scheduler configures batch runs.
	Scheduler SchedulerSettings `yaml:"scheduler"`
}

// RuleSettings configures rule building.
type RuleSettings struct {
	// Strict rejects documents whose declared version does not match their content.
	Strict bool `yaml:"strict"`

	// RequireDeclared rejects documents without a declared version.
	RequireDeclared bool `yaml:"require_declared"`

	// MaxFlowDepth bounds sub-rule nesting. Zero uses the engine default.
	MaxFlowDepth int `yaml:"max_flow_depth" validate:"gte=0,lte=64"`
}

// VersionOptions returns the version checks of the settings.
func (r RuleSettings) VersionOptions() engine.VersionOptions {
	return engine.VersionOptions{Strict: r.Strict, RequireDeclared: r.RequireDeclared}
}

// ConnectorSettings configures connector handlers.
type ConnectorSettings struct {
	// ScriptDir holds Starlark connector scripts, one handler per file.
	ScriptDir string `yaml:"script_dir" validate:"omitempty,dir"`

	// ScriptTimeout bounds a single script call.
	ScriptTimeout time.Duration `yaml:"script_timeout" validate:"gte=0s"`

	// MaxSteps bounds the Starlark steps of a script call. Zero is unbounded.
	MaxSteps uint64 `yaml:"max_steps"`

	// Redis configures the feature store handler.
	Redis RedisSettings `yaml:"redis"`
}

// RedisSettings configures the Redis feature store.
type RedisSettings struct {
	// Address enables the handler when set, e.g. "localhost:6379".
	Address string `yaml:"address" validate:"omitempty,hostname_port"`

	// Password authenticates the connection.
	Password string `yaml:"password"`

	// DB selects the logical database.
	DB int `yaml:"db" validate:"gte=0,lte=15"`

	// Prefix is prepended to entity ids to form hash keys.
	Prefix string `yaml:"prefix"`

	// Handler is the key the feature handler is registered under.
	Handler string `yaml:"handler" validate:"required_with=Address"`
}

// PolicySettings configures the policy validator.
type PolicySettings struct {
	// Enabled adds the policy validator to every build.
	Enabled bool `yaml:"enabled"`

	// Builtins keeps the built-in policies loaded.
	Builtins bool `yaml:"builtins"`

	// Paths lists .rego and .json policy files or directories.
	Paths []string `yaml:"paths" validate:"dive,required"`
}

// SchedulerSettings configures batch runs.
type SchedulerSettings struct {
	// ChunkSize splits a batch into chunks. Zero runs a single chunk.
	ChunkSize int `yaml:"chunk_size" validate:"gte=0"`

	// MaxParallel bounds the chunks running at once.
	MaxParallel int `yaml:"max_parallel" validate:"gte=0"`

	// FailFast skips pending chunks after the first failure.
	FailFast bool `yaml:"fail_fast"`

	// Timeout bounds each chunk. Zero disables the timeout.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0s"`
}

// ScheduleOptions converts the settings into scheduler options.
func (s SchedulerSettings) ScheduleOptions() engine.ScheduleOptions {
	return engine.ScheduleOptions{
		ChunkSize:   s.ChunkSize,
		MaxParallel: s.MaxParallel,
		FailFast:    s.FailFast,
		Timeout:     s.Timeout,
	}
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "nodes.3.name").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements error.
func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" && !strings.HasPrefix(e.Message, e.Path) {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is a list of validation errors reported together.
type ValidationErrors []ValidationError

// Error implements error.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
