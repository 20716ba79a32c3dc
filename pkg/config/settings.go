package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Telemetry: *telemetry.DefaultConfig(),
		Rules: RuleSettings{
			Strict:       engine.DefaultVersionOptions().Strict,
			MaxFlowDepth: engine.DefaultMaxFlowDepth,
		},
		Connectors: ConnectorSettings{
			ScriptTimeout: 30 * time.Second,
			Redis: RedisSettings{
				Handler: "features",
			},
		},
		Policies: PolicySettings{
			Builtins: true,
		},
		Scheduler: SchedulerSettings{
			MaxParallel: 4,
		},
	}
}

// LoadSettings reads settings from a YAML file. An empty path returns the
// defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	s, err := ParseSettings(data)
	if err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// ParseSettings decodes YAML over the defaults and validates the result.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the struct tags and the telemetry configuration.
func (s *Settings) Validate() error {
	var out ValidationErrors

	if err := validator.New().Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate settings: %w", err)
		}
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Path:    fe.Namespace(),
				Message: fieldMessage(fe),
			})
		}
	}
	if err := s.Telemetry.Validate(); err != nil {
		out = append(out, ValidationError{Path: "Settings.Telemetry", Message: err.Error()})
	}

	if len(out) > 0 {
		return out
	}
	return nil
}

// EngineOptions returns the build options derived from the settings.
func (s *Settings) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithVersionOptions(s.Rules.VersionOptions()),
		engine.WithMaxFlowDepth(s.Rules.MaxFlowDepth),
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with":
		return "is required"
	case "dir":
		return fmt.Sprintf("%v is not a directory", fe.Value())
	case "hostname_port":
		return fmt.Sprintf("%v is not a host:port address", fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Sprintf("failed %s, got %v", fe.Tag(), fe.Value())
	}
}
