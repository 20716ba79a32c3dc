package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Format is the encoding of a rule document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported document type: %s", path)
	}
}

// IsDocumentFile reports whether path has a supported document extension.
func IsDocumentFile(path string) bool {
	_, err := FormatFromPath(path)
	return err == nil
}

// Loader reads rule documents, checks them against the graph schema and
// parses them.
type Loader struct {
	schemas *SchemaRegistry
	logger  zerolog.Logger
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		schemas: NewSchemaRegistry(),
		logger:  logger.With().Str("component", "loader").Logger(),
	}
}

// Schemas returns the registry the loader validates against.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadFile reads and parses a document, inferring its format from the
// extension.
func (l *Loader) LoadFile(path string) (*engine.Document, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return l.Parse(path, data, format)
}

// Parse converts data to JSON, validates its shape and parses it. JSON input
// is kept byte for byte so the content hash matches the file.
func (l *Loader) Parse(filename string, data []byte, format Format) (*engine.Document, error) {
	raw, err := l.ToJSON(filename, data, format)
	if err != nil {
		return nil, err
	}

	errs, err := l.schemas.Validate(GraphSchema, filename, raw)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		l.logger.Debug().Str("file", filename).Int("errors", len(errs)).Msg("Document failed schema validation")
		return nil, engine.NewGraphError(fmt.Sprintf("document %s does not match the graph schema", filename), errs).
			WithCode(engine.ErrCodeInvalidDocument)
	}

	doc, err := engine.ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().
		Str("file", filename).
		Str("format", string(format)).
		Int("nodes", len(doc.Nodes)).
		Msg("Document loaded")
	return doc, nil
}

// ToJSON converts a document to JSON.
func (l *Loader) ToJSON(filename string, data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return data, nil
	case FormatYAML:
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, engine.NewGraphError(fmt.Sprintf("invalid YAML document %s", filename), err).
				WithCode(engine.ErrCodeInvalidDocument)
		}
		out, err := json.Marshal(jsonCompatible(v))
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s to JSON: %w", filename, err)
		}
		return out, nil
	case FormatCUE:
		out, err := l.schemas.ExportJSON(filename, data)
		if err != nil {
			return nil, engine.NewGraphError(fmt.Sprintf("invalid CUE document %s", filename), err).
				WithCode(engine.ErrCodeInvalidDocument)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
}

// jsonCompatible rewrites YAML mappings with non-string keys, such as
// numeric node ids, into string-keyed maps.
func jsonCompatible(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = jsonCompatible(item)
		}
		return val
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = jsonCompatible(item)
		}
		return val
	default:
		return v
	}
}
