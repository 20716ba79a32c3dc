package nodes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Metadata is the decoded "data" section of a node. It is a closed union:
// every variant below is matched in Describe.
type Metadata interface {
	metadataVariant() string
}

// Text is a string field that also accepts JSON numbers and booleans, which
// graph editors emit for values typed as numbers.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	switch string(data) {
	case "true", "false":
		*t = Text(string(data))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a string, number or boolean: %w", err)
	}
	*t = Text(n.String())
	return nil
}

// Value returns t as a cell value, nil when t is nil.
func (t *Text) Value() any {
	if t == nil {
		return nil
	}
	return string(*t)
}

// Rows is a table body given either as separator-joined lines or as lists of cells.
type Rows []string

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rows) UnmarshalJSON(data []byte) error {
	var lines []json.RawMessage
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	out := make(Rows, 0, len(lines))
	for _, raw := range lines {
		var line Text
		if err := json.Unmarshal(raw, &line); err == nil {
			out = append(out, string(line))
			continue
		}
		var cells []Text
		if err := json.Unmarshal(raw, &cells); err != nil {
			return fmt.Errorf("table rows must be strings or lists of strings: %w", err)
		}
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = string(c)
		}
		// cells lists are re-joined with the unit separator so Split can
		// recover them whatever the declared separator is
		out = append(out, cellsPrefix+strings.Join(parts, cellsSep))
	}
	*r = out
	return nil
}

const (
	cellsPrefix = "\x1e"
	cellsSep    = "\x1f"
)

// Split returns the cells of line i.
func (r Rows) Split(i int, separator string) []string {
	line := r[i]
	if strings.HasPrefix(line, cellsPrefix) {
		return strings.Split(strings.TrimPrefix(line, cellsPrefix), cellsSep)
	}
	if separator == "" {
		separator = ","
	}
	return strings.Split(line, separator)
}

// EmptyMetadata is the metadata of nodes without configuration.
type EmptyMetadata struct{}

// InputMetadata configures Input nodes.
type InputMetadata struct {
	Name    string `json:"name" validate:"required"`
	Default *Text  `json:"default,omitempty"`
}

// ConstantMetadata configures Constant nodes.
type ConstantMetadata struct {
	Value Text   `json:"value"`
	Name  string `json:"name,omitempty"`
}

// BoolMetadata configures Bool nodes.
type BoolMetadata struct {
	Value *Text `json:"value,omitempty"`
}

// Bool reports the truthiness of the declared value.
func (m BoolMetadata) Bool() bool {
	if m.Value == nil {
		return false
	}
	return engine.ToBool(string(*m.Value))
}

// ListMetadata configures List nodes.
type ListMetadata struct {
	Value []Text `json:"value"`
}

// OutputMetadata configures Output nodes.
type OutputMetadata struct {
	Message *string `json:"message,omitempty"`
}

// OperatorMetadata configures Check and Math nodes.
type OperatorMetadata struct {
	Operator string `json:"operator,omitempty"`
}

// GetCharMetadata configures GetChar nodes. Index is 1-based.
type GetCharMetadata struct {
	Index int `json:"index" validate:"min=1"`
}

// ConcatMetadata configures Concat nodes.
type ConcatMetadata struct {
	Separator string `json:"separator"`
}

// IntervalCatMetadata configures IntervalCatV0 nodes. The first line of
// Value is a header line; the remaining lines are the intervals.
type IntervalCatMetadata struct {
	Value               Rows     `json:"value" validate:"min=1"`
	StartIntervalColumn string   `json:"start_interval_column" validate:"required"`
	EndIntervalColumn   string   `json:"end_interval_column" validate:"required"`
	CategoryColumn      string   `json:"category_column" validate:"required"`
	Headers             []string `json:"headers" validate:"min=1"`
	Separator           string   `json:"separator,omitempty"`
	Default             *Text    `json:"default,omitempty"`
}

// CSVTableMetadata configures CSVTableV0 nodes. The first line of Value is a
// header line; rows are matched on every column of HeadersMap but Target.
type CSVTableMetadata struct {
	Value      Rows     `json:"value" validate:"min=1"`
	Target     string   `json:"target" validate:"required"`
	Headers    []string `json:"headers"`
	HeadersMap []string `json:"headers_map" validate:"min=1"`
	Separator  string   `json:"separator,omitempty"`
	Default    *Text    `json:"default,omitempty"`
}

// GLMMetadata configures GLM nodes. Value is a JSON object of feature
// weights plus an optional "intercept".
type GLMMetadata struct {
	Value      string         `json:"value" validate:"required"`
	Name       string         `json:"name,omitempty"`
	Default    *Text          `json:"default,omitempty"`
	Link       string         `json:"link,omitempty" validate:"omitempty,oneof=identity log exponential logit inverse"`
	HeadersMap map[string]int `json:"headers_map" validate:"min=1"`
}

// ConnectorMetadata configures connector nodes, virtual and dynamic.
type ConnectorMetadata struct {
	Name       string   `json:"name" validate:"required"`
	Default    *Text    `json:"default,omitempty"`
	Service    string   `json:"service,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
	Source     string   `json:"source,omitempty"`
	Resource   string   `json:"resource,omitempty"`
	Headers    []string `json:"headers,omitempty"`
	HeadersMap []string `json:"headers_map,omitempty"`
}

// FlowMetadata configures FlowV0 nodes. Value is the embedded child document,
// either as a JSON string or inline.
type FlowMetadata struct {
	Value   json.RawMessage `json:"value" validate:"required"`
	Name    string          `json:"name,omitempty"`
	Default *Text           `json:"default,omitempty"`
}

// Document returns the embedded child document bytes.
func (m FlowMetadata) Document() ([]byte, error) {
	raw := bytes.TrimSpace(m.Value)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []byte(s), nil
	}
	return raw, nil
}

func (EmptyMetadata) metadataVariant() string       { return "empty" }
func (InputMetadata) metadataVariant() string       { return "input" }
func (ConstantMetadata) metadataVariant() string    { return "constant" }
func (BoolMetadata) metadataVariant() string        { return "bool" }
func (ListMetadata) metadataVariant() string        { return "list" }
func (OutputMetadata) metadataVariant() string      { return "output" }
func (OperatorMetadata) metadataVariant() string    { return "operator" }
func (GetCharMetadata) metadataVariant() string     { return "get_char" }
func (ConcatMetadata) metadataVariant() string      { return "concat" }
func (IntervalCatMetadata) metadataVariant() string { return "interval_cat" }
func (CSVTableMetadata) metadataVariant() string    { return "csv_table" }
func (GLMMetadata) metadataVariant() string         { return "glm" }
func (ConnectorMetadata) metadataVariant() string   { return "connector" }
func (FlowMetadata) metadataVariant() string        { return "flow" }

// Describe flattens metadata into a generic map for debugging output.
func Describe(m Metadata) map[string]any {
	out := map[string]any{"variant": m.metadataVariant()}
	switch v := m.(type) {
	case EmptyMetadata:
	case InputMetadata:
		out["name"] = v.Name
		out["default"] = v.Default.Value()
	case ConstantMetadata:
		out["value"] = string(v.Value)
		if v.Name != "" {
			out["name"] = v.Name
		}
	case BoolMetadata:
		out["value"] = v.Bool()
	case ListMetadata:
		values := make([]string, len(v.Value))
		for i, t := range v.Value {
			values[i] = string(t)
		}
		out["value"] = values
	case OutputMetadata:
		if v.Message != nil {
			out["message"] = *v.Message
		}
	case OperatorMetadata:
		out["operator"] = v.Operator
	case GetCharMetadata:
		out["index"] = v.Index
	case ConcatMetadata:
		out["separator"] = v.Separator
	case IntervalCatMetadata:
		out["intervals"] = len(v.Value) - 1
		out["start_interval_column"] = v.StartIntervalColumn
		out["end_interval_column"] = v.EndIntervalColumn
		out["category_column"] = v.CategoryColumn
		out["default"] = v.Default.Value()
	case CSVTableMetadata:
		out["rows"] = len(v.Value) - 1
		out["target"] = v.Target
		out["headers_map"] = v.HeadersMap
		out["default"] = v.Default.Value()
	case GLMMetadata:
		out["link"] = v.Link
		out["features"] = len(v.HeadersMap)
	case ConnectorMetadata:
		out["name"] = v.Name
		out["source"] = v.Source
		out["resource"] = v.Resource
		out["headers"] = v.Headers
		out["default"] = v.Default.Value()
	case FlowMetadata:
		out["name"] = v.Name
		out["document_bytes"] = len(v.Value)
	default:
		panic(fmt.Sprintf("unhandled metadata variant %T", m))
	}
	return out
}

// decodeMetadata decodes and validates the data section of def into v.
func decodeMetadata(def engine.NodeDefinition, v any, validate *validator.Validate) error {
	data := bytes.TrimSpace(def.Data)
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return metadataError(def, err)
	}
	if err := validate.Struct(v); err != nil {
		return metadataError(def, err)
	}
	return nil
}

func metadataError(def engine.NodeDefinition, err error) error {
	return engine.NewGraphError(fmt.Sprintf("invalid metadata for %s node %s", def.Name, def.ID), err).
		WithCode(engine.ErrCodeInvalidMetadata).
		WithNode(def.ID)
}
