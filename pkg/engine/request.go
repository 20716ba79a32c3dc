package engine

import (
	"fmt"
	"sort"
)

// Record is one row of a request, keyed by input name.
type Record map[string]any

// Batch is a columnar request: one column per field, all of length Rows.
type Batch struct {
	Rows    int
	Columns map[string]Column
}

// BatchFromRecords converts rows to columns. A field absent from some rows
// is missing in those rows.
func BatchFromRecords(records []Record) Batch {
	batch := Batch{Rows: len(records), Columns: make(map[string]Column)}
	for i, rec := range records {
		for name, v := range rec {
			col, ok := batch.Columns[name]
			if !ok {
				col = make(Column, len(records))
				batch.Columns[name] = col
			}
			col[i] = v
		}
	}
	return batch
}

// Fields returns the column names in sorted order.
func (b Batch) Fields() []string {
	names := make([]string, 0, len(b.Columns))
	for name := range b.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestField is one field of a derived request schema.
type RequestField struct {
	// Name is the request field name.
	Name string `json:"name"`

	// Default is substituted when the field is absent.
	Default any `json:"default,omitempty"`

	// Required is true when no default is declared.
	Required bool `json:"required"`

	// NodeID is the input node that declared the field.
	NodeID string `json:"node_id"`
}

// RequestSchema is derived from the input nodes of a rule.
type RequestSchema struct {
	fields []RequestField
}

// NewRequestSchema builds one field per distinct input name. When a name is
// declared more than once, a declaration carrying a default wins.
func NewRequestSchema(inputs []InputNode) *RequestSchema {
	fields := make([]RequestField, 0, len(inputs))
	index := make(map[string]int, len(inputs))
	for _, in := range inputs {
		def, hasDefault := in.InputDefault()
		field := RequestField{
			Name:     in.InputName(),
			Default:  def,
			Required: !hasDefault,
			NodeID:   in.ID(),
		}
		i, seen := index[field.Name]
		switch {
		case !seen:
			index[field.Name] = len(fields)
			fields = append(fields, field)
		case hasDefault:
			fields[i] = field
		}
	}
	return &RequestSchema{fields: fields}
}

// Fields returns the schema fields in declaration order.
func (s *RequestSchema) Fields() []RequestField {
	return append([]RequestField(nil), s.fields...)
}

// Validate checks the batch against the schema and returns a normalized
// copy: defaults are filled in and "", "None" and "null" become missing.
func (s *RequestSchema) Validate(batch Batch) (Batch, error) {
	out := Batch{Rows: batch.Rows, Columns: make(map[string]Column, len(batch.Columns)+len(s.fields))}
	for name, col := range batch.Columns {
		if len(col) != batch.Rows {
			return Batch{}, fmt.Errorf("column %s has %d rows, expected %d", name, len(col), batch.Rows)
		}
		out.Columns[name] = col.Clone()
	}

	for _, field := range s.fields {
		if _, ok := out.Columns[field.Name]; ok {
			continue
		}
		if field.Required {
			return Batch{}, fmt.Errorf("missing required input: %s", field.Name)
		}
		out.Columns[field.Name] = Broadcast(field.Default, batch.Rows)
	}

	for _, col := range out.Columns {
		for i, v := range col {
			if s, ok := v.(string); ok && isNullString(s) {
				col[i] = nil
			}
		}
	}
	return out, nil
}

func isNullString(s string) bool {
	return s == "" || s == "None" || s == "null"
}
