package config

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()
	if !sr.HasSchema(GraphSchema) {
		t.Fatal("expected the graph schema to be registered")
	}

	if err := sr.RegisterSchema("custom", "field1: string\nfield2: int\n"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}
	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != "custom" || names[1] != GraphSchema {
		t.Errorf("unexpected schemas: %v", names)
	}

	if err := sr.RegisterSchema("broken", "field1: "); err == nil {
		t.Error("expected compile error for a broken schema")
	}
}

func TestSchemaRegistry_ValidateGraph(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "valid document",
			doc: `{"version": "1", "position": {"x": 1}, "nodes": {
				"1": {"id": 1, "name": "Start", "outputs": {"output_up_void": {"connections": [{"node": 2, "input": "input_void"}]}}},
				"2": {"id": "2", "name": "Output", "data": {"message": null}, "inputs": {"input_void": null}}
			}}`,
		},
		{
			name:    "missing nodes",
			doc:     `{"version": "1"}`,
			wantErr: "nodes",
		},
		{
			name:    "missing node name",
			doc:     `{"nodes": {"a": {"id": "a"}}}`,
			wantErr: "name",
		},
		{
			name:    "blank node name",
			doc:     `{"nodes": {"a": {"name": "  "}}}`,
			wantErr: "name",
		},
		{
			name:    "numeric version",
			doc:     `{"version": 2, "nodes": {}}`,
			wantErr: "version",
		},
		{
			name:    "connection without node",
			doc:     `{"nodes": {"a": {"name": "Start", "outputs": {"o": {"connections": [{"input": "i"}]}}}}}`,
			wantErr: "node",
		},
		{
			name:    "not JSON",
			doc:     `{"nodes": `,
			wantErr: "rule.json",
		},
	}

	sr := NewSchemaRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := sr.Validate(GraphSchema, "rule.json", []byte(tt.doc))
			if err != nil {
				t.Fatalf("Validate() failed: %v", err)
			}
			if tt.wantErr == "" {
				if len(errs) > 0 {
					t.Errorf("expected valid document, got %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			if !strings.Contains(errs.Error(), tt.wantErr) {
				t.Errorf("expected %q in %q", tt.wantErr, errs.Error())
			}
		})
	}
}

func TestSchemaRegistry_ErrorPositions(t *testing.T) {
	sr := NewSchemaRegistry()
	errs, err := sr.Validate(GraphSchema, "rule.json", []byte("{\n  \"nodes\": {\n    \"a\": {\"name\": 5}\n  }\n}"))
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if len(errs) == 0 {
		t.Fatal("expected validation errors")
	}
	found := false
	for _, e := range errs {
		if e.File == "rule.json" && e.Line == 3 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error positioned at rule.json:3, got %+v", errs)
	}
}

func TestSchemaRegistry_ValidateAgainstSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]interface{}{
		"nodes": map[string]interface{}{
			"a": map[string]interface{}{"name": "Start"},
		},
	}
	if err := sr.ValidateAgainstSchema(ctx, GraphSchema, valid); err != nil {
		t.Errorf("expected valid data, got %v", err)
	}

	invalid := map[string]interface{}{"nodes": []string{"a"}}
	if err := sr.ValidateAgainstSchema(ctx, GraphSchema, invalid); err == nil {
		t.Error("expected validation error")
	}

	if err := sr.ValidateAgainstSchema(ctx, "missing", valid); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected schema not found, got %v", err)
	}
}

func TestSchemaRegistry_ExportJSON(t *testing.T) {
	sr := NewSchemaRegistry()

	out, err := sr.ExportJSON("rule.cue", []byte(`
_limit: 18
nodes: a: {name: "Constant", data: value: "\(_limit)"}
`))
	if err != nil {
		t.Fatalf("ExportJSON() failed: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("exported invalid JSON %s: %v", out, err)
	}
	want := map[string]interface{}{
		"nodes": map[string]interface{}{
			"a": map[string]interface{}{"name": "Constant", "data": map[string]interface{}{"value": "18"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExportJSON() mismatch (-want +got):\n%s", diff)
	}

	if _, err := sr.ExportJSON("rule.cue", []byte(`nodes: a: name: string`)); err == nil {
		t.Error("expected error for a non-concrete document")
	}
}
