package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseDocument(t *testing.T) {
	data := []byte(`{
		"version": "abc",
		"nodes": {
			"1": {"id": 1, "name": "Start", "outputs": {"output_up_void": {"connections": [{"node": 2, "input": "input_void"}]}}},
			"2": {"id": "2", "name": "Input", "data": {"name": "age"}, "inputs": {"input_void": {"connections": [{"node": "1", "output": "output_up_void"}]}}}
		}
	}`)

	doc, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("ParseDocument() failed: %v", err)
	}
	if doc.Version != "abc" {
		t.Errorf("Expected version abc, got %s", doc.Version)
	}
	if diff := cmp.Diff([]string{"1", "2"}, doc.NodeIDs()); diff != "" {
		t.Errorf("NodeIDs() mismatch (-want +got):\n%s", diff)
	}

	start := doc.Nodes["1"]
	want := Connectors{"output_up_void": {{NodeID: "2", Connector: "input_void"}}}
	if diff := cmp.Diff(want, start.OutputConnectors()); diff != "" {
		t.Errorf("OutputConnectors() mismatch (-want +got):\n%s", diff)
	}

	input := doc.Nodes["2"]
	want = Connectors{"input_void": {{NodeID: "1", Connector: "output_up_void"}}}
	if diff := cmp.Diff(want, input.InputConnectors()); diff != "" {
		t.Errorf("InputConnectors() mismatch (-want +got):\n%s", diff)
	}
	if name, ok := input.DataField("name"); !ok || name != "age" {
		t.Errorf("Expected data name age, got %q (%v)", name, ok)
	}
	if _, ok := start.DataField("name"); ok {
		t.Error("Expected no data field on start node")
	}
}

func TestParseDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		code string
	}{
		{name: "not json", data: `{`, code: ErrCodeInvalidDocument},
		{name: "no nodes", data: `{"version": "x"}`, code: ErrCodeInvalidDocument},
		{name: "null nodes", data: `{"nodes": null}`, code: ErrCodeInvalidDocument},
		{name: "nodes not an object", data: `{"nodes": [1, 2]}`, code: ErrCodeInvalidDocument},
		{name: "missing name", data: `{"nodes": {"1": {"id": "1"}}}`, code: ErrCodeInvalidDocument},
		{name: "bad reference", data: `{"nodes": {"1": {"id": true, "name": "Start"}}}`, code: ErrCodeInvalidDocument},
		{
			name: "duplicate id",
			data: `{"nodes": {"a": {"id": "1", "name": "Start"}, "b": {"id": 1, "name": "Input"}}}`,
			code: ErrCodeDuplicateNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.data))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !IsGraph(err) {
				t.Errorf("Expected graph error, got %v", err)
			}
			var re *RuleError
			asRuleError(err, &re)
			if re.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, re.Code)
			}
		})
	}
}

func TestParseDocumentDefaultsIDToKey(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"nodes": {"start": {"name": "Start"}}}`))
	if err != nil {
		t.Fatalf("ParseDocument() failed: %v", err)
	}
	if doc.Nodes["start"].ID != "start" {
		t.Errorf("Expected id start, got %q", doc.Nodes["start"].ID)
	}
}

func TestSortNodeIDs(t *testing.T) {
	ids := []string{"10", "b", "2", "a", "1"}
	SortNodeIDs(ids)
	if diff := cmp.Diff([]string{"1", "2", "10", "a", "b"}, ids); diff != "" {
		t.Errorf("SortNodeIDs() mismatch (-want +got):\n%s", diff)
	}
}
