package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

func TestAgeRule(t *testing.T) {
	rule := ageGraph().build(t, DefaultCatalog(), engine.WithName("age"))

	records := []engine.Record{{"age": 10}, {"age": -10}, {"age": 18}, {"age": 19}, {"age": 100}}
	got, err := rule.Execute(context.Background(), records)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	want := []engine.Outcome{
		{Output: false, Message: strPtr("underage")},
		{Output: false, Message: strPtr("invalid age")},
		{Output: true, Message: strPtr("valid age")},
		{Output: true, Message: strPtr("valid age")},
		{Output: true, Message: strPtr("valid age")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Execute() mismatch (-want +got):\n%s", diff)
	}
}

func TestAgeRuleRowsMatchSingleRowRuns(t *testing.T) {
	rule := ageGraph().build(t, DefaultCatalog())
	ctx := context.Background()

	tests := []struct {
		name string
		ages []any
	}{
		{name: "mixed", ages: []any{10, -10, 18, 19, 100, nil, "7"}},
		{name: "numeric kinds", ages: []any{int64(17), 17.5, float32(-0.5), "18", "None"}},
		{name: "single", ages: []any{42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := make([]engine.Record, len(tt.ages))
			for i, age := range tt.ages {
				records[i] = engine.Record{"age": age}
			}
			batch, err := rule.Execute(ctx, records)
			if err != nil {
				t.Fatalf("Execute() failed: %v", err)
			}
			if len(batch) != len(records) {
				t.Fatalf("Expected %d outcomes, got %d", len(records), len(batch))
			}
			for i, rec := range records {
				single, err := rule.Execute(ctx, []engine.Record{rec})
				if err != nil {
					t.Fatalf("Execute(row %d) failed: %v", i, err)
				}
				if diff := cmp.Diff(single[0], batch[i]); diff != "" {
					t.Errorf("row %d (age %v) mismatch (-single +batch):\n%s", i, rec["age"], diff)
				}
			}
		})
	}
}

func TestAgeRuleIsIdempotent(t *testing.T) {
	rule := ageGraph().build(t, DefaultCatalog())
	ctx := context.Background()
	records := []engine.Record{{"age": 10}, {"age": -10}, {"age": 18}, {"age": nil}, {"age": "7"}}

	first, err := rule.ExecuteDebug(ctx, records)
	if err != nil {
		t.Fatalf("ExecuteDebug() failed: %v", err)
	}
	second, err := rule.ExecuteDebug(ctx, records)
	if err != nil {
		t.Fatalf("ExecuteDebug() failed: %v", err)
	}

	if diff := cmp.Diff(first.Result(), second.Result()); diff != "" {
		t.Errorf("outcomes mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.States, second.States); diff != "" {
		t.Errorf("states mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Filters, second.Filters); diff != "" {
		t.Errorf("filters mismatch (-first +second):\n%s", diff)
	}
	// the input records are left untouched
	if records[3]["age"] != nil || records[4]["age"] != "7" {
		t.Errorf("Execute() modified its records: %v", records)
	}
}

func TestAgeRuleFilters(t *testing.T) {
	rule := ageGraph().build(t, DefaultCatalog())

	exec, err := rule.ExecuteDebug(context.Background(), []engine.Record{{"age": 10}, {"age": -10}, {"age": 30}})
	if err != nil {
		t.Fatalf("ExecuteDebug() failed: %v", err)
	}

	want := map[string]engine.Mask{
		"invalid":  {false, true, false},
		"minor":    {true, false, true},
		"if_minor": {true, false, true},
		"underage": {true, false, false},
		"valid":    {false, false, true},
	}
	for id, mask := range want {
		if diff := cmp.Diff(mask, exec.Filters[id]); diff != "" {
			t.Errorf("filter of %s mismatch (-want +got):\n%s", id, diff)
		}
	}

	// rows outside a node's filter keep their missing value
	if diff := cmp.Diff(engine.Column{true, nil, false}, exec.States["minor@output_bool"]); diff != "" {
		t.Errorf("minor@output_bool mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingRequiredInput(t *testing.T) {
	rule := ageGraph().build(t, DefaultCatalog(), engine.WithName("age"))

	exec, err := rule.ExecuteDebug(context.Background(), []engine.Record{{"height": 180}})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !engine.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if exec != nil {
		t.Errorf("Expected no execution, got %v", exec.ID)
	}
	if !strings.Contains(err.Error(), "missing required input: age") {
		t.Errorf("Expected missing field in error, got %q", err.Error())
	}
}

func TestEmptyStringsAreMissing(t *testing.T) {
	g := newTestGraph()
	g.add("name", "Input", map[string]any{"name": "name", "default": "anonymous"}).
		add("out", "Output", nil).
		start("start", "name").
		connect("name", "output_value", "out", "input_bool")
	rule := g.build(t, DefaultCatalog())

	got, err := rule.Execute(context.Background(), []engine.Record{{"name": "ana"}, {"name": "None"}, {"name": ""}})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	want := []engine.Outcome{{Output: "ana"}, {Output: nil}, {Output: nil}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Execute() mismatch (-want +got):\n%s", diff)
	}

	// absent fields take the default
	got, err = rule.Execute(context.Background(), []engine.Record{{}})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got[0].Output != "anonymous" {
		t.Errorf("Expected default, got %v", got[0].Output)
	}
}

func csvGraph() *testGraph {
	g := newTestGraph()
	g.add("cat", "Input", map[string]any{"name": "cat"}).
		add("age", "Input", map[string]any{"name": "age"}).
		add("table", "CSVTableV0", map[string]any{
			"value":       []string{"cat,age,score", "A,1,472", "B,2,535", "A,2,622"},
			"target":      "score",
			"headers":     []string{"cat", "age", "score"},
			"headers_map": []string{"input_cat", "input_age", "score"},
			"default":     "200",
		}).
		add("out", "Output", nil).
		start("start", "cat", "age").
		connect("cat", "output_value", "table", "input_cat").
		connect("age", "output_value", "table", "input_age").
		connect("table", "output_value", "out", "input_bool")
	return g
}

func TestCSVTableRule(t *testing.T) {
	rule := csvGraph().build(t, DefaultCatalog())

	records := []engine.Record{
		{"cat": "A", "age": 1},
		{"cat": "B", "age": 2},
		{"cat": "C", "age": 9},
		{"cat": "A", "age": 2.0},
	}
	got, err := rule.Execute(context.Background(), records)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	outputs := make([]any, len(got))
	for i, o := range got {
		outputs[i] = o.Output
	}
	want := []any{"472", "535", "200", "622"}
	if diff := cmp.Diff(want, outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestGLMRule(t *testing.T) {
	g := newTestGraph()
	g.add("a", "Input", map[string]any{"name": "a"}).
		add("b", "Input", map[string]any{"name": "b"}).
		add("model", "GLM", map[string]any{
			"value":       `{"a": 2, "b": 0.5, "intercept": 1}`,
			"link":        "identity",
			"headers_map": map[string]int{"a": 0, "b": 1},
		}).
		add("out", "Output", nil).
		start("start", "a", "b").
		connect("a", "output_value", "model", "input_value_0").
		connect("b", "output_value", "model", "input_value_1").
		connect("model", "output_value", "out", "input_bool")
	rule := g.build(t, DefaultCatalog())

	got, err := rule.Execute(context.Background(), []engine.Record{{"a": 1, "b": 4}, {"a": 2, "b": 3}, {"a": -1, "b": -1}})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	want := []any{5.0, 6.5, -1.5}
	for i, o := range got {
		if o.Output != want[i] {
			t.Errorf("row %d: Expected %v, got %v", i, want[i], o.Output)
		}
	}
}

func scoreGraph(table []string) *testGraph {
	g := newTestGraph()
	g.add("score", "Input", map[string]any{"name": "score"}).
		add("iv", "IntervalCatV0", map[string]any{
			"value":                 table,
			"headers":               []string{"start", "end", "category"},
			"start_interval_column": "start",
			"end_interval_column":   "end",
			"category_column":       "category",
			"default":               "-1",
		}).
		add("out", "Output", nil).
		start("start", "score").
		connect("score", "output_value", "iv", "input_value").
		connect("iv", "output_value", "out", "input_bool")
	return g
}

func TestIntervalCatRule(t *testing.T) {
	rule := scoreGraph([]string{
		"start,end,category",
		"-inf,451,0",
		"451,1001,{value}",
		"1001,inf,1000",
	}).build(t, DefaultCatalog())

	got, err := rule.Execute(context.Background(), []engine.Record{
		{"score": 300}, {"score": 451}, {"score": 500}, {"score": 1001}, {"score": "abc"},
	})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	outputs := make([]any, len(got))
	for i, o := range got {
		outputs[i] = o.Output
	}
	want := []any{"0", 451, 500, "1000", "-1"}
	if diff := cmp.Diff(want, outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestIntervalCatValidator(t *testing.T) {
	tests := []struct {
		name  string
		table []string
		want  string
	}{
		{
			name:  "overlap",
			table: []string{"start,end,category", "0,100,a", "50,200,b"},
			want:  "overlapping intervals detected in node iv",
		},
		{
			name:  "not numeric",
			table: []string{"start,end,category", "zero,100,a"},
			want:  "invalid numeric values in interval columns in node iv",
		},
		{
			name:  "missing columns",
			table: []string{"from,to,category", "0,100,a"},
			want:  "missing required columns: start, end in node iv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.BuildJSON(context.Background(), scoreGraph(tt.table).bytes(t), DefaultCatalog())
			if err == nil {
				t.Fatal("Expected build error")
			}
			if !engine.IsGraph(err) {
				t.Errorf("Expected graph error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q in error, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestUnknownNodeType(t *testing.T) {
	g := newTestGraph()
	g.add("x", "Teleport", nil).start("start", "x")

	_, err := engine.BuildJSON(context.Background(), g.bytes(t), DefaultCatalog())
	var re *engine.RuleError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RuleError, got %v", err)
	}
	if re.Code != engine.ErrCodeUnknownNode {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeUnknownNode, re.Code)
	}
	if re.NodeID != "x" {
		t.Errorf("Expected node x, got %s", re.NodeID)
	}
	if re.Message != "unknown node name: Teleport" {
		t.Errorf("Unexpected message: %s", re.Message)
	}
}

func TestNodeTypesAreCaseInsensitive(t *testing.T) {
	g := newTestGraph()
	g.add("v", "constant", map[string]any{"value": "x"}).
		add("out", "OUTPUT", nil).
		start("start", "v").
		connect("v", "output_value", "out", "input_bool")
	rule := g.build(t, DefaultCatalog())

	got, err := rule.Execute(context.Background(), []engine.Record{{}})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got[0].Output != "x" {
		t.Errorf("Expected x, got %v", got[0].Output)
	}
}

func TestInvalidMetadata(t *testing.T) {
	g := newTestGraph()
	g.add("in", "Input", map[string]any{"default": "1"}).start("start", "in")

	_, err := engine.BuildJSON(context.Background(), g.bytes(t), DefaultCatalog())
	var re *engine.RuleError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RuleError, got %v", err)
	}
	if re.Code != engine.ErrCodeInvalidMetadata {
		t.Errorf("Expected code %s, got %s", engine.ErrCodeInvalidMetadata, re.Code)
	}
	if re.NodeID != "in" {
		t.Errorf("Expected node in, got %s", re.NodeID)
	}
}

func TestDuplicateNames(t *testing.T) {
	g := newTestGraph()
	g.add("a", "Constant", map[string]any{"value": "1", "name": "limit"}).
		add("b", "Constant", map[string]any{"value": "2", "name": "limit"}).
		start("start", "a", "b")

	_, err := engine.BuildJSON(context.Background(), g.bytes(t), DefaultCatalog())
	if !engine.IsGraph(err) {
		t.Fatalf("Expected graph error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Duplicate node names found: 'limit' (nodes: a, b)") {
		t.Errorf("Unexpected error: %v", err)
	}
}
