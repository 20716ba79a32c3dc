package redisfeature

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/nodes"
)

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts...), mr
}

func textPtr(s string) *nodes.Text {
	t := nodes.Text(s)
	return &t
}

func TestHandlerCall(t *testing.T) {
	h, mr := newTestHandler(t)
	mr.HSet(DefaultPrefix+"111", "score", "720")
	mr.HSet(DefaultPrefix+"222", "other", "1")

	got, err := h.Call(context.Background(), nodes.ConnectorCall{
		NodeID:   "f1",
		Metadata: nodes.ConnectorMetadata{Name: "score", Identifier: "cpf"},
		Rows:     4,
		Payload:  map[string]engine.Column{"cpf": {"111", "222", nil, 333}},
	})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if diff := cmp.Diff(engine.Column{"720", nil, nil, nil}, got); diff != "" {
		t.Errorf("Call() mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlerCallUsesDefault(t *testing.T) {
	h, mr := newTestHandler(t, WithPrefix("feat:"))
	mr.HSet("feat:1", "score", "650")

	got, err := h.Call(context.Background(), nodes.ConnectorCall{
		Metadata: nodes.ConnectorMetadata{Name: "score", Identifier: "id", Default: textPtr("0")},
		Rows:     3,
		Payload:  map[string]engine.Column{"id": {1, 2, nil}},
	})
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if diff := cmp.Diff(engine.Column{"650", "0", "0"}, got); diff != "" {
		t.Errorf("Call() mismatch (-want +got):\n%s", diff)
	}
}

func TestHandlerCallErrors(t *testing.T) {
	h, mr := newTestHandler(t)

	_, err := h.Call(context.Background(), nodes.ConnectorCall{
		NodeID:   "f1",
		Metadata: nodes.ConnectorMetadata{Name: "score"},
		Rows:     1,
	})
	if err == nil || !strings.Contains(err.Error(), "has no identifier") {
		t.Errorf("Expected identifier error, got %v", err)
	}

	_, err = h.Call(context.Background(), nodes.ConnectorCall{
		Metadata: nodes.ConnectorMetadata{Name: "score", Identifier: "cpf"},
		Rows:     1,
		Payload:  map[string]engine.Column{},
	})
	if err == nil || !strings.Contains(err.Error(), "missing identifier field cpf") {
		t.Errorf("Expected missing field error, got %v", err)
	}

	mr.SetError("server down")
	_, err = h.Call(context.Background(), nodes.ConnectorCall{
		Metadata: nodes.ConnectorMetadata{Name: "score", Identifier: "cpf"},
		Rows:     1,
		Payload:  map[string]engine.Column{"cpf": {"1"}},
	})
	if err == nil || !strings.Contains(err.Error(), "feature lookup failed") {
		t.Errorf("Expected lookup error, got %v", err)
	}
}

func TestPut(t *testing.T) {
	h, mr := newTestHandler(t)
	ctx := context.Background()

	if err := h.Put(ctx, "42", map[string]any{"score": 700, "segment": "A", "active": true}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if got := mr.HGet(DefaultPrefix+"42", "score"); got != "700" {
		t.Errorf("Expected score 700, got %q", got)
	}
	if got := mr.HGet(DefaultPrefix+"42", "active"); got != "True" {
		t.Errorf("Expected active True, got %q", got)
	}
	if err := h.Put(ctx, "43", nil); err != nil {
		t.Errorf("Put() with no features failed: %v", err)
	}
	if mr.Exists(DefaultPrefix + "43") {
		t.Error("Expected no hash for an empty feature set")
	}
}

func TestFields(t *testing.T) {
	h := New(nil)
	if diff := cmp.Diff([]string{"cpf"}, h.Fields(nodes.ConnectorMetadata{Identifier: "cpf"})); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
	if got := h.Fields(nodes.ConnectorMetadata{}); got != nil {
		t.Errorf("Expected no fields without identifier, got %v", got)
	}
}

func TestHandlerInRule(t *testing.T) {
	h, mr := newTestHandler(t)
	mr.HSet(DefaultPrefix+"111", "score", "720")

	catalog := nodes.DefaultCatalog()
	if err := catalog.RegisterHandler("features", h); err != nil {
		t.Fatalf("RegisterHandler() failed: %v", err)
	}

	raw := featureDocument(t, map[string]any{"name": "score", "identifier": "cpf", "resource": "features"})
	rule, err := engine.BuildJSON(context.Background(), raw, catalog)
	if err != nil {
		t.Fatalf("BuildJSON() failed: %v", err)
	}

	fields := rule.RequestSchema().Fields()
	if len(fields) != 1 || fields[0].Name != "cpf" || !fields[0].Required {
		t.Fatalf("Unexpected request schema: %+v", fields)
	}

	got, err := rule.Execute(context.Background(), []engine.Record{{"cpf": "111"}, {"cpf": "999"}})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got[0].Output != "720" || got[1].Output != nil {
		t.Errorf("Unexpected outputs: %v, %v", got[0].Output, got[1].Output)
	}

	if _, err := rule.Execute(context.Background(), []engine.Record{{"name": "x"}}); !engine.IsValidation(err) {
		t.Errorf("Expected validation error without identifier, got %v", err)
	}
}

// featureDocument wires start -> FeatureConnector -> output.
func featureDocument(t *testing.T, data map[string]any) []byte {
	t.Helper()
	doc := map[string]any{
		"nodes": map[string]any{
			"start": map[string]any{
				"id": "start", "name": "Start",
				"outputs": map[string]any{"output_up_void": map[string]any{"connections": []any{
					map[string]any{"node": "conn", "input": "input_void"},
				}}},
			},
			"conn": map[string]any{
				"id": "conn", "name": "FeatureConnector", "data": data,
				"inputs": map[string]any{"input_void": map[string]any{"connections": []any{
					map[string]any{"node": "start", "output": "output_up_void"},
				}}},
				"outputs": map[string]any{"output_value": map[string]any{"connections": []any{
					map[string]any{"node": "out", "input": "input_bool"},
				}}},
			},
			"out": map[string]any{
				"id": "out", "name": "Output",
				"inputs": map[string]any{"input_bool": map[string]any{"connections": []any{
					map[string]any{"node": "conn", "output": "output_value"},
				}}},
			},
		},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal document: %v", err)
	}
	return raw
}
