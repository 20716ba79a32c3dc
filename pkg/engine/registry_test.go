package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func registryNode(id, typeName string, kind Kind, memory MemoryType) *stubNode {
	return &stubNode{BaseNode: NewDetachedNode(id, typeName), kind: kind, memory: memory}
}

func nodeIDs(nodes []Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID())
	}
	return ids
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewComponentRegistry()
	nodes := []*stubNode{
		registryNode("age", "Input", KindInput, MemoryState),
		registryNode("height", "Input", KindInput, MemoryState),
		registryNode("zero", "Constant", KindConstant, MemoryConstant),
		registryNode("out", "Output", KindOutput, MemoryState),
	}
	for _, n := range nodes {
		if err := reg.Register(n.ID(), n); err != nil {
			t.Fatalf("Register(%s) failed: %v", n.ID(), err)
		}
	}
	if err := reg.RegisterGenerated("input_age", registryNode("input_age", "Input", KindInput, MemoryState)); err != nil {
		t.Fatalf("RegisterGenerated() failed: %v", err)
	}

	tests := []struct {
		name       string
		remove     string
		wantIDs    []string
		wantInputs []string
		wantState  []string
		wantType   []string
	}{
		{
			name:       "input node",
			remove:     "age",
			wantIDs:    []string{"height", "zero", "out", "input_age"},
			wantInputs: []string{"height", "input_age"},
			wantState:  []string{"height", "out", "input_age"},
			wantType:   []string{"height", "input_age"},
		},
		{
			name:       "generated node",
			remove:     "input_age",
			wantIDs:    []string{"height", "zero", "out"},
			wantInputs: []string{"height"},
			wantState:  []string{"height", "out"},
			wantType:   []string{"height"},
		},
		{
			name:       "unknown id is ignored",
			remove:     "missing",
			wantIDs:    []string{"height", "zero", "out"},
			wantInputs: []string{"height"},
			wantState:  []string{"height", "out"},
			wantType:   []string{"height"},
		},
	}
	// each case removes from the registry left by the previous one
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg.Unregister(tt.remove)

			if _, ok := reg.Get(tt.remove); ok {
				t.Errorf("Expected %s to be gone", tt.remove)
			}
			if reg.IsGenerated(tt.remove) {
				t.Errorf("Expected %s to lose its generated mark", tt.remove)
			}
			if reg.Len() != len(tt.wantIDs) {
				t.Errorf("Expected Len() %d, got %d", len(tt.wantIDs), reg.Len())
			}
			if diff := cmp.Diff(tt.wantIDs, reg.IDs()); diff != "" {
				t.Errorf("IDs() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantInputs, nodeIDs(reg.ByKind(KindInput))); diff != "" {
				t.Errorf("ByKind(input) mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantState, nodeIDs(reg.ByMemoryType(MemoryState))); diff != "" {
				t.Errorf("ByMemoryType(state) mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantType, nodeIDs(reg.ByType("input"))); diff != "" {
				t.Errorf("ByType(input) mismatch (-want +got):\n%s", diff)
			}
		})
	}

	// a removed id can be registered again, under another type
	if err := reg.Register("age", registryNode("age", "Constant", KindConstant, MemoryConstant)); err != nil {
		t.Fatalf("Register() after Unregister() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"height", "zero", "out", "age"}, reg.IDs()); diff != "" {
		t.Errorf("IDs() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"zero", "age"}, nodeIDs(reg.ByType("constant"))); diff != "" {
		t.Errorf("ByType(constant) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"height"}, nodeIDs(reg.ByKind(KindInput))); diff != "" {
		t.Errorf("ByKind(input) mismatch (-want +got):\n%s", diff)
	}
	if err := reg.Register("age", registryNode("age", "Input", KindInput, MemoryState)); err == nil {
		t.Error("Expected duplicate id error")
	}
}
