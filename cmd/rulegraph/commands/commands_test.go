package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

const adultRule = `{
  "nodes": {
    "start": {"id": "start", "name": "Start",
      "outputs": {"output_up_void": {"connections": [
        {"node": "age", "input": "input_void"},
        {"node": "limit", "input": "input_void"}
      ]}}},
    "age": {"id": "age", "name": "Input", "data": {"name": "age"},
      "inputs": {"input_void": {"connections": [{"node": "start", "output": "output_up_void"}]}},
      "outputs": {"output_value": {"connections": [{"node": "adult", "input": "input_value_0"}]}}},
    "limit": {"id": "limit", "name": "Constant", "data": {"value": "18"},
      "inputs": {"input_void": {"connections": [{"node": "start", "output": "output_up_void"}]}},
      "outputs": {"output_value": {"connections": [{"node": "adult", "input": "input_value_1"}]}}},
    "adult": {"id": "adult", "name": "Check", "data": {"operator": ">="},
      "inputs": {
        "input_value_0": {"connections": [{"node": "age", "output": "output_value"}]},
        "input_value_1": {"connections": [{"node": "limit", "output": "output_value"}]}
      },
      "outputs": {"output_bool": {"connections": [{"node": "out", "input": "input_bool"}]}}},
    "out": {"id": "out", "name": "Output", "data": {"message": "checked"},
      "inputs": {"input_bool": {"connections": [{"node": "adult", "output": "output_bool"}]}}}
  }
}`

const quietSettings = `
telemetry:
  logging:
    level: error
  metrics:
    enabled: false
`

// workspace writes files into a temp dir and returns their paths by name.
func workspace(t *testing.T, files map[string]string) map[string]string {
	t.Helper()
	dir := t.TempDir()
	paths := make(map[string]string, len(files))
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll() failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		paths[name] = path
	}
	return paths
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	paths := workspace(t, map[string]string{
		"settings.yaml": quietSettings,
		"adult.json":    adultRule,
		"broken.json":   `{"nodes": {"a": {"name": "Missing"}}}`,
	})

	out, err := execute(t, "", "validate", "-c", paths["settings.yaml"], paths["adult.json"])
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok    "+paths["adult.json"]) {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = execute(t, "", "validate", "--json", "-c", paths["settings.yaml"], paths["adult.json"], paths["broken.json"])
	if err == nil || !strings.Contains(err.Error(), "1 of 2 rules failed validation") {
		t.Fatalf("expected one failure, got %v", err)
	}
	var reports []validationReport
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("failed to decode report %q: %v", out, err)
	}
	if len(reports) != 2 || !reports[0].Valid || reports[1].Valid || reports[1].Class != "graph" {
		t.Errorf("unexpected reports: %+v", reports)
	}
}

func TestRunCommand(t *testing.T) {
	paths := workspace(t, map[string]string{
		"settings.yaml": quietSettings,
		"adult.json":    adultRule,
		"records.json":  `[{"age": 21}, {"age": 12}, {"age": 18}]`,
	})

	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{name: "file", args: []string{"-i", paths["records.json"]}},
		{name: "stdin", stdin: `[{"age": 21}, {"age": 12}, {"age": 18}]`},
		{name: "chunked", args: []string{"-i", paths["records.json"], "--chunk-size", "1", "--parallel", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "-c", paths["settings.yaml"], paths["adult.json"]}, tt.args...)
			out, err := execute(t, tt.stdin, args...)
			if err != nil {
				t.Fatalf("run failed: %v\n%s", err, out)
			}
			var outcomes []engine.Outcome
			if err := json.Unmarshal([]byte(out), &outcomes); err != nil {
				t.Fatalf("failed to decode outcomes %q: %v", out, err)
			}
			got := make([]any, len(outcomes))
			for i, o := range outcomes {
				got[i] = o.Output
			}
			if diff := cmp.Diff([]any{true, false, true}, got); diff != "" {
				t.Errorf("outputs mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := execute(t, `{"height": 180}`, "run", "-c", paths["settings.yaml"], paths["adult.json"])
	if !engine.IsValidation(err) {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestHashCommand(t *testing.T) {
	doc, err := engine.ParseDocument([]byte(adultRule))
	if err != nil {
		t.Fatalf("ParseDocument() failed: %v", err)
	}
	hash, err := engine.ContentHash(doc.Raw)
	if err != nil {
		t.Fatalf("ContentHash() failed: %v", err)
	}
	declared := strings.Replace(adultRule, `"nodes"`, `"version": "`+hash+`.v2", "nodes"`, 1)
	wrong := strings.Replace(adultRule, `"nodes"`, `"version": "deadbeef", "nodes"`, 1)

	paths := workspace(t, map[string]string{
		"plain.json":    adultRule,
		"declared.json": declared,
		"wrong.json":    wrong,
	})

	out, err := execute(t, "", "hash", paths["plain.json"], paths["declared.json"])
	if err != nil {
		t.Fatalf("hash failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, hash+"  "+paths["plain.json"]+" (undeclared)") || !strings.Contains(out, hash+"  "+paths["declared.json"]+"\n") {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = execute(t, "", "hash", paths["wrong.json"])
	if err == nil || !strings.Contains(out, "(declared deadbeef)") {
		t.Errorf("expected mismatch, got %v: %q", err, out)
	}
	if _, err := execute(t, "", "hash", "--no-fail", paths["wrong.json"]); err != nil {
		t.Errorf("expected --no-fail to succeed, got %v", err)
	}
}

func TestOrderCommand(t *testing.T) {
	paths := workspace(t, map[string]string{
		"settings.yaml": quietSettings,
		"adult.json":    adultRule,
	})

	out, err := execute(t, "", "order", "--json", "-c", paths["settings.yaml"], paths["adult.json"])
	if err != nil {
		t.Fatalf("order failed: %v\n%s", err, out)
	}
	var got struct {
		Order []string `json:"order"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("failed to decode order %q: %v", out, err)
	}
	if diff := cmp.Diff([]string{"start", "age", "limit", "adult", "out"}, got.Order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	out, err = execute(t, "", "order", "-f", "dot", "-c", paths["settings.yaml"], paths["adult.json"])
	if err != nil || !strings.HasPrefix(out, "digraph") {
		t.Errorf("expected DOT output, got %v: %q", err, out)
	}

	if _, err := execute(t, "", "order", "-f", "svg", "-c", paths["settings.yaml"], paths["adult.json"]); err == nil {
		t.Error("expected error for an unsupported format")
	}
}

func TestInspectCommand(t *testing.T) {
	paths := workspace(t, map[string]string{
		"settings.yaml": quietSettings,
		"adult.json":    adultRule,
	})

	out, err := execute(t, `{"age": 17}`, "inspect", "-c", paths["settings.yaml"], paths["adult.json"], "-i", "-")
	if err != nil {
		t.Fatalf("inspect failed: %v\n%s", err, out)
	}
	var report inspectReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to decode report %q: %v", out, err)
	}
	if len(report.Nodes) != 5 || len(report.Records) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	rec := report.Records[0]
	if rec.Outputs.Output != false || rec.Nodes["adult"]["output_bool"] != false {
		t.Errorf("unexpected record: %+v", rec)
	}
	for _, n := range report.Nodes {
		if n.ID == "adult" && n.Metadata["operator"] != ">=" {
			t.Errorf("expected the check operator in metadata, got %v", n.Metadata)
		}
	}
}

func TestConnectorsAndPolicies(t *testing.T) {
	connectorRule := `{
  "nodes": {
    "start": {"id": "start", "name": "Start",
      "outputs": {"output_up_void": {"connections": [{"node": "c", "input": "input_void"}]}}},
    "c": {"id": "c", "name": "FeatureConnector", "data": {"name": "installment", "resource": "affordability"},
      "inputs": {"input_void": {"connections": [{"node": "start", "output": "output_up_void"}]}},
      "outputs": {"output_value": {"connections": [{"node": "out", "input": "input_bool"}]}}},
    "out": {"id": "out", "name": "Output", "data": {"message": "ok"},
      "inputs": {"input_bool": {"connections": [{"node": "c", "output": "output_value"}]}}}
  }
}`
	paths := workspace(t, map[string]string{
		"scripts/affordability.star": "FIELDS = [\"income\"]\n\ndef call(row, node):\n    return row.payload[\"income\"] * 0.5\n",
		"connector.json":             connectorRule,
		"upper.json":                 strings.Replace(adultRule, `"data": {"name": "age"}`, `"data": {"name": "Age"}`, 1),
	})
	settings := filepath.Join(filepath.Dir(paths["connector.json"]), "settings.yaml")
	content := quietSettings + "connectors:\n  script_dir: " + filepath.Dir(paths["scripts/affordability.star"]) + "\npolicies:\n  enabled: true\n"
	if err := os.WriteFile(settings, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	out, err := execute(t, `[{"income": 100}]`, "run", "-c", settings, paths["connector.json"])
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"output": 50`) {
		t.Errorf("unexpected output: %q", out)
	}

	_, err = execute(t, "", "validate", "-c", settings, paths["upper.json"])
	if err == nil {
		t.Error("expected the input naming policy to reject the rule")
	}
}
