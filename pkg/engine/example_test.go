package engine_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/nodes"
)

const adultRule = `{
  "nodes": {
    "start": {
      "id": "start", "name": "Start",
      "outputs": {"output_up_void": {"connections": [
        {"node": "age", "input": "input_void"},
        {"node": "limit", "input": "input_void"}
      ]}}
    },
    "age": {
      "id": "age", "name": "Input", "data": {"name": "age"},
      "inputs": {"input_void": {"connections": [{"node": "start", "output": "output_up_void"}]}},
      "outputs": {"output_value": {"connections": [{"node": "adult", "input": "input_value_0"}]}}
    },
    "limit": {
      "id": "limit", "name": "Constant", "data": {"value": "18"},
      "inputs": {"input_void": {"connections": [{"node": "start", "output": "output_up_void"}]}},
      "outputs": {"output_value": {"connections": [{"node": "adult", "input": "input_value_1"}]}}
    },
    "adult": {
      "id": "adult", "name": "Check", "data": {"operator": ">="},
      "inputs": {
        "input_value_0": {"connections": [{"node": "age", "output": "output_value"}]},
        "input_value_1": {"connections": [{"node": "limit", "output": "output_value"}]}
      },
      "outputs": {"output_bool": {"connections": [{"node": "out", "input": "input_bool"}]}}
    },
    "out": {
      "id": "out", "name": "Output", "data": {"message": "checked"},
      "inputs": {"input_bool": {"connections": [{"node": "adult", "output": "output_bool"}]}}
    }
  }
}`

// Example builds a rule from a document and runs it over two records.
func Example() {
	ctx := context.Background()

	rule, err := engine.BuildJSON(ctx, []byte(adultRule), nodes.DefaultCatalog(), engine.WithName("adult"))
	if err != nil {
		fmt.Println("build failed:", err)
		return
	}

	fmt.Println(rule.ExecutionOrder())

	outcomes, err := rule.Execute(ctx, []engine.Record{{"age": 21}, {"age": 12}})
	if err != nil {
		fmt.Println("execution failed:", err)
		return
	}
	for _, o := range outcomes {
		fmt.Println(o.Output, *o.Message)
	}

	// Output:
	// [start age limit adult out]
	// true checked
	// false checked
}

// ExampleRuleError shows how a missing request field is reported.
func ExampleRuleError() {
	ctx := context.Background()
	rule, _ := engine.BuildJSON(ctx, []byte(adultRule), nodes.DefaultCatalog(), engine.WithName("adult"))

	_, err := rule.Execute(ctx, []engine.Record{{"height": 180}})

	var re *engine.RuleError
	if errors.As(err, &re) {
		fmt.Println(re.Class, re.Code)
		fmt.Println(re.Root())
		fmt.Println(re.Problem().Status)
	}

	// Output:
	// validation MISSING_INPUT
	// missing required input: age
	// 422
}
