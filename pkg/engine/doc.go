// Package engine provides the core of the rulegraph decision engine: the rule
// document model, graph validation, execution ordering and the masked
// vectorized interpreter.
//
// # Overview
//
// A rule is a directed acyclic graph of typed nodes stored as a JSON document.
// Building a rule goes through four phases:
//
//  1. Parse - Decode the document into NodeDefinitions (ParseDocument)
//  2. Instantiate - Turn each definition into a Node through a Catalog
//  3. Validate - Resolve the version and run the graph Validators
//  4. Order - Compute the depth-first execution order (BuildExecutionOrder)
//
// The result is an immutable *Rule that may be executed concurrently.
//
// # Execution Model
//
// A request is a batch of records. Every node runs once per call over the
// rows that reach it. Rows are selected by boolean masks: a filter output
// such as output_then_filter narrows the rows seen by every consumer of that
// connector. Output nodes write the final value and message of their rows,
// and the run stops as soon as every row has an output.
//
// State is keyed by "node@connector":
//
//	exec.Read(StateKey("3", "output_bool"), mask)
//
// # Error Classification
//
// Every failure is a *RuleError carrying one of four classes:
//
//   - Validation: the request does not satisfy the rule's request schema
//   - Execution: a node failed while the rule was running
//   - InvalidVersion: the declared version does not match the content hash
//   - Graph: the document could not be built into a rule
//
// Use the helper functions to inspect errors:
//
//	if IsExecution(err) {
//	    var re *RuleError
//	    errors.As(err, &re)
//	    for _, frame := range re.Chain() { ... }
//	}
//
// # Example Usage
//
//	rule, err := engine.BuildJSON(ctx, data, nodes.DefaultCatalog(),
//	    engine.WithName("eligibility"))
//	if err != nil {
//	    return err
//	}
//	outcomes, err := rule.Execute(ctx, []engine.Record{{"age": 21}})
//
// # Thread Safety
//
// Rules, registries and executors are read-only after Build. Each call
// creates its own Execution, which is never shared between calls.
package engine
