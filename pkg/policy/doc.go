// Package policy checks rule documents against Open Policy Agent policies.
//
// A policy is a Rego module whose deny set lists violations. Policies see the
// document as input:
//
//	{
//	  "version": "1.0",
//	  "nodes": [{"id": "age", "type": "Input", "kind": "input", "data": {"name": "age"}}],
//	  "edges": [{"from": "start", "to": "age"}]
//	}
//
// and report violations either as strings or as objects:
//
//	package custom.connectors
//
//	import rego.v1
//
//	deny contains violation if {
//	    some node in input.nodes
//	    node.kind == "connector"
//	    not node.data.default
//	    violation := {"message": sprintf("%s has no default", [node.id]), "node": node.id}
//	}
//
// Violations of error or critical severity fail the rule build when the
// engine is installed as a validator:
//
//	eng, err := policy.NewEngine(ctx, logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/rulegraph/policies"}); err != nil {
//	    return err
//	}
//	catalog.AddValidator(policy.NewValidator(eng, logger))
//
// Warnings are logged and never block. The built-in policies are
// input-naming, output-message and graph-size.
//
// Loader.Watch reloads policies when files change; pair it with
// Engine.Replace to swap the policy set atomically.
package policy
