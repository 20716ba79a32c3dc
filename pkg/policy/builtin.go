package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		inputNamingPolicy(),
		outputMessagePolicy(),
		graphSizePolicy(),
	}
}

// inputNamingPolicy keeps request field names usable as identifiers.
func inputNamingPolicy() Policy {
	return Policy{
		Name:        "input-naming",
		Description: "Request fields read by Input nodes must be lowercase identifiers",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "inputs"},
		Rego: `package rulegraph.policies.inputs

import rego.v1

deny contains violation if {
	some node in input.nodes
	node.type == "Input"
	name := node.data.name
	not regex.match("^[a-z_][a-z0-9_]*$", name)
	violation := {
		"message": sprintf("input %s reads field '%s' which is not a lowercase identifier", [node.id, name]),
		"node": node.id,
	}
}`,
	}
}

// outputMessagePolicy flags outputs that answer without a message.
func outputMessagePolicy() Policy {
	return Policy{
		Name:        "output-message",
		Description: "Output nodes should carry a message explaining the decision",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"outputs"},
		Rego: `package rulegraph.policies.outputs

import rego.v1

deny contains violation if {
	some node in input.nodes
	node.type == "Output"
	not node.data.message
	violation := {
		"message": sprintf("output %s has no message", [node.id]),
		"node": node.id,
	}
}`,
	}
}

// graphSizePolicy bounds the number of nodes in one document.
func graphSizePolicy() Policy {
	return Policy{
		Name:        "graph-size",
		Description: "Rule documents must not exceed 500 nodes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits"},
		Rego: `package rulegraph.policies.size

import rego.v1

max_nodes := 500

deny contains violation if {
	count(input.nodes) > max_nodes
	violation := {
		"message": sprintf("document has %d nodes, the limit is %d", [count(input.nodes), max_nodes]),
	}
}`,
	}
}
