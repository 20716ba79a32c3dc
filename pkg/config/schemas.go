package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// GraphSchema is the name of the built-in rule document schema.
const GraphSchema = "graph"

// SchemaRegistry manages CUE schemas for validation. A cue.Context is not
// safe for concurrent use, so every operation holds the lock.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.Mutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(GraphSchema, builtinGraphSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema registers a CUE schema with the given name. Documents are
// unified with the schema's #Schema definition when it has one, and with its
// top level otherwise.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// HasSchema reports whether a schema is registered under name.
func (sr *SchemaRegistry) HasSchema(name string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	_, ok := sr.schemas[name]
	return ok
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a JSON or CUE source against a named schema. Positions in
// the returned errors refer to filename.
func (sr *SchemaRegistry) Validate(schemaName, filename string, src []byte) (ValidationErrors, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	val := sr.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err, filename), nil
	}
	return sr.check(schema, val, filename), nil
}

// ValidateAgainstSchema validates a Go value against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if errs := sr.check(schema, dataVal, ""); len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errs)
	}
	return nil
}

// ExportJSON evaluates a CUE source and returns it as JSON. The source must
// evaluate to concrete values.
func (sr *SchemaRegistry) ExportJSON(filename string, src []byte) ([]byte, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err, filename)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err, filename)
	}
	out, err := val.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", filename, err)
	}
	return out, nil
}

func (sr *SchemaRegistry) check(schema, val cue.Value, filename string) ValidationErrors {
	if root := schema.LookupPath(cue.ParsePath("#Schema")); root.Exists() {
		schema = root
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err, filename)
	}
	return nil
}

// convertCUEErrors converts CUE errors to validation errors. Positions in
// file are preferred over positions in the schema.
func convertCUEErrors(err error, file string) ValidationErrors {
	var out ValidationErrors

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var at token.Pos
		for _, p := range pos {
			if p.Filename() == file {
				at = p
				break
			}
		}
		if !at.IsValid() && len(pos) > 0 {
			at = pos[0]
		}

		var filename string
		var line, column int
		if at.IsValid() {
			filename = at.Filename()
			line = at.Line()
			column = at.Column()
		}

		out = append(out, ValidationError{
			File:    filename,
			Line:    line,
			Column:  column,
			Path:    pathString(e.Path()),
			Message: errors.Details(e, nil),
		})
	}
	return out
}

func pathString(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

// builtinGraphSchema describes the shape of a rule document. Node metadata
// is left to the node factories.
const builtinGraphSchema = `
#Link: {
	node:    string | number
	output?: string
	input?:  string
	...
}

#Port: null | {
	connections: [...#Link]
	...
}

#Node: {
	id?:      string | number
	name:     string & =~"\\S"
	data?:    _
	inputs?:  {[string]: #Port}
	outputs?: {[string]: #Port}
	...
}

#Schema: {
	version?: string
	nodes!: {[string]: #Node}
	...
}
`
