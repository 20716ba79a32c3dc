package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxFlowDepth bounds how deeply sub-rules may be nested.
const DefaultMaxFlowDepth = 8

// Factory builds a node from its document definition.
type Factory func(def NodeDefinition, bc BuildContext) (Node, error)

// Catalog resolves node type names to factories. Lookups are case-insensitive.
type Catalog interface {
	Lookup(typeName string) (Factory, bool)
}

// Options configures how a rule is built and run.
type Options struct {
	// Name is the rule name reported in errors and metrics.
	Name string

	// Version controls the declared version check.
	Version VersionOptions

	// Validators replaces the default structural validators when non-nil.
	Validators []Validator

	// ExtraValidators run after the structural and catalog validators.
	ExtraValidators []Validator

	// MaxFlowDepth bounds sub-rule nesting. Zero means DefaultMaxFlowDepth.
	MaxFlowDepth int

	// Logger receives build warnings and per-node debug logs.
	Logger zerolog.Logger

	// Recorder receives execution measurements.
	Recorder Recorder

	// Tracer creates execution spans. Nil uses the global tracer provider.
	Tracer trace.Tracer
}

// Option mutates Options.
type Option func(*Options)

// WithName sets the rule name.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithVersionOptions sets how the declared version is checked.
func WithVersionOptions(v VersionOptions) Option {
	return func(o *Options) { o.Version = v }
}

// WithValidators adds validators run after the built-in ones.
func WithValidators(validators ...Validator) Option {
	return func(o *Options) { o.ExtraValidators = append(o.ExtraValidators, validators...) }
}

// WithMaxFlowDepth bounds sub-rule nesting.
func WithMaxFlowDepth(depth int) Option {
	return func(o *Options) { o.MaxFlowDepth = depth }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithRecorder sets the execution measurement sink.
func WithRecorder(r Recorder) Option {
	return func(o *Options) { o.Recorder = r }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

// NewOptions returns the defaults with opts applied.
func NewOptions(opts ...Option) Options {
	o := Options{
		Version:      DefaultVersionOptions(),
		MaxFlowDepth: DefaultMaxFlowDepth,
		Logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxFlowDepth <= 0 {
		o.MaxFlowDepth = DefaultMaxFlowDepth
	}
	return o
}

// BuildContext is handed to factories while a rule is built.
type BuildContext struct {
	// Context is the build context.
	Context context.Context

	// Catalog is the catalog the rule is built from.
	Catalog Catalog

	// Options are the options of the rule being built.
	Options Options

	// Rule is the metadata of the rule being built. Its version is empty
	// until the version has been resolved.
	Rule RuleMetadata

	// Depth is the sub-rule nesting depth, zero for a top-level rule.
	Depth int

	// ancestors holds the content hashes of the enclosing rules.
	ancestors []string
}

// BuildChild builds a sub-rule from an embedded document. Child rules are
// built with the parent's catalog and options but their own name, and are
// rejected when they exceed the nesting depth or embed one of their ancestors.
func (bc BuildContext) BuildChild(doc *Document, name string) (*Rule, error) {
	if bc.Depth+1 > bc.Options.MaxFlowDepth {
		return nil, NewGraphError(
			fmt.Sprintf("sub-rule %s exceeds the maximum nesting depth of %d", name, bc.Options.MaxFlowDepth), nil).
			WithCode(ErrCodeFlowDepth)
	}

	hash, err := ContentHash(doc.Raw)
	if err != nil {
		return nil, NewGraphError(fmt.Sprintf("failed to hash sub-rule %s", name), err).
			WithCode(ErrCodeInvalidDocument)
	}
	for _, ancestor := range bc.ancestors {
		if ancestor == hash {
			return nil, NewGraphError(fmt.Sprintf("sub-rule %s embeds one of its enclosing rules", name), nil).
				WithCode(ErrCodeFlowDepth).
				WithDetail("hash", hash)
		}
	}

	opts := bc.Options
	opts.Name = name
	// a drifted child fails the parent build under strict checking; children
	// need not declare a version
	opts.Version.RequireDeclared = false

	child := BuildContext{
		Context:   bc.Context,
		Catalog:   bc.Catalog,
		Options:   opts,
		Depth:     bc.Depth + 1,
		ancestors: append(append([]string(nil), bc.ancestors...), hash),
	}
	return build(child, doc)
}

// Rule is a built, immutable rule: its nodes, evaluation order and executor.
type Rule struct {
	*RuleExecutor

	document *Document
	orphans  []string
	depth    int
}

// Build parses nothing: it turns a parsed document into a rule using the
// catalog's factories, then resolves the version, runs the validators and
// computes the execution order.
func Build(ctx context.Context, doc *Document, catalog Catalog, opts ...Option) (*Rule, error) {
	o := NewOptions(opts...)
	hash, err := ContentHash(doc.Raw)
	if err != nil {
		return nil, NewGraphError("failed to hash rule document", err).WithCode(ErrCodeInvalidDocument)
	}
	bc := BuildContext{
		Context:   ctx,
		Catalog:   catalog,
		Options:   o,
		ancestors: []string{hash},
	}
	return build(bc, doc)
}

// BuildJSON parses a JSON document and builds it.
func BuildJSON(ctx context.Context, data []byte, catalog Catalog, opts ...Option) (*Rule, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return Build(ctx, doc, catalog, opts...)
}

func build(bc BuildContext, doc *Document) (*Rule, error) {
	logger := bc.Options.Logger.With().Str("component", "builder").Str("rule", bc.Options.Name).Logger()
	bc.Rule = RuleMetadata{Name: bc.Options.Name}

	reg, err := buildRegistry(bc, doc)
	if err != nil {
		return nil, err
	}

	version, err := ResolveVersion(doc, bc.Options.Version)
	if err != nil {
		var re *RuleError
		if ok := asRuleError(err, &re); ok {
			re.WithRule(RuleMetadata{Name: bc.Options.Name, Version: doc.Version})
		}
		return nil, err
	}
	meta := RuleMetadata{Name: bc.Options.Name, Version: version}

	validators := bc.Options.Validators
	if validators == nil {
		validators = DefaultValidators()
	}
	if vp, ok := bc.Catalog.(ValidatorProvider); ok {
		validators = append(append([]Validator(nil), validators...), vp.Validators()...)
	}
	validators = append(validators, bc.Options.ExtraValidators...)

	in := ValidationInput{Document: doc, Registry: reg, Edges: reg.CalculateEdges()}
	if err := RunValidators(bc.Context, validators, in); err != nil {
		var re *RuleError
		if asRuleError(err, &re) {
			re.WithRule(meta)
		}
		return nil, err
	}

	order, orphans, err := BuildExecutionOrder(reg)
	if err != nil {
		var re *RuleError
		if asRuleError(err, &re) {
			re.WithRule(meta)
		}
		return nil, err
	}
	if len(orphans) > 0 {
		logger.Warn().Strs("orphans", orphans).Msg("nodes unreachable from start are never evaluated")
	}

	logger.Debug().
		Str("version", version).
		Int("nodes", reg.Len()).
		Int("depth", bc.Depth).
		Msg("rule built")

	return &Rule{
		RuleExecutor: NewRuleExecutor(reg, order, meta, bc.Options),
		document:     doc,
		orphans:      orphans,
		depth:        bc.Depth,
	}, nil
}

func buildRegistry(bc BuildContext, doc *Document) (*ComponentRegistry, error) {
	reg := NewComponentRegistry()
	for _, id := range doc.NodeIDs() {
		def := doc.Nodes[id]
		factory, ok := bc.Catalog.Lookup(strings.ToLower(def.Name))
		if !ok {
			return nil, NewGraphError(fmt.Sprintf("unknown node name: %s", def.Name), nil).
				WithCode(ErrCodeUnknownNode).
				WithNode(id).
				WithRule(bc.Rule)
		}

		node, err := factory(def, bc)
		if err != nil {
			var re *RuleError
			if asRuleError(err, &re) {
				if re.NodeID == "" {
					re.WithNode(id)
				}
				if re.Rule == (RuleMetadata{}) {
					re.WithRule(bc.Rule)
				}
				return nil, err
			}
			return nil, NewGraphError(fmt.Sprintf("failed to build node %s of type %s", id, def.Name), err).
				WithCode(ErrCodeInvalidMetadata).
				WithNode(id).
				WithRule(bc.Rule)
		}

		if gen, ok := node.(InputGenerator); ok {
			for _, in := range gen.GenerateInputNodes() {
				if _, exists := reg.Get(in.ID()); exists {
					continue
				}
				if err := reg.RegisterGenerated(in.ID(), in); err != nil {
					return nil, err
				}
			}
		}
		if err := reg.Register(id, node); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Metadata returns the rule identity.
func (r *Rule) Metadata() RuleMetadata { return r.metadata }

// Name returns the rule name.
func (r *Rule) Name() string { return r.metadata.Name }

// Version returns the effective version.
func (r *Rule) Version() string { return r.metadata.Version }

// Document returns the document the rule was built from.
func (r *Rule) Document() *Document { return r.document }

// Registry returns the rule's nodes. It must not be mutated.
func (r *Rule) Registry() *ComponentRegistry { return r.registry }

// Orphans returns the nodes unreachable from the start node.
func (r *Rule) Orphans() []string {
	orphans := make([]string, len(r.orphans))
	copy(orphans, r.orphans)
	return orphans
}

// Depth returns the sub-rule nesting depth of the rule.
func (r *Rule) Depth() int { return r.depth }

// ToDOT renders the rule graph in Graphviz DOT format.
func (r *Rule) ToDOT() string { return ToDOT(r.registry, r.order) }
