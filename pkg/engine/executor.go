package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/openfroyo/rulegraph/pkg/engine"

// Recorder receives execution measurements. telemetry.Metrics implements it.
type Recorder interface {
	// RecordExecution is called once per call with its outcome.
	RecordExecution(rule string, rows int, duration time.Duration, err error)

	// RecordNode is called once per node invocation.
	RecordNode(rule, nodeType string, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordExecution(string, int, time.Duration, error) {}
func (nopRecorder) RecordNode(string, string, time.Duration, error)   {}

// RuleExecutor interprets a built rule over request batches. It is
// read-only after construction and safe for concurrent use.
type RuleExecutor struct {
	registry     *ComponentRegistry
	order        []string
	metadata     RuleMetadata
	request      *RequestSchema
	inputColumns map[string]string
	constants    map[string]any

	logger   zerolog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// NewRuleExecutor prepares the request schema, the input column mapping and
// the constant lookup of a rule.
func NewRuleExecutor(reg *ComponentRegistry, order []string, metadata RuleMetadata, opts Options) *RuleExecutor {
	e := &RuleExecutor{
		registry:     reg,
		order:        order,
		metadata:     metadata,
		inputColumns: make(map[string]string),
		constants:    make(map[string]any),
		logger:       opts.Logger.With().Str("component", "executor").Str("rule", metadata.String()).Logger(),
		recorder:     opts.Recorder,
		tracer:       opts.Tracer,
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}

	inputs := make([]InputNode, 0)
	for _, node := range reg.ByKind(KindInput) {
		in, ok := node.(InputNode)
		if !ok {
			continue
		}
		inputs = append(inputs, in)
		e.inputColumns[StateKey(node.ID(), ValueConnector)] = in.InputName()
	}
	e.request = NewRequestSchema(inputs)

	for _, node := range reg.ByMemoryType(MemoryConstant) {
		c, ok := node.(ConstantNode)
		if !ok {
			continue
		}
		for _, name := range node.OutputConnectors().Names() {
			e.constants[StateKey(node.ID(), name)] = c.ConstantValue()
		}
	}
	return e
}

// Metadata returns the rule identity.
func (e *RuleExecutor) Metadata() RuleMetadata { return e.metadata }

// ExecutionOrder returns the node evaluation order.
func (e *RuleExecutor) ExecutionOrder() []string { return append([]string(nil), e.order...) }

// RequestSchema returns the derived request schema.
func (e *RuleExecutor) RequestSchema() *RequestSchema { return e.request }

// Constants returns a copy of the constant lookup.
func (e *RuleExecutor) Constants() map[string]any {
	out := make(map[string]any, len(e.constants))
	for k, v := range e.constants {
		out[k] = v
	}
	return out
}

// Execute runs the rule over records and returns one outcome per record.
func (e *RuleExecutor) Execute(ctx context.Context, records []Record) ([]Outcome, error) {
	exec, err := e.ExecuteBatch(ctx, BatchFromRecords(records))
	if err != nil {
		return nil, err
	}
	return exec.Result(), nil
}

// ExecuteDebug runs the rule and returns the execution even when it fails.
// The execution is nil when the request did not validate.
func (e *RuleExecutor) ExecuteDebug(ctx context.Context, records []Record) (*Execution, error) {
	return e.ExecuteBatch(ctx, BatchFromRecords(records))
}

// ExecuteBatch runs the rule over a columnar batch. On failure the partial
// execution is returned alongside the error, except for validation
// failures where no execution was started.
func (e *RuleExecutor) ExecuteBatch(ctx context.Context, batch Batch) (*Execution, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "rule.execute", trace.WithAttributes(
		attribute.String("rule.name", e.metadata.Name),
		attribute.String("rule.version", e.metadata.Version),
		attribute.Int("rule.rows", batch.Rows),
	))
	defer span.End()

	exec, err := e.execute(ctx, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.recorder.RecordExecution(e.metadata.Name, batch.Rows, time.Since(start), err)
	return exec, err
}

func (e *RuleExecutor) execute(ctx context.Context, batch Batch) (*Execution, error) {
	validated, err := e.request.Validate(batch)
	if err != nil {
		e.logger.Debug().Err(err).Msg("request validation failed")
		return nil, NewValidationError(
			fmt.Sprintf("error validating rule %s version %s", e.metadata.Name, e.metadata.Version), err).
			WithCode(ErrCodeMissingInput).
			WithRule(e.metadata)
	}

	exec := newExecution(validated, e.inputColumns, e.constants)
	e.logger.Debug().Str("execution_id", exec.ID).Int("rows", exec.Rows).Msg("execution started")

	for _, id := range e.order {
		if err := ctx.Err(); err != nil {
			return exec, NewExecutionError("execution canceled", err).
				WithCode(ErrCodeCanceled).
				WithRule(e.metadata).
				WithNode(id).
				WithExecution(exec.Snapshot())
		}

		if err := e.runNode(ctx, id, exec); err != nil {
			msg := fmt.Sprintf("error executing node %s from rule %s version %s", id, e.metadata.Name, e.metadata.Version)
			code := ErrCodeNodeFailed
			if IsExecution(err) {
				msg = fmt.Sprintf("error executing a sub-rule node %s from rule %s version %s", id, e.metadata.Name, e.metadata.Version)
				code = ErrCodeSubRuleFailed
			}
			e.logger.Error().Err(err).Str("execution_id", exec.ID).Str("node_id", id).Msg("node failed")
			return exec, NewExecutionError(msg, err).
				WithCode(code).
				WithRule(e.metadata).
				WithNode(id).
				WithExecution(exec.Snapshot())
		}

		if exec.HasEnded() {
			e.logger.Debug().Str("execution_id", exec.ID).Str("node_id", id).Msg("every row answered, stopping early")
			break
		}
	}
	return exec, nil
}

func (e *RuleExecutor) runNode(ctx context.Context, id string, exec *Execution) (err error) {
	node, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("node %s is not registered", id)
	}

	mask := exec.Filters[id]

	// the mask belongs to reaching this node, whatever it produces
	exec.UpdateFilters(mask, e.registry.OutputConnections(id, ""))

	if node.MemoryType() == MemoryConstant {
		return nil
	}
	switch node.Kind() {
	case KindStart, KindInput:
		return nil
	}

	rows := exec.Rows
	if mask != nil {
		rows = mask.Count()
	}
	in := Inputs{Rows: rows, Values: make(map[string]Column)}
	inputs := node.InputConnectors()
	for _, name := range inputs.Names() {
		if IsVoidConnector(name) {
			continue
		}
		for _, conn := range inputs[name] {
			in.Values[name] = exec.Read(conn.Key(), mask)
		}
	}
	if node.Kind() == KindConnector || node.Kind() == KindFlow {
		in.Payload = exec.PayloadColumns(mask)
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "node.run", trace.WithAttributes(
		attribute.String("node.id", id),
		attribute.String("node.type", node.Type()),
		attribute.Int("node.rows", rows),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.recorder.RecordNode(e.metadata.Name, node.Type(), time.Since(start), err)
	}()

	e.logger.Debug().Str("node_id", id).Str("node_type", node.Type()).Int("rows", rows).Msg("running node")

	out, err := node.Run(withRunFrame(ctx, exec, id, mask), in)
	if err != nil {
		return err
	}
	return e.distribute(id, out, exec, mask, rows)
}

func (e *RuleExecutor) distribute(id string, out Outputs, exec *Execution, mask Mask, rows int) error {
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := out[name]
		switch {
		case name == OutputColumn || name == MessageColumn:
			col, err := ToColumn(value, rows)
			if err != nil {
				return fmt.Errorf("output %s: %w", name, err)
			}
			exec.Write(name, col, mask)
		case IsFilterConnector(name):
			sub, err := ToMask(value, rows)
			if err != nil {
				return fmt.Errorf("output %s: %w", name, err)
			}
			exec.UpdateFilters(mask.Expand(sub), e.registry.OutputConnections(id, name))
		default:
			col, err := ToColumn(value, rows)
			if err != nil {
				return fmt.Errorf("output %s: %w", name, err)
			}
			exec.Write(StateKey(id, name), col, mask)
		}
	}
	return nil
}
