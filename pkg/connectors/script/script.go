// Package script implements connector handlers written in Starlark.
//
// A script defines a call function evaluated once per active row:
//
//	FIELDS = ["income"]
//
//	def call(row, node):
//	    if row.payload["income"] == None:
//	        return None
//	    return row.payload["income"] * 0.3
//
// row has three dicts: payload (request fields), inputs (wired input
// connectors) and fields (inputs renamed through headers). node exposes the
// connector's id, type, name, resource, source, service and identifier.
// The optional FIELDS list declares the request fields the script reads; each
// becomes a required input of every connector bound to the handler.
package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/nodes"
)

const (
	// FunctionName is the function every script must define.
	FunctionName = "call"

	// FieldsName is the optional global listing the request fields a script reads.
	FieldsName = "FIELDS"

	// Extension is the file extension LoadDir picks up.
	Extension = ".star"
)

// Handler is a compiled Starlark connector. Its globals are frozen after
// loading, so one Handler may serve concurrent calls.
type Handler struct {
	name     string
	fn       starlark.Callable
	fields   []string
	timeout  time.Duration
	maxSteps uint64
	logger   zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeout bounds a whole batch call. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// WithMaxSteps bounds the Starlark computation steps of a batch call.
func WithMaxSteps(steps uint64) Option {
	return func(h *Handler) { h.maxSteps = steps }
}

// WithLogger receives the script's print output at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New compiles src and checks that it defines the call function.
func New(name, src string, opts ...Option) (*Handler, error) {
	h := &Handler{
		name:    name,
		timeout: 30 * time.Second, // Default timeout
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "script").Str("script", name).Logger()

	thread := h.newThread()
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	globals, err := starlark.ExecFile(thread, name+Extension, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %s: %w", name, err)
	}
	globals.Freeze()

	fn, ok := globals[FunctionName].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script %s does not define a %s function", name, FunctionName)
	}
	h.fn = fn

	if v, ok := globals[FieldsName]; ok {
		raw, err := fromStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("script %s: %s: %w", name, FieldsName, err)
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("script %s: %s must be a list of strings", name, FieldsName)
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("script %s: %s must be a list of strings", name, FieldsName)
			}
			h.fields = append(h.fields, s)
		}
	}
	return h, nil
}

// Load compiles a script file. The handler is named after the file without
// its extension.
func Load(path string, opts ...Option) (*Handler, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return New(name, string(src), opts...)
}

// LoadDir compiles every script of a directory in name order.
func LoadDir(dir string, opts ...Option) ([]*Handler, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read script directory: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	handlers := make([]*Handler, 0, len(paths))
	for _, path := range paths {
		h, err := Load(path, opts...)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// Register binds every handler to the catalog under its name.
func Register(catalog *nodes.Catalog, handlers ...*Handler) error {
	for _, h := range handlers {
		if err := catalog.RegisterHandler(h.name, h); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the handler name.
func (h *Handler) Name() string { return h.name }

// Fields implements nodes.FieldDeclarer.
func (h *Handler) Fields(nodes.ConnectorMetadata) []string {
	return append([]string(nil), h.fields...)
}

// Call implements nodes.ConnectorHandler.
func (h *Handler) Call(ctx context.Context, call nodes.ConnectorCall) (engine.Column, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	thread := h.newThread()
	if h.maxSteps > 0 {
		thread.SetMaxExecutionSteps(h.maxSteps)
	}

	type result struct {
		col engine.Column
		err error
	}
	done := make(chan result, 1)
	go func() {
		col, err := h.run(thread, call)
		done <- result{col: col, err: err}
	}()

	select {
	case <-ctx.Done():
		thread.Cancel(ctx.Err().Error())
		<-done
		return nil, fmt.Errorf("script %s: %w", h.name, ctx.Err())
	case res := <-done:
		return res.col, res.err
	}
}

func (h *Handler) run(thread *starlark.Thread, call nodes.ConnectorCall) (engine.Column, error) {
	node := starlarkstruct.FromStringDict(starlark.String("node"), starlark.StringDict{
		"id":         starlark.String(call.NodeID),
		"type":       starlark.String(call.Type),
		"name":       starlark.String(call.Metadata.Name),
		"resource":   starlark.String(call.Metadata.Resource),
		"source":     starlark.String(call.Metadata.Source),
		"service":    starlark.String(call.Metadata.Service),
		"identifier": starlark.String(call.Metadata.Identifier),
	})

	out := make(engine.Column, call.Rows)
	for i := 0; i < call.Rows; i++ {
		payload, err := rowDict(call.Payload, i)
		if err != nil {
			return nil, fmt.Errorf("script %s row %d: %w", h.name, i, err)
		}
		inputs, err := rowDict(call.Inputs, i)
		if err != nil {
			return nil, fmt.Errorf("script %s row %d: %w", h.name, i, err)
		}
		fields, err := rowDict(call.Fields, i)
		if err != nil {
			return nil, fmt.Errorf("script %s row %d: %w", h.name, i, err)
		}
		row := starlarkstruct.FromStringDict(starlark.String("row"), starlark.StringDict{
			"payload": payload,
			"inputs":  inputs,
			"fields":  fields,
		})

		v, err := starlark.Call(thread, h.fn, starlark.Tuple{row, node}, nil)
		if err != nil {
			return nil, fmt.Errorf("script %s row %d: %w", h.name, i, err)
		}
		cell, err := fromStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("script %s row %d: %w", h.name, i, err)
		}
		out[i] = cell
	}
	return out, nil
}

func (h *Handler) newThread() *starlark.Thread {
	return &starlark.Thread{
		Name: h.name,
		Print: func(_ *starlark.Thread, msg string) {
			h.logger.Debug().Msg(msg)
		},
	}
}
