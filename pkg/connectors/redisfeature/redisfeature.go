// Package redisfeature serves connector nodes from precomputed features kept
// in Redis hashes.
//
// Every entity owns one hash named <prefix><entity id>. A connector bound to
// the handler reads the hash field named by its data.name for the entity whose
// id is found in the request field named by data.identifier:
//
//	{"name": "FeatureConnector", "data": {
//	    "name": "days_past_due", "identifier": "cpf", "resource": "features"}}
//
// Absent entities and fields answer with the connector's default.
package redisfeature

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/nodes"
)

// DefaultPrefix is the key prefix of feature hashes.
const DefaultPrefix = "rulegraph:features:"

// Handler is a connector handler reading feature hashes.
type Handler struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithPrefix sets the key prefix of feature hashes.
func WithPrefix(prefix string) Option {
	return func(h *Handler) { h.prefix = prefix }
}

// WithLogger sets the handler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New creates a handler over client.
func New(client redis.UniversalClient, opts ...Option) *Handler {
	h := &Handler{
		client: client,
		prefix: DefaultPrefix,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "redisfeature").Logger()
	return h
}

// Key returns the hash holding the features of entity id.
func (h *Handler) Key(id string) string {
	return h.prefix + id
}

// Put stores features for entity id, replacing fields already present.
func (h *Handler) Put(ctx context.Context, id string, features map[string]any) error {
	if len(features) == 0 {
		return nil
	}
	values := make(map[string]any, len(features))
	for k, v := range features {
		values[k] = engine.ToString(v)
	}
	if err := h.client.HSet(ctx, h.Key(id), values).Err(); err != nil {
		return fmt.Errorf("failed to store features for %s: %w", id, err)
	}
	return nil
}

// Fields implements nodes.FieldDeclarer. The identifier field becomes a
// required request field of every bound connector.
func (h *Handler) Fields(meta nodes.ConnectorMetadata) []string {
	if meta.Identifier == "" {
		return nil
	}
	return []string{meta.Identifier}
}

// Call implements nodes.ConnectorHandler. Lookups of one batch share a
// single pipeline.
func (h *Handler) Call(ctx context.Context, call nodes.ConnectorCall) (engine.Column, error) {
	if call.Metadata.Identifier == "" {
		return nil, fmt.Errorf("connector %s has no identifier", call.NodeID)
	}
	ids, ok := call.Payload[call.Metadata.Identifier]
	if !ok {
		return nil, fmt.Errorf("missing identifier field %s", call.Metadata.Identifier)
	}

	var fallback any
	if call.Metadata.Default != nil {
		fallback = string(*call.Metadata.Default)
	}

	out := make(engine.Column, call.Rows)
	cmds := make([]*redis.StringCmd, call.Rows)
	pipe := h.client.Pipeline()
	queued := 0
	for i := 0; i < call.Rows; i++ {
		out[i] = fallback
		if i >= len(ids) || ids[i] == nil {
			continue
		}
		cmds[i] = pipe.HGet(ctx, h.Key(engine.ToString(ids[i])), call.Metadata.Name)
		queued++
	}
	if queued == 0 {
		return out, nil
	}

	// Exec reports redis.Nil when any lookup missed; misses are read per command.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("feature lookup failed: %w", err)
	}

	misses := 0
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		v, err := cmd.Result()
		switch {
		case errors.Is(err, redis.Nil):
			misses++
		case err != nil:
			return nil, fmt.Errorf("feature lookup failed for row %d: %w", i, err)
		default:
			out[i] = v
		}
	}

	h.logger.Debug().
		Str("node_id", call.NodeID).
		Str("feature", call.Metadata.Name).
		Int("lookups", queued).
		Int("misses", misses).
		Msg("Feature lookup completed")
	return out, nil
}
