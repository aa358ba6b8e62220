// Package cache implements the two-tier response cache: an exact tier
// keyed by the normalized query text and a semantic tier backed by
// vector similarity. Both tiers are best-effort; a broken backend
// degrades lookups to misses and never fails the request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/relai-dev/relai/internal/kv"
	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/vector"
)

// Payload keys stored with each semantic point.
const (
	payloadQuery    = "normalized_query"
	payloadResponse = "response"
)

// pointNamespace derives deterministic point ids from normalized queries,
// so storing the same query twice updates one point instead of piling up
// duplicates.
var pointNamespace = uuid.MustParse("7f1d3cb2-9a44-4c86-b0f5-2f6f3f1b9e21")

// Kind classifies a lookup outcome.
type Kind int

const (
	// Miss means neither tier had a usable entry.
	Miss Kind = iota
	// ExactHit means the normalized text matched an exact-tier key.
	ExactHit
	// SemanticHit means a semantic-tier neighbor met the threshold.
	SemanticHit
)

// Outcome is the result of a cache lookup. Score is set for semantic hits.
type Outcome struct {
	Kind     Kind
	Response string
	Score    float64
}

// KeyValue is the exact-tier backend.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Similarity is the semantic-tier backend.
type Similarity interface {
	Upsert(ctx context.Context, collection string, id uuid.UUID, embedding []float32, payload map[string]string) error
	Nearest(ctx context.Context, collection string, embedding []float32, limit int) ([]vector.Match, error)
}

// Options configure an Engine.
type Options struct {
	Enabled    bool
	TTL        time.Duration // exact-tier expiry; <= 0 means no expiry
	Threshold  float64       // minimum similarity for a semantic hit
	Prefix     string        // exact-tier key namespace
	Collection string        // semantic-tier collection name
}

// Engine is the two-tier cache.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	keys   KeyValue
	points Similarity
	opts   Options
	logger log.Logger
}

// New creates a cache Engine.
func New(keys KeyValue, points Similarity, opts Options, logger log.Logger) *Engine {
	return &Engine{
		keys:   keys,
		points: points,
		opts:   opts,
		logger: logger.With("component", "cache"),
	}
}

// Key returns the exact-tier key for a normalized query.
func (e *Engine) Key(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return e.opts.Prefix + hex.EncodeToString(sum[:])
}

// Lookup checks the exact tier first, then the semantic tier. A semantic
// hit primes the exact tier so the next identical query takes the cheap
// path. Backend failures are logged and reported as Miss; embedding may
// be nil to skip the semantic tier.
func (e *Engine) Lookup(ctx context.Context, normalized string, embedding []float32) Outcome {
	if !e.opts.Enabled {
		return Outcome{Kind: Miss}
	}

	key := e.Key(normalized)
	response, err := e.keys.Get(ctx, key)
	switch {
	case err == nil:
		return Outcome{Kind: ExactHit, Response: response}
	case !errors.Is(err, kv.ErrNotFound):
		e.logger.Warn("exact tier unavailable, treating as miss", "error", err)
	}

	if embedding == nil {
		return Outcome{Kind: Miss}
	}

	matches, err := e.points.Nearest(ctx, e.opts.Collection, embedding, 1)
	if err != nil {
		e.logger.Warn("semantic tier unavailable, treating as miss", "error", err)
		return Outcome{Kind: Miss}
	}
	if len(matches) == 0 || matches[0].Similarity < e.opts.Threshold {
		return Outcome{Kind: Miss}
	}

	cached, ok := matches[0].Payload[payloadResponse]
	if !ok || cached == "" {
		return Outcome{Kind: Miss}
	}

	if err := e.keys.Set(ctx, key, cached, e.opts.TTL); err != nil {
		e.logger.Warn("priming exact tier failed", "error", err)
	}

	return Outcome{Kind: SemanticHit, Response: cached, Score: matches[0].Similarity}
}

// Store writes the response to both tiers. Failures are soft: they are
// logged and the other tier is still attempted. Storing the same
// normalized query again overwrites both entries.
func (e *Engine) Store(ctx context.Context, normalized string, embedding []float32, response string) {
	if !e.opts.Enabled {
		return
	}

	if err := e.keys.Set(ctx, e.Key(normalized), response, e.opts.TTL); err != nil {
		e.logger.Warn("storing exact tier entry failed", "error", err)
	}

	if embedding == nil {
		return
	}

	id := uuid.NewSHA1(pointNamespace, []byte(normalized))
	payload := map[string]string{
		payloadQuery:    normalized,
		payloadResponse: response,
	}
	if err := e.points.Upsert(ctx, e.opts.Collection, id, embedding, payload); err != nil {
		e.logger.Warn("storing semantic tier entry failed", "error", err)
	}
}
