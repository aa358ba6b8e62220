// Package pipeline orchestrates one chat request from normalized text to
// a single answer: cache check, intent classification, topic resolution,
// retrieval, generation, cache population, and history persistence.
//
// Stages run strictly in order within a request. Cache and retrieval
// failures degrade (miss / empty context); only malformed input and
// generation failure are terminal. Every request yields exactly one
// answer or one terminal error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relai-dev/relai/internal/cache"
	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/history"
	"github.com/relai-dev/relai/internal/llm"
	"github.com/relai-dev/relai/internal/log"
)

var (
	// ErrEmptyQuery indicates the query was empty after normalization.
	ErrEmptyQuery = errors.New("empty query")

	// ErrGeneration indicates the model failed to answer; terminal for
	// the request, the connection stays usable.
	ErrGeneration = errors.New("generation failed")
)

// Per-stage timeouts. Backend calls never inherit an unbounded context.
const (
	embedTimeout    = 15 * time.Second
	cacheTimeout    = 3 * time.Second
	resolveTimeout  = 30 * time.Second
	retrieveTimeout = 10 * time.Second
	generateTimeout = 60 * time.Second
	persistTimeout  = 5 * time.Second
)

// Source records which stage answered a request.
type Source string

const (
	SourceExactCache    Source = "cache_exact"
	SourceSemanticCache Source = "cache_semantic"
	SourceTemplate      Source = "template"
	SourceClarification Source = "clarification"
	SourceCount         Source = "count"
	SourceGenerated     Source = "generated"
)

// Request is one inbound chat message.
type Request struct {
	Conversation uuid.UUID
	Text         string
}

// Response is the single answer to a request. Text is also set alongside
// ErrGeneration so the transport can show the configured failure message.
type Response struct {
	Text   string
	Source Source
}

// Cache is the two-tier response cache.
type Cache interface {
	Lookup(ctx context.Context, normalized string, embedding []float32) cache.Outcome
	Store(ctx context.Context, normalized string, embedding []float32, response string)
}

// Resolver maps a query to a document index.
type Resolver interface {
	Resolve(ctx context.Context, query string, schema config.IndexSchema, prompts *config.PromptConfig) (string, error)
}

// Retriever searches a document index.
type Retriever interface {
	Retrieve(ctx context.Context, index string, embedding []float32, limit int) ([]string, error)
	Count(ctx context.Context, index string) (int64, error)
}

// History persists conversation turns.
type History interface {
	Append(ctx context.Context, conversation uuid.UUID, role, content string) error
	Recent(ctx context.Context, conversation uuid.UUID, limit int) ([]history.Turn, error)
}

// Options configure a Pipeline.
type Options struct {
	RetrievalLimit int
	HistoryDepth   int
}

// Pipeline executes the request flow.
//
// Pipeline is safe for concurrent use by multiple goroutines; each
// request is independent.
type Pipeline struct {
	snapshots *config.Store
	generator llm.Generator
	embedder  llm.Embedder
	cache     Cache
	resolver  Resolver
	retriever Retriever
	history   History
	opts      Options
	logger    log.Logger
}

// New creates a Pipeline.
func New(snapshots *config.Store, generator llm.Generator, embedder llm.Embedder,
	c Cache, resolver Resolver, retriever Retriever, hist History,
	opts Options, logger log.Logger) *Pipeline {

	if opts.RetrievalLimit < 1 {
		opts.RetrievalLimit = 5
	}
	if opts.HistoryDepth < 1 {
		opts.HistoryDepth = 6
	}
	return &Pipeline{
		snapshots: snapshots,
		generator: generator,
		embedder:  embedder,
		cache:     c,
		resolver:  resolver,
		retriever: retriever,
		history:   hist,
		opts:      opts,
		logger:    logger.With("component", "pipeline"),
	}
}

// Handle answers one request. The behavior snapshot is captured once at
// the start; a concurrent config reload does not affect this request.
func (p *Pipeline) Handle(ctx context.Context, req Request) (Response, error) {
	normalized := Normalize(req.Text)
	if normalized == "" {
		return Response{}, ErrEmptyQuery
	}

	snap := p.snapshots.Current()
	embedding := p.embed(ctx, normalized)

	if out := p.lookupCache(ctx, normalized, embedding); out.Kind != cache.Miss {
		source := SourceExactCache
		if out.Kind == cache.SemanticHit {
			source = SourceSemanticCache
			p.logger.Debug("semantic cache hit", "score", out.Score)
		}
		p.record(ctx, req.Conversation, req.Text, out.Response)
		return Response{Text: out.Response, Source: source}, nil
	}

	if name, intent, ok := classifyIntent(normalized, snap.Prompts.Intents); ok {
		switch intent.Action {
		case config.ActionTemplate:
			text := snap.Prompts.ResponseTemplate(name)
			p.record(ctx, req.Conversation, req.Text, text)
			return Response{Text: text, Source: SourceTemplate}, nil
		case config.ActionLLM:
			return p.generalAnswer(ctx, snap, req, normalized, embedding)
		}
		// call_rag_tool and unknown actions take the retrieval route.
	}

	return p.ragAnswer(ctx, snap, req, normalized, embedding)
}

// generalAnswer handles intents that call the model without retrieval.
func (p *Pipeline) generalAnswer(ctx context.Context, snap *config.Snapshot, req Request, normalized string, embedding []float32) (Response, error) {
	template, _ := snap.Prompts.QueryTemplate(config.TemplateGeneralLLM)
	prompt := config.RenderTemplate(template, map[string]string{
		"query":   req.Text,
		"history": p.historyContext(ctx, req.Conversation),
	})

	answer, err := p.generate(ctx, prompt)
	if err != nil {
		return Response{Text: snap.Prompts.ResponseTemplate(config.ResponseGenerationFailed)},
			fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	p.storeCache(ctx, normalized, embedding, answer)
	p.record(ctx, req.Conversation, req.Text, answer)
	return Response{Text: answer, Source: SourceGenerated}, nil
}

// ragAnswer runs topic resolution, retrieval, and generation.
func (p *Pipeline) ragAnswer(ctx context.Context, snap *config.Snapshot, req Request, normalized string, embedding []float32) (Response, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	index, err := p.resolver.Resolve(resolveCtx, req.Text, snap.Schema, snap.Prompts)
	cancel()
	if err != nil {
		text := snap.Prompts.ResponseTemplate(config.ResponseClarification)
		p.record(ctx, req.Conversation, req.Text, text)
		return Response{Text: text, Source: SourceClarification}, nil
	}

	if isCountQuery(normalized) {
		if resp, ok := p.countAnswer(ctx, snap, req, index); ok {
			return resp, nil
		}
		// Count lookup failed; fall through to the normal retrieval path.
	}

	docs := p.retrieve(ctx, index, embedding)

	template, _ := snap.Prompts.QueryTemplate(config.TemplateFinalAnswer)
	prompt := config.RenderTemplate(template, map[string]string{
		"query":   req.Text,
		"context": strings.Join(docs, "\n\n"),
		"history": p.historyContext(ctx, req.Conversation),
	})

	answer, err := p.generate(ctx, prompt)
	if err != nil {
		return Response{Text: snap.Prompts.ResponseTemplate(config.ResponseGenerationFailed)},
			fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	p.storeCache(ctx, normalized, embedding, answer)
	p.record(ctx, req.Conversation, req.Text, answer)
	return Response{Text: answer, Source: SourceGenerated}, nil
}

// countAnswer answers count-style questions from index statistics. Count
// responses are not cached; the number changes as documents are indexed.
func (p *Pipeline) countAnswer(ctx context.Context, snap *config.Snapshot, req Request, index string) (Response, bool) {
	countCtx, cancel := context.WithTimeout(ctx, retrieveTimeout)
	defer cancel()

	n, err := p.retriever.Count(countCtx, index)
	if err != nil {
		p.logger.Warn("document count failed", "index", index, "error", err)
		return Response{}, false
	}

	text := config.RenderTemplate(snap.Prompts.ResponseTemplate(config.ResponseCount), map[string]string{
		"index": index,
		"count": strconv.FormatInt(n, 10),
	})
	p.record(ctx, req.Conversation, req.Text, text)
	return Response{Text: text, Source: SourceCount}, true
}

// embed computes the query embedding. Failures degrade to nil, which
// skips the semantic cache tier and retrieval.
func (p *Pipeline) embed(ctx context.Context, normalized string) []float32 {
	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	embedding, err := p.embedder.Embed(embedCtx, normalized)
	if err != nil {
		p.logger.Warn("embedding failed, semantic features disabled for request", "error", err)
		return nil
	}
	return embedding
}

func (p *Pipeline) lookupCache(ctx context.Context, normalized string, embedding []float32) cache.Outcome {
	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	return p.cache.Lookup(cacheCtx, normalized, embedding)
}

func (p *Pipeline) storeCache(ctx context.Context, normalized string, embedding []float32, answer string) {
	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	p.cache.Store(cacheCtx, normalized, embedding, answer)
}

// retrieve searches the index. Errors and missing embeddings degrade to
// an empty context; the request still gets a generated answer.
func (p *Pipeline) retrieve(ctx context.Context, index string, embedding []float32) []string {
	if embedding == nil {
		return nil
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, retrieveTimeout)
	defer cancel()

	docs, err := p.retriever.Retrieve(retrieveCtx, index, embedding, p.opts.RetrievalLimit)
	if err != nil {
		p.logger.Warn("retrieval failed, answering without context", "index", index, "error", err)
		return nil
	}
	return docs
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()
	return p.generator.Generate(genCtx, prompt)
}

// historyContext formats the recent turns for prompt inclusion. Failures
// degrade to no history.
func (p *Pipeline) historyContext(ctx context.Context, conversation uuid.UUID) string {
	histCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	turns, err := p.history.Recent(histCtx, conversation, p.opts.HistoryDepth)
	if err != nil {
		p.logger.Warn("loading history failed", "error", err)
		return ""
	}
	return history.Format(turns)
}

// record persists the user and assistant turns. Best-effort: a history
// write failure never fails the request. Cache hits record turns too so
// the conversation stays coherent.
func (p *Pipeline) record(ctx context.Context, conversation uuid.UUID, userText, assistantText string) {
	// Uses a fresh deadline rather than the request context so an answer
	// already produced is persisted even if the client disconnects.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := p.history.Append(persistCtx, conversation, history.RoleUser, userText); err != nil {
		p.logger.Warn("persisting user turn failed", "error", err)
		return
	}
	if err := p.history.Append(persistCtx, conversation, history.RoleAssistant, assistantText); err != nil {
		p.logger.Warn("persisting assistant turn failed", "error", err)
	}
}
