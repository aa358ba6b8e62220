// Package topic resolves which document index a question is about by
// asking the model, with a fallback prompt when the primary one comes
// back empty-handed.
package topic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/llm"
	"github.com/relai-dev/relai/internal/log"
)

// ErrUnresolved indicates neither resolution stage produced a known index.
var ErrUnresolved = errors.New("topic unresolved")

// noneAnswer is what the prompts instruct the model to say when the
// question maps to no index.
const noneAnswer = "none"

// Resolver runs the two-stage topic cascade.
type Resolver struct {
	generator llm.Generator
	logger    log.Logger
}

// New creates a Resolver.
func New(generator llm.Generator, logger log.Logger) *Resolver {
	return &Resolver{
		generator: generator,
		logger:    logger.With("component", "topic"),
	}
}

// Resolve maps the query to an index name from the schema. The primary
// template is tried once; if its answer is "None" or not a known index,
// the fallback template is tried once. The same prompt is never retried.
// Returns ErrUnresolved when both stages fail.
func (r *Resolver) Resolve(ctx context.Context, query string, schema config.IndexSchema, prompts *config.PromptConfig) (string, error) {
	indexes := strings.Join(schema.Names(), ", ")
	vars := map[string]string{
		"query":   query,
		"indexes": indexes,
	}

	primary, ok := prompts.QueryTemplate(config.TemplateTopicInference)
	if !ok {
		return "", fmt.Errorf("%w: missing primary template", ErrUnresolved)
	}
	if name, resolved := r.ask(ctx, config.RenderTemplate(primary, vars), schema); resolved {
		return name, nil
	}

	fallback, ok := prompts.QueryTemplate(config.TemplateTopicFallback)
	if !ok {
		return "", ErrUnresolved
	}
	if name, resolved := r.ask(ctx, config.RenderTemplate(fallback, vars), schema); resolved {
		r.logger.Debug("topic resolved by fallback stage", "index", name)
		return name, nil
	}

	return "", ErrUnresolved
}

// ask runs one resolution stage. Model failures and unknown answers both
// count as unresolved for that stage.
func (r *Resolver) ask(ctx context.Context, prompt string, schema config.IndexSchema) (string, bool) {
	answer, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		r.logger.Warn("topic inference call failed", "error", err)
		return "", false
	}

	name := cleanAnswer(answer)
	if name == "" || name == noneAnswer {
		return "", false
	}
	if !schema.Contains(name) {
		r.logger.Debug("model answered unknown index", "answer", name)
		return "", false
	}
	return name, true
}

// cleanAnswer strips whitespace, surrounding quotes and backticks, and
// lowercases a model answer so "  \"Profiles\"  " matches index profiles.
func cleanAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSpace(s)
	return strings.ToLower(s)
}
