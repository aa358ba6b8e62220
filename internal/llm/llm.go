// Package llm defines the generation and embedding capabilities the
// pipeline depends on, plus the Genkit-backed production implementation.
//
// Consumers depend on the small Generator/Embedder interfaces so tests
// can substitute deterministic fakes.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrGeneration indicates the model failed to produce a completion.
	ErrGeneration = errors.New("generation failed")

	// ErrEmbedding indicates the embedder failed to produce a vector.
	ErrEmbedding = errors.New("embedding failed")

	// ErrEmptyResponse indicates the model returned no usable text.
	ErrEmptyResponse = errors.New("model returned empty response")
)

// Generator produces a text completion for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder converts text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
