package pipeline

import (
	"context"
	"fmt"

	"github.com/relai-dev/relai/internal/vector"
)

// documentContent is the payload key holding a document's text.
const documentContent = "content"

// VectorRetriever adapts the vector store to the Retriever interface.
// Each index of the schema maps to a vector collection of the same name.
type VectorRetriever struct {
	store *vector.Store
}

// NewVectorRetriever creates a retriever over the vector store.
func NewVectorRetriever(store *vector.Store) *VectorRetriever {
	return &VectorRetriever{store: store}
}

// Retrieve returns the text of up to limit documents of the index nearest
// to the query embedding.
func (r *VectorRetriever) Retrieve(ctx context.Context, index string, embedding []float32, limit int) ([]string, error) {
	matches, err := r.store.Nearest(ctx, index, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("searching index %q: %w", index, err)
	}

	docs := make([]string, 0, len(matches))
	for _, m := range matches {
		if content := m.Payload[documentContent]; content != "" {
			docs = append(docs, content)
		}
	}
	return docs, nil
}

// Count returns the number of documents in the index.
func (r *VectorRetriever) Count(ctx context.Context, index string) (int64, error) {
	return r.store.Count(ctx, index)
}
