// Package vector provides similarity search over PostgreSQL + pgvector.
// One Store serves multiple named collections; the semantic cache and the
// retrieval corpus are separate collections in the same table.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/relai-dev/relai/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Point is one stored vector with its JSON payload.
type Point struct {
	ID      uuid.UUID
	Payload map[string]string
}

// Match is a nearest-neighbor result. Similarity is cosine similarity
// in [0,1] for normalized embeddings.
type Match struct {
	Point
	Similarity float64
}

// Store persists and searches vectors in the points table.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger log.Logger
}

// NewStore creates a vector Store backed by the pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		db:     pool,
		logger: logger.With("component", "vector"),
	}, nil
}

// Upsert stores a point in the collection, replacing any existing point
// with the same id.
func (s *Store) Upsert(ctx context.Context, collection string, id uuid.UUID, embedding []float32, payload map[string]string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO points (id, collection, embedding, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET collection = EXCLUDED.collection,
		     embedding = EXCLUDED.embedding,
		     payload = EXCLUDED.payload,
		     updated_at = now()`,
		id, collection, pgvector.NewVector(embedding), payload,
	)
	if err != nil {
		return fmt.Errorf("upserting point: %w", err)
	}
	return nil
}

// Nearest returns up to limit points of the collection ordered by
// decreasing cosine similarity to the query embedding.
func (s *Store) Nearest(ctx context.Context, collection string, embedding []float32, limit int) ([]Match, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, payload, 1 - (embedding <=> $1) AS similarity
		 FROM points
		 WHERE collection = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(embedding), collection, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying nearest points: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Payload, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning point: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading points: %w", err)
	}
	return matches, nil
}

// Count returns the number of points in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM points WHERE collection = $1`,
		collection,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return n, nil
}

// Delete removes a point by id. Missing points are not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM points WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting point: %w", err)
	}
	return nil
}
