// Package history persists conversation turns and formats recent context
// for generation prompts.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relai-dev/relai/internal/log"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	ID           uuid.UUID
	Conversation uuid.UUID
	Role         string
	Content      string
	CreatedAt    time.Time
}

// Store persists turns in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a history Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool:   pool,
		logger: logger.With("component", "history"),
	}, nil
}

// Append records one turn.
func (s *Store) Append(ctx context.Context, conversation uuid.UUID, role, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turns (conversation_id, role, content) VALUES ($1, $2, $3)`,
		conversation, role, content,
	)
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// Recent returns the last limit turns of a conversation in chronological
// order.
func (s *Store) Recent(ctx context.Context, conversation uuid.UUID, limit int) ([]Turn, error) {
	if limit < 1 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM (
		     SELECT id, conversation_id, role, content, created_at
		     FROM turns
		     WHERE conversation_id = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		conversation, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Conversation, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}
	return turns, nil
}

// Format renders turns as prompt context, one "Role: content" line each.
func Format(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
