package threads

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Thread is a conversation context keyed by (transport, external_id).
type Thread struct {
	ID         uuid.UUID
	Transport  string
	ExternalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides thread persistence.
type Store struct {
	db DB
}

// NewStore creates a thread store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Ensure returns the thread for (transport, externalID), creating it lazily on
// first contact. Existing threads only get their updated_at bumped.
func (s *Store) Ensure(ctx context.Context, transport, externalID string) (*Thread, error) {
	if transport == "" || externalID == "" {
		return nil, fmt.Errorf("threads: transport and external id required")
	}
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		INSERT INTO threads (id, transport, external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (transport, external_id)
		DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, transport, external_id, created_at, updated_at`,
		uuid.New(), transport, externalID, now)

	var t Thread
	if err := row.Scan(&t.ID, &t.Transport, &t.ExternalID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("threads: ensure thread: %w", err)
	}
	return &t, nil
}

// Get fetches a thread by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Thread, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, transport, external_id, created_at, updated_at
		FROM threads WHERE id = $1`, id)

	var t Thread
	if err := row.Scan(&t.ID, &t.Transport, &t.ExternalID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("threads: get thread: %w", err)
	}
	return &t, nil
}
