package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an artifact for handler dispatch.
type Kind string

const (
	KindVoice    Kind = "voice"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindOther    Kind = "other"
)

// Status is the artifact lifecycle state. failed artifacts may retry back to
// pending until attempt_count reaches the configured maximum.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var (
	// ErrNotFound indicates the requested artifact does not exist.
	ErrNotFound = errors.New("media: not found")
	// ErrNotProcessing rejects a completion for an artifact that is not
	// currently claimed.
	ErrNotProcessing = errors.New("media: artifact is not processing")
)

// Artifact is one unit of media awaiting external processing.
type Artifact struct {
	ID           uuid.UUID
	MessageID    string
	Kind         Kind
	Content      []byte
	Location     string
	Status       Status
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists artifacts.
type Store struct {
	db DB
}

// NewStore creates an artifact store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Register inserts a pending artifact at ingestion time.
func (s *Store) Register(ctx context.Context, messageID string, kind Kind, location string) (*Artifact, error) {
	if messageID == "" {
		return nil, fmt.Errorf("media: message id required")
	}
	now := time.Now().UTC()
	a := &Artifact{
		ID:        uuid.New(),
		MessageID: messageID,
		Kind:      kind,
		Location:  location,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO artifacts (id, message_id, kind, location, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		a.ID, a.MessageID, string(a.Kind), a.Location, string(a.Status), now)
	if err != nil {
		return nil, fmt.Errorf("media: register artifact: %w", err)
	}
	return a, nil
}

// ClaimPending atomically transitions up to limit pending artifacts to
// processing and returns them. The claim discipline matches the job queue: at
// most one worker holds a given row.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	rows, err := s.db.Query(ctx, `
		UPDATE artifacts SET status = 'processing', updated_at = $1
		WHERE id IN (
			SELECT id FROM artifacts
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, message_id, kind, content, location, status, attempt_count, last_error, created_at, updated_at`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("media: claim pending: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// MarkDone stores the extraction result and finishes the artifact.
func (s *Store) MarkDone(ctx context.Context, id uuid.UUID, content []byte) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE artifacts SET status = 'done', content = $1, last_error = '', updated_at = $2
		WHERE id = $3 AND status = 'processing'`,
		content, now, id)
	if err != nil {
		return fmt.Errorf("media: mark done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

// MarkFailure increments the attempt count and either reverts the artifact to
// pending for a later retry or, at maxAttempts, fails it permanently. The
// decision happens in one statement so the claim discipline holds. Returns
// the resulting status.
func (s *Store) MarkFailure(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) (Status, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		UPDATE artifacts
		SET attempt_count = attempt_count + 1,
		    status = CASE WHEN attempt_count + 1 >= $1 THEN 'failed' ELSE 'pending' END,
		    last_error = $2, updated_at = $3
		WHERE id = $4 AND status = 'processing'
		RETURNING status`,
		maxAttempts, errMsg, now, id)

	var status string
	err := row.Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotProcessing
	}
	if err != nil {
		return "", fmt.Errorf("media: mark failure: %w", err)
	}
	return Status(status), nil
}

// Get fetches an artifact by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, message_id, kind, content, location, status, attempt_count, last_error, created_at, updated_at
		FROM artifacts WHERE id = $1`, id)

	a, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media: get: %w", err)
	}
	return a, nil
}

func scanArtifact(row pgx.Row) (*Artifact, error) {
	var a Artifact
	var kind, status string
	err := row.Scan(&a.ID, &a.MessageID, &kind, &a.Content, &a.Location, &status,
		&a.AttemptCount, &a.LastError, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = Kind(kind)
	a.Status = Status(status)
	return &a, nil
}

func scanArtifacts(rows pgx.Rows) ([]Artifact, error) {
	var result []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("media: scan artifact: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
