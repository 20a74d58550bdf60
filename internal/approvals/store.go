package approvals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Status is the approval lifecycle state. Transitions out of pending are
// terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

var (
	// ErrNotFound indicates the requested approval does not exist.
	ErrNotFound = errors.New("approvals: not found")
	// ErrAlreadyResolved rejects a second resolution attempt. State is left
	// unchanged.
	ErrAlreadyResolved = errors.New("approvals: already resolved")
	// ErrInvalidDecision rejects resolutions other than approved/rejected.
	ErrInvalidDecision = errors.New("approvals: decision must be approved or rejected")
)

// Approval is a request for human confirmation, optionally tied to a job.
type Approval struct {
	ID         uuid.UUID
	ThreadID   uuid.UUID
	JobID      *uuid.UUID
	Proposal   string
	Status     Status
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// DB abstracts the pgx interface for testing. Create needs a transaction so
// supersede+insert is atomic.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists approvals.
type Store struct {
	db DB
}

// NewStore creates an approval store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Create inserts a new pending approval. When jobID is set, any approval
// still pending for that job is marked superseded in the same transaction, so
// there is no window with two pending approvals per job.
func (s *Store) Create(ctx context.Context, threadID uuid.UUID, jobID *uuid.UUID, proposal string) (*Approval, error) {
	if proposal == "" {
		return nil, fmt.Errorf("approvals: proposal required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("approvals: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if jobID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE approvals SET status = $1, resolved_at = $2
			WHERE job_id = $3 AND status = $4`,
			string(StatusSuperseded), now, *jobID, string(StatusPending))
		if err != nil {
			return nil, fmt.Errorf("approvals: supersede pending: %w", err)
		}
	}

	a := &Approval{
		ID:        uuid.New(),
		ThreadID:  threadID,
		JobID:     jobID,
		Proposal:  proposal,
		Status:    StatusPending,
		CreatedAt: now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO approvals (id, thread_id, job_id, proposal, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ThreadID, a.JobID, a.Proposal, string(a.Status), a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("approvals: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("approvals: commit: %w", err)
	}
	return a, nil
}

// Resolve transitions a pending approval to approved or rejected. Resolving a
// non-pending approval fails with ErrAlreadyResolved and changes nothing.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, decision Status) error {
	if decision != StatusApproved && decision != StatusRejected {
		return ErrInvalidDecision
	}
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE approvals SET status = $1, resolved_at = $2
		WHERE id = $3 AND status = $4`,
		string(decision), now, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("approvals: resolve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyResolved
	}
	return nil
}

// Get fetches an approval by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Approval, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, thread_id, job_id, proposal, status, created_at, resolved_at
		FROM approvals WHERE id = $1`, id)

	var a Approval
	var status string
	err := row.Scan(&a.ID, &a.ThreadID, &a.JobID, &a.Proposal, &status, &a.CreatedAt, &a.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approvals: get: %w", err)
	}
	a.Status = Status(status)
	return &a, nil
}
