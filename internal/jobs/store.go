package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Mode is the closed set of reactive work kinds.
type Mode string

const (
	ModeClassify Mode = "classify"
	ModePlan     Mode = "plan"
	ModeExecute  Mode = "execute"
	ModeAnswer   Mode = "answer"
)

// Status is the job lifecycle state. Transitions are monotonic along
// queued → running → {done, failed, canceled}; a job never re-enters queued.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

var validModes = map[Mode]struct{}{
	ModeClassify: {}, ModePlan: {}, ModeExecute: {}, ModeAnswer: {},
}

// validFrom maps a target status to the statuses it may be reached from.
var validFrom = map[Status][]Status{
	StatusRunning:  {StatusQueued},
	StatusDone:     {StatusRunning},
	StatusFailed:   {StatusRunning},
	StatusCanceled: {StatusQueued, StatusRunning},
}

var (
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("jobs: not found")
	// ErrInvalidTransition rejects a status update that would violate the
	// monotonic lifecycle. Nothing is applied.
	ErrInvalidTransition = errors.New("jobs: invalid status transition")
)

// Job is one unit of reactive work. Jobs are never deleted; the table is the
// audit trail.
type Job struct {
	ID         uuid.UUID
	ThreadID   uuid.UUID
	TriggerID  string
	Mode       Mode
	Status     Status
	Payload    json.RawMessage
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists jobs.
type Store struct {
	db DB
}

// NewStore creates a job store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Enqueue inserts a queued job for the thread.
func (s *Store) Enqueue(ctx context.Context, threadID uuid.UUID, triggerID string, mode Mode, payload json.RawMessage) (*Job, error) {
	if _, ok := validModes[mode]; !ok {
		return nil, fmt.Errorf("jobs: unknown mode %q", mode)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New(),
		ThreadID:  threadID,
		TriggerID: triggerID,
		Mode:      mode,
		Status:    StatusQueued,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO jobs (id, thread_id, trigger_id, mode, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		job.ID, job.ThreadID, job.TriggerID, string(job.Mode), string(job.Status), []byte(job.Payload), now)
	if err != nil {
		return nil, fmt.Errorf("jobs: enqueue: %w", err)
	}
	return job, nil
}

// ClaimPending atomically transitions up to limit queued jobs to running and
// returns them. Two concurrent pollers always claim disjoint sets; claim
// order is best-effort FIFO.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	rows, err := s.db.Query(ctx, `
		UPDATE jobs SET status = 'running', started_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, thread_id, trigger_id, mode, status, payload, started_at, finished_at, created_at, updated_at`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: claim pending: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateStatus applies a monotonic transition to the job and fails loudly if
// the transition is illegal for the job's current status.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) error {
	from, ok := validFrom[to]
	if !ok {
		return fmt.Errorf("%w: %q is not a reachable status", ErrInvalidTransition, to)
	}
	fromStrs := make([]string, len(from))
	for i, st := range from {
		fromStrs[i] = string(st)
	}

	now := time.Now().UTC()
	var tag pgconn.CommandTag
	var err error
	if to == StatusRunning {
		tag, err = s.db.Exec(ctx, `
			UPDATE jobs SET status = $1, started_at = $2, updated_at = $2
			WHERE id = $3 AND status = ANY($4)`,
			string(to), now, id, fromStrs)
	} else {
		tag, err = s.db.Exec(ctx, `
			UPDATE jobs SET status = $1, finished_at = $2, updated_at = $2
			WHERE id = $3 AND status = ANY($4)`,
			string(to), now, id, fromStrs)
	}
	if err != nil {
		return fmt.Errorf("jobs: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	return nil
}

// MarkDone finishes a running job and records the outcome in the payload.
func (s *Store) MarkDone(ctx context.Context, id uuid.UUID, outcome string) error {
	return s.finish(ctx, id, StatusDone, "outcome", outcome)
}

// MarkFailed finishes a running job and captures the error in the payload.
// The row is kept; failures are never silently dropped.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.finish(ctx, id, StatusFailed, "error", errMsg)
}

func (s *Store) finish(ctx context.Context, id uuid.UUID, to Status, key, value string) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs
		SET status = $1, payload = payload || jsonb_build_object($2::text, $3::text),
		    finished_at = $4, updated_at = $4
		WHERE id = $5 AND status = 'running'`,
		string(to), key, value, now, id)
	if err != nil {
		return fmt.Errorf("jobs: mark %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not running", ErrInvalidTransition, id)
	}
	return nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, thread_id, trigger_id, mode, status, payload, started_at, finished_at, created_at, updated_at
		FROM jobs WHERE id = $1`, id)

	var j Job
	var mode, status string
	var payload []byte
	err := row.Scan(&j.ID, &j.ThreadID, &j.TriggerID, &mode, &status, &payload,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get: %w", err)
	}
	j.Mode = Mode(mode)
	j.Status = Status(status)
	j.Payload = append(json.RawMessage(nil), payload...)
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	var result []Job
	for rows.Next() {
		var j Job
		var mode, status string
		var payload []byte
		err := rows.Scan(&j.ID, &j.ThreadID, &j.TriggerID, &mode, &status, &payload,
			&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("jobs: scan job: %w", err)
		}
		j.Mode = Mode(mode)
		j.Status = Status(status)
		j.Payload = append(json.RawMessage(nil), payload...)
		result = append(result, j)
	}
	return result, rows.Err()
}
