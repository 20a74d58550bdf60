package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dovetail-ai/attache/internal/decision"
)

// CycleSummary is the compact record of one proactive cycle: what was decided,
// how it ended, and a few key/value details for the next cycle's prompt.
type CycleSummary struct {
	ID        uuid.UUID
	Action    string
	Outcome   string
	Detail    map[string]string
	CreatedAt time.Time
}

const (
	OutcomeExecuted  = "executed"
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

const maxReasoningDetail = 280

// Summarize condenses a decision and its outcome into a CycleSummary.
func Summarize(d *decision.Decision, outcome string, resultErr error) CycleSummary {
	s := CycleSummary{
		Outcome: outcome,
		Detail:  map[string]string{},
	}
	if d != nil {
		s.Action = d.Action
		s.Detail["certainty"] = strconv.FormatFloat(d.Certainty, 'f', 2, 64)
		s.Detail["significance"] = strconv.FormatFloat(d.Significance, 'f', 2, 64)
		s.Detail["type"] = string(d.Type)
		if d.Reasoning != "" {
			reasoning := d.Reasoning
			if len(reasoning) > maxReasoningDetail {
				reasoning = reasoning[:maxReasoningDetail]
			}
			s.Detail["reasoning"] = reasoning
		}
	}
	if resultErr != nil {
		s.Detail["error"] = resultErr.Error()
	}
	return s
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists cycle summaries. History is append-only and trimmed to the
// retention count on every write.
type Store struct {
	db        DB
	retention int
	now       func() time.Time
}

// NewStore creates a cycle memory store keeping at most retention summaries.
func NewStore(db DB, retention int) *Store {
	if retention <= 0 {
		retention = 50
	}
	return &Store{db: db, retention: retention, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the store clock. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// Append stores a summary and trims history beyond the retention count.
func (s *Store) Append(ctx context.Context, summary CycleSummary) (*CycleSummary, error) {
	if summary.Action == "" {
		return nil, fmt.Errorf("memory: summary action required")
	}
	if summary.Outcome == "" {
		return nil, fmt.Errorf("memory: summary outcome required")
	}
	if summary.ID == uuid.Nil {
		summary.ID = uuid.New()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = s.now()
	}
	if summary.Detail == nil {
		summary.Detail = map[string]string{}
	}
	detail, err := json.Marshal(summary.Detail)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal detail: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO cycle_memories (id, action, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		summary.ID, summary.Action, summary.Outcome, detail, summary.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: append summary: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		DELETE FROM cycle_memories
		WHERE id NOT IN (
			SELECT id FROM cycle_memories ORDER BY created_at DESC LIMIT $1
		)`, s.retention)
	if err != nil {
		return nil, fmt.Errorf("memory: trim history: %w", err)
	}
	return &summary, nil
}

// LastSummaries returns up to n summaries, newest first.
func (s *Store) LastSummaries(ctx context.Context, n int) ([]CycleSummary, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, action, outcome, detail, created_at
		FROM cycle_memories
		ORDER BY created_at DESC
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("memory: query summaries: %w", err)
	}
	defer rows.Close()

	var out []CycleSummary
	for rows.Next() {
		var (
			summary CycleSummary
			detail  []byte
		)
		if err := rows.Scan(&summary.ID, &summary.Action, &summary.Outcome, &detail, &summary.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan summary: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &summary.Detail); err != nil {
				return nil, fmt.Errorf("memory: decode detail: %w", err)
			}
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate summaries: %w", err)
	}
	return out, nil
}
