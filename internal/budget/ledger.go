package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Scope is a budget category with independent daily accounting.
type Scope string

const (
	ScopeProactive Scope = "proactive"
	ScopeReactive  Scope = "reactive"
)

// Unbounded is returned by Remaining for scopes without a configured limit.
const Unbounded int64 = -1

// Entry is one immutable model-usage record.
type Entry struct {
	ID           uuid.UUID
	Scope        Scope
	Provider     string
	TokensInput  int64
	TokensOutput int64
	TokensTotal  int64
	Metadata     map[string]string
	RecordedAt   time.Time
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger is the append-only token usage log. Daily limits are configuration;
// a zero or missing limit means the scope is unbounded.
type Ledger struct {
	db     DB
	limits map[Scope]int64
	now    func() time.Time
}

// NewLedger creates a ledger with per-scope daily limits.
func NewLedger(db DB, limits map[Scope]int64) *Ledger {
	cleaned := make(map[Scope]int64, len(limits))
	for scope, limit := range limits {
		if limit > 0 {
			cleaned[scope] = limit
		}
	}
	return &Ledger{db: db, limits: cleaned, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the ledger clock. Used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// RecordUsage appends a usage entry and returns it. A write failure here must
// abort the calling cycle: recorded usage and actual usage cannot diverge.
func (l *Ledger) RecordUsage(ctx context.Context, scope Scope, provider string, tokensIn, tokensOut int64, metadata map[string]string) (*Entry, error) {
	if scope == "" {
		return nil, fmt.Errorf("budget: scope required")
	}
	if tokensIn < 0 || tokensOut < 0 {
		return nil, fmt.Errorf("budget: negative token counts")
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("budget: marshal metadata: %w", err)
	}

	entry := &Entry{
		ID:           uuid.New(),
		Scope:        scope,
		Provider:     provider,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
		TokensTotal:  tokensIn + tokensOut,
		Metadata:     metadata,
		RecordedAt:   l.now(),
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO token_ledger (id, scope, provider, tokens_input, tokens_output, tokens_total, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, string(entry.Scope), entry.Provider,
		entry.TokensInput, entry.TokensOutput, entry.TokensTotal,
		meta, entry.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("budget: record usage: %w", err)
	}
	return entry, nil
}

// UsedToday returns the token total recorded for the scope within the current
// UTC day.
func (l *Ledger) UsedToday(ctx context.Context, scope Scope) (int64, error) {
	dayStart := l.now().Truncate(24 * time.Hour)
	row := l.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(tokens_total), 0)
		FROM token_ledger
		WHERE scope = $1 AND recorded_at >= $2`, string(scope), dayStart)

	var used int64
	if err := row.Scan(&used); err != nil {
		return 0, fmt.Errorf("budget: sum usage: %w", err)
	}
	return used, nil
}

// Remaining returns max(0, dailyLimit - usedToday) for bounded scopes, or
// Unbounded when the scope has no configured limit.
func (l *Ledger) Remaining(ctx context.Context, scope Scope) (int64, error) {
	limit, bounded := l.limits[scope]
	if !bounded {
		return Unbounded, nil
	}
	used, err := l.UsedToday(ctx, scope)
	if err != nil {
		return 0, err
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// UsageRatio returns used/limit clamped to [0,1]. Unbounded scopes always
// report 0 so interval computation treats them as idle.
func (l *Ledger) UsageRatio(ctx context.Context, scope Scope) (float64, error) {
	limit, bounded := l.limits[scope]
	if !bounded {
		return 0, nil
	}
	used, err := l.UsedToday(ctx, scope)
	if err != nil {
		return 0, err
	}
	ratio := float64(used) / float64(limit)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio, nil
}

// NextReset returns the start of the next UTC day, when daily budgets renew.
func (l *Ledger) NextReset() time.Time {
	return l.now().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
