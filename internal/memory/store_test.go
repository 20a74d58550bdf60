package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dovetail-ai/attache/internal/decision"
)

func TestSummarize(t *testing.T) {
	d := &decision.Decision{
		Action:       "meditate",
		Reasoning:    "quiet period, review recent context",
		Certainty:    0.9,
		Significance: 0.1,
		Type:         decision.TypeInternal,
	}

	s := Summarize(d, OutcomeExecuted, nil)
	assert.Equal(t, "meditate", s.Action)
	assert.Equal(t, OutcomeExecuted, s.Outcome)
	assert.Equal(t, "0.90", s.Detail["certainty"])
	assert.Equal(t, "internal", s.Detail["type"])
	assert.NotContains(t, s.Detail, "error")

	s = Summarize(d, OutcomeFailed, errors.New("handler exploded"))
	assert.Equal(t, "handler exploded", s.Detail["error"])
}

func TestAppendInsertsAndTrims(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	store := NewStore(mock, 5).WithClock(func() time.Time { return now })

	mock.ExpectExec("INSERT INTO cycle_memories").
		WithArgs(pgxmock.AnyArg(), "communicate", OutcomeApproved, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM cycle_memories").
		WithArgs(5).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	got, err := store.Append(context.Background(), CycleSummary{
		Action:  "communicate",
		Outcome: OutcomeApproved,
		Detail:  map[string]string{"certainty": "0.50"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, now, got.CreatedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRequiresActionAndOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock, 5)

	_, err = store.Append(context.Background(), CycleSummary{Outcome: OutcomeExecuted})
	assert.Error(t, err)

	_, err = store.Append(context.Background(), CycleSummary{Action: "wait"})
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSummariesNewestFirst(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock, 50)
	now := time.Now().UTC()
	detail, _ := json.Marshal(map[string]string{"certainty": "0.90"})

	rows := pgxmock.NewRows([]string{"id", "action", "outcome", "detail", "created_at"}).
		AddRow(uuid.New(), "research", OutcomeExecuted, detail, now).
		AddRow(uuid.New(), "wait", OutcomeSkipped, []byte("{}"), now.Add(-time.Hour))
	mock.ExpectQuery("SELECT id, action, outcome, detail, created_at").
		WithArgs(2).
		WillReturnRows(rows)

	got, err := store.LastSummaries(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "research", got[0].Action)
	assert.Equal(t, "0.90", got[0].Detail["certainty"])
	assert.Equal(t, OutcomeSkipped, got[1].Outcome)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSummariesZeroIsEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock, 50)

	got, err := store.LastSummaries(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, mock.ExpectationsWereMet())
}
