package budget

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, limits map[Scope]int64) (*Ledger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewLedger(mock, limits), mock
}

func expectUsedToday(mock pgxmock.PgxPoolIface, scope Scope, used int64) {
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(string(scope), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(used))
}

func TestRecordUsage(t *testing.T) {
	ledger, mock := newTestLedger(t, map[Scope]int64{ScopeProactive: 1000})

	mock.ExpectExec("INSERT INTO token_ledger").
		WithArgs(pgxmock.AnyArg(), "proactive", "bedrock",
			int64(120), int64(80), int64(200), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry, err := ledger.RecordUsage(context.Background(), ScopeProactive, "bedrock", 120, 80, map[string]string{"cycle": "abc"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), entry.TokensTotal)
	assert.Equal(t, ScopeProactive, entry.Scope)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUsageRejectsNegative(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)

	_, err := ledger.RecordUsage(context.Background(), ScopeProactive, "bedrock", -1, 0, nil)
	assert.Error(t, err)
}

func TestRemainingBounded(t *testing.T) {
	ledger, mock := newTestLedger(t, map[Scope]int64{ScopeProactive: 1000})

	expectUsedToday(mock, ScopeProactive, 300)
	remaining, err := ledger.Remaining(context.Background(), ScopeProactive)
	require.NoError(t, err)
	assert.Equal(t, int64(700), remaining)

	// Overspend clamps at zero, never negative.
	expectUsedToday(mock, ScopeProactive, 1400)
	remaining, err = ledger.Remaining(context.Background(), ScopeProactive)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemainingUnbounded(t *testing.T) {
	ledger, mock := newTestLedger(t, map[Scope]int64{ScopeProactive: 1000})

	remaining, err := ledger.Remaining(context.Background(), ScopeReactive)
	require.NoError(t, err)
	assert.Equal(t, Unbounded, remaining)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUsageRatio(t *testing.T) {
	ledger, mock := newTestLedger(t, map[Scope]int64{ScopeProactive: 1000})

	expectUsedToday(mock, ScopeProactive, 850)
	ratio, err := ledger.UsageRatio(context.Background(), ScopeProactive)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, ratio, 1e-9)

	expectUsedToday(mock, ScopeProactive, 2500)
	ratio, err = ledger.UsageRatio(context.Background(), ScopeProactive)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ratio)

	// Unbounded scopes report zero pressure.
	ratio, err = ledger.UsageRatio(context.Background(), ScopeReactive)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ratio)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextReset(t *testing.T) {
	ledger, _ := newTestLedger(t, nil)
	fixed := time.Date(2025, 6, 10, 17, 30, 0, 0, time.UTC)
	ledger.WithClock(func() time.Time { return fixed })

	assert.Equal(t, time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), ledger.NextReset())
}
