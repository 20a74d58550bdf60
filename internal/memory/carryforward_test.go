package memory

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCarryForward(t *testing.T) (*CarryForward, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCarryForward(client), mr
}

func TestCarryForwardRoundTrip(t *testing.T) {
	cf, _ := newTestCarryForward(t)
	ctx := context.Background()

	blob, err := cf.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, blob)

	require.NoError(t, cf.Save(ctx, "last cycle: meditated on logs"))

	blob, err = cf.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last cycle: meditated on logs", blob)
}

func TestCarryForwardReplacesPrevious(t *testing.T) {
	cf, _ := newTestCarryForward(t)
	ctx := context.Background()

	require.NoError(t, cf.Save(ctx, "first"))
	require.NoError(t, cf.Save(ctx, "second"))

	blob, err := cf.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", blob)
}

func TestCarryForwardClear(t *testing.T) {
	cf, _ := newTestCarryForward(t)
	ctx := context.Background()

	require.NoError(t, cf.Save(ctx, "state"))
	require.NoError(t, cf.Clear(ctx))

	blob, err := cf.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, blob)
}

func TestCarryForwardExpires(t *testing.T) {
	cf, mr := newTestCarryForward(t)
	ctx := context.Background()

	require.NoError(t, cf.WithTTL(time.Minute).Save(ctx, "ephemeral"))
	mr.FastForward(2 * time.Minute)

	blob, err := cf.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, blob)
}

func TestCarryForwardNilSafe(t *testing.T) {
	var cf *CarryForward
	ctx := context.Background()

	require.NoError(t, cf.Save(ctx, "x"))
	blob, err := cf.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, blob)
	require.NoError(t, cf.Clear(ctx))
}
