package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const carryForwardKey = "cycle:carry_forward"

// CarryForward holds the single current context blob handed from one cycle's
// writeback to the next cycle's decision request. Storing under one fixed key
// keeps at most one blob current.
type CarryForward struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

// NewCarryForward creates the carry-forward store. A nil client yields a store
// whose methods are no-ops, so callers can run without redis.
func NewCarryForward(redisClient *redis.Client) *CarryForward {
	if redisClient == nil {
		return nil
	}
	return &CarryForward{
		redis:  redisClient,
		tracer: otel.Tracer("attache.internal.memory.carry_forward"),
		ttl:    48 * time.Hour,
	}
}

// WithTTL overrides how long an unreplaced blob survives.
func (c *CarryForward) WithTTL(ttl time.Duration) *CarryForward {
	if c != nil && ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// Save replaces the current carry-forward blob.
func (c *CarryForward) Save(ctx context.Context, blob string) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := c.tracer.Start(ctx, "memory.carry_forward.save")
	defer span.End()

	if err := c.redis.Set(ctx, carryForwardKey, blob, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("memory: save carry-forward: %w", err)
	}
	return nil
}

// Load returns the current blob, or "" when none is stored.
func (c *CarryForward) Load(ctx context.Context) (string, error) {
	if c == nil || c.redis == nil {
		return "", nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := c.tracer.Start(ctx, "memory.carry_forward.load")
	defer span.End()

	blob, err := c.redis.Get(ctx, carryForwardKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		span.RecordError(err)
		return "", fmt.Errorf("memory: load carry-forward: %w", err)
	}
	return blob, nil
}

// Clear removes the current blob.
func (c *CarryForward) Clear(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := c.tracer.Start(ctx, "memory.carry_forward.clear")
	defer span.End()

	if err := c.redis.Del(ctx, carryForwardKey).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("memory: clear carry-forward: %w", err)
	}
	return nil
}
