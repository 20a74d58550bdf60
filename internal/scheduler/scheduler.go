package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dovetail-ai/attache/internal/budget"
	"github.com/dovetail-ai/attache/internal/llm"
	"github.com/dovetail-ai/attache/internal/memory"
	"github.com/dovetail-ai/attache/internal/observability/metrics"
	"github.com/dovetail-ai/attache/pkg/logging"
)

const recentSummaryCount = 5

var systemPrompt = []string{
	"You are an autonomous assistant deciding what to do with your next cycle.",
	"Respond with a single JSON object: {\"action\": string, \"reasoning\": string, " +
		"\"certainty\": number in [0,1], \"significance\": number in [0,1], " +
		"\"type\": \"internal\"|\"external\", \"details\": object}.",
}

type cycleRunner interface {
	Run(ctx context.Context, scope budget.Scope, threadID uuid.UUID, jobID *uuid.UUID, req llm.DecisionRequest) (*Outcome, error)
}

type budgetReader interface {
	Remaining(ctx context.Context, scope budget.Scope) (int64, error)
	UsageRatio(ctx context.Context, scope budget.Scope) (float64, error)
	NextReset() time.Time
}

type summaryReader interface {
	LastSummaries(ctx context.Context, n int) ([]memory.CycleSummary, error)
}

type carryForwardLoader interface {
	Load(ctx context.Context) (string, error)
}

// Scheduler drives the proactive loop: check the budget, build context from
// cycle memory, run the decision pipeline, then sleep an interval derived from
// budget pressure. The loop has no terminal state; it runs until shutdown and
// lets the in-flight cycle finish.
type Scheduler struct {
	pipeline cycleRunner
	ledger   budgetReader
	history  summaryReader
	carry    carryForwardLoader
	metrics  *metrics.SchedulerMetrics
	logger   *logging.Logger

	threadID            uuid.UUID
	minInterval         time.Duration
	maxInterval         time.Duration
	minimumViableTokens int64
	actionNames         []string
	now                 func() time.Time
	wg                  sync.WaitGroup
}

// NewScheduler creates the proactive loop. threadID is the internal thread
// that proactive approvals hang off.
func NewScheduler(pipeline cycleRunner, ledger budgetReader, history summaryReader, carry carryForwardLoader, threadID uuid.UUID, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		pipeline:            pipeline,
		ledger:              ledger,
		history:             history,
		carry:               carry,
		logger:              logger.Component("scheduler"),
		threadID:            threadID,
		minInterval:         5 * time.Minute,
		maxInterval:         2 * time.Hour,
		minimumViableTokens: 2000,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// WithIntervals sets the sleep bounds. minInterval must not exceed
// maxInterval; offending values are swapped rather than rejected.
func (s *Scheduler) WithIntervals(minInterval, maxInterval time.Duration) *Scheduler {
	if minInterval > 0 {
		s.minInterval = minInterval
	}
	if maxInterval > 0 {
		s.maxInterval = maxInterval
	}
	if s.minInterval > s.maxInterval {
		s.minInterval, s.maxInterval = s.maxInterval, s.minInterval
	}
	return s
}

// WithMinimumViableTokens sets the conservation floor.
func (s *Scheduler) WithMinimumViableTokens(n int64) *Scheduler {
	if n > 0 {
		s.minimumViableTokens = n
	}
	return s
}

// WithActionNames lists the known actions in the decision prompt.
func (s *Scheduler) WithActionNames(names []string) *Scheduler {
	s.actionNames = names
	return s
}

// WithMetrics attaches cycle metrics.
func (s *Scheduler) WithMetrics(m *metrics.SchedulerMetrics) *Scheduler {
	s.metrics = m
	return s
}

// WithClock overrides the scheduler clock. Used by tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Start launches the loop in a goroutine. Cancel ctx and call Wait to drain.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Wait blocks until the in-flight cycle has finished and the loop stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		sleep := s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Debug("sleeping until next cycle", "interval", sleep)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// cycle runs one pass and returns how long to sleep before the next.
func (s *Scheduler) cycle(ctx context.Context) time.Duration {
	start := s.now()

	remaining, err := s.ledger.Remaining(ctx, budget.ScopeProactive)
	if err != nil {
		s.observe("error", start)
		s.logger.Error("budget check failed", "error", err)
		return s.minInterval
	}
	if remaining != budget.Unbounded && remaining < s.minimumViableTokens {
		// Not enough budget for a meaningful decision. Sleep through to the
		// daily reset instead of burning the remainder on fragments.
		until := s.ledger.NextReset().Sub(s.now())
		if until < time.Minute {
			until = time.Minute
		}
		s.observe("conserved", start)
		s.logger.Info("budget below viable floor, conserving", "remaining", remaining, "sleep", until)
		return until
	}

	req, err := s.buildRequest(ctx, remaining)
	if err != nil {
		s.observe("error", start)
		s.logger.Error("context build failed", "error", err)
		return s.minInterval
	}

	outcome, err := s.pipeline.Run(ctx, budget.ScopeProactive, s.threadID, nil, req)
	if err != nil {
		if ctx.Err() != nil {
			return s.minInterval
		}
		s.observe("error", start)
		s.logger.Error("cycle failed", "error", err)
		return s.minInterval
	}

	s.observe(outcome.Summary.Outcome, start)
	if s.metrics != nil {
		s.metrics.ObserveTokens(string(budget.ScopeProactive), outcome.TokensUsed)
	}
	s.logger.Info("cycle complete",
		"action", outcome.Summary.Action, "outcome", outcome.Summary.Outcome,
		"tokens", outcome.TokensUsed)

	ratio, err := s.ledger.UsageRatio(ctx, budget.ScopeProactive)
	if err != nil {
		s.logger.Error("usage ratio failed", "error", err)
		return s.minInterval
	}
	return s.nextInterval(ratio)
}

// nextInterval maps budget pressure to sleep time in three tiers: light usage
// keeps the agent responsive near minInterval, moderate usage slows it to the
// midpoint, heavy usage backs off to maxInterval.
func (s *Scheduler) nextInterval(ratio float64) time.Duration {
	var interval time.Duration
	switch {
	case ratio < 0.5:
		interval = s.minInterval
	case ratio <= 0.8:
		interval = s.minInterval + (s.maxInterval-s.minInterval)/2
	default:
		interval = s.maxInterval
	}
	if interval < s.minInterval {
		interval = s.minInterval
	}
	if interval > s.maxInterval {
		interval = s.maxInterval
	}
	return interval
}

func (s *Scheduler) buildRequest(ctx context.Context, remaining int64) (llm.DecisionRequest, error) {
	var b strings.Builder

	if s.carry != nil {
		carry, err := s.carry.Load(ctx)
		if err != nil {
			return llm.DecisionRequest{}, err
		}
		if carry != "" {
			fmt.Fprintf(&b, "Carry-forward context: %s\n\n", carry)
		}
	}

	if s.history != nil {
		summaries, err := s.history.LastSummaries(ctx, recentSummaryCount)
		if err != nil {
			return llm.DecisionRequest{}, err
		}
		if len(summaries) > 0 {
			b.WriteString("Recent cycles (newest first):\n")
			for _, sum := range summaries {
				fmt.Fprintf(&b, "- %s %s: %s\n", sum.CreatedAt.Format(time.RFC3339), sum.Action, sum.Outcome)
			}
			b.WriteString("\n")
		}
	}

	if remaining == budget.Unbounded {
		b.WriteString("Token budget: unbounded today.\n")
	} else {
		fmt.Fprintf(&b, "Token budget: %d tokens remaining today.\n", remaining)
	}
	if len(s.actionNames) > 0 {
		fmt.Fprintf(&b, "Available actions: %s.\n", strings.Join(s.actionNames, ", "))
	}
	b.WriteString("Decide what to do with this cycle.")

	return llm.DecisionRequest{System: systemPrompt, Prompt: b.String()}, nil
}

func (s *Scheduler) observe(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveCycle(outcome, s.now().Sub(start).Seconds())
}
