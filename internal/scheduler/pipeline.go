package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dovetail-ai/attache/internal/actions"
	"github.com/dovetail-ai/attache/internal/approvals"
	"github.com/dovetail-ai/attache/internal/budget"
	"github.com/dovetail-ai/attache/internal/decision"
	"github.com/dovetail-ai/attache/internal/llm"
	"github.com/dovetail-ai/attache/internal/memory"
	"github.com/dovetail-ai/attache/internal/notify"
	"github.com/dovetail-ai/attache/pkg/logging"
)

// TimeoutDisposition says what happens to an approval still pending when the
// wait times out. Abandon leaves the row pending for a later resolution;
// Reject resolves it rejected so it cannot fire after the operator forgot it.
const (
	TimeoutAbandon = "abandon"
	TimeoutReject  = "reject"
)

type usageRecorder interface {
	RecordUsage(ctx context.Context, scope budget.Scope, provider string, tokensIn, tokensOut int64, metadata map[string]string) (*budget.Entry, error)
}

type approvalStore interface {
	Create(ctx context.Context, threadID uuid.UUID, jobID *uuid.UUID, proposal string) (*approvals.Approval, error)
	Resolve(ctx context.Context, id uuid.UUID, decision approvals.Status) error
}

type approvalWaiter interface {
	Wait(ctx context.Context, id uuid.UUID, timeout time.Duration) (approvals.Resolution, error)
}

type notifier interface {
	NotifyHuman(ctx context.Context, subject, body string, priority notify.Priority) error
	RequestApproval(ctx context.Context, approvalID uuid.UUID, proposal string, expiresAt time.Time) error
}

type summaryAppender interface {
	Append(ctx context.Context, summary memory.CycleSummary) (*memory.CycleSummary, error)
}

type carryForwardSaver interface {
	Save(ctx context.Context, blob string) error
}

// Outcome reports how one pass through the decision path ended.
type Outcome struct {
	Summary    memory.CycleSummary
	TokensUsed int64
}

// Pipeline is the shared decision path: request a decision, account for its
// tokens, parse, route, then execute directly or through an approval gate.
// Both the proactive scheduler and the reactive worker run through it.
type Pipeline struct {
	client    llm.DecisionClient
	ledger    usageRecorder
	parser    *decision.Parser
	router    *decision.Router
	registry  *actions.Registry
	approvals approvalStore
	waiter    approvalWaiter
	notifier  notifier
	history   summaryAppender
	carry     carryForwardSaver
	tracer    trace.Tracer
	logger    *logging.Logger

	approvalTimeout    time.Duration
	timeoutDisposition string
	maxTokens          int32
}

// NewPipeline wires the decision path. The parser's accepted action set comes
// from the registry so the two cannot drift apart.
func NewPipeline(
	client llm.DecisionClient,
	ledger usageRecorder,
	router *decision.Router,
	registry *actions.Registry,
	approvalStore approvalStore,
	waiter approvalWaiter,
	notifySvc notifier,
	history summaryAppender,
	carry carryForwardSaver,
	logger *logging.Logger,
) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		client:             client,
		ledger:             ledger,
		parser:             decision.NewParser(registry.Actions()),
		router:             router,
		registry:           registry,
		approvals:          approvalStore,
		waiter:             waiter,
		notifier:           notifySvc,
		history:            history,
		carry:              carry,
		tracer:             otel.Tracer("attache.internal.scheduler.pipeline"),
		logger:             logger.Component("pipeline"),
		approvalTimeout:    10 * time.Minute,
		timeoutDisposition: TimeoutAbandon,
	}
}

// WithApprovalTimeout sets how long an approval gate blocks before giving up.
func (p *Pipeline) WithApprovalTimeout(d time.Duration, disposition string) *Pipeline {
	if d > 0 {
		p.approvalTimeout = d
	}
	if disposition == TimeoutAbandon || disposition == TimeoutReject {
		p.timeoutDisposition = disposition
	}
	return p
}

// WithMaxTokens caps the decision response size.
func (p *Pipeline) WithMaxTokens(n int32) *Pipeline {
	if n > 0 {
		p.maxTokens = n
	}
	return p
}

// Run executes the decision path once. The returned error is reserved for
// faults that must abort the caller's cycle (model failure, ledger write
// failure, context cancellation); a decision that merely failed to execute
// comes back as a failed Outcome with nil error.
func (p *Pipeline) Run(ctx context.Context, scope budget.Scope, threadID uuid.UUID, jobID *uuid.UUID, req llm.DecisionRequest) (*Outcome, error) {
	if p.maxTokens > 0 && req.MaxTokens == 0 {
		req.MaxTokens = p.maxTokens
	}

	ctx, span := p.tracer.Start(ctx, "scheduler.decision_cycle",
		trace.WithAttributes(attribute.String("scope", string(scope))))
	defer span.End()

	resp, err := p.client.RequestDecision(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scheduler: decision request: %w", err)
	}

	// Usage must be in the ledger before anything acts on the decision. A
	// ledger write failure aborts the cycle: recorded and actual usage cannot
	// be allowed to diverge.
	_, err = p.ledger.RecordUsage(ctx, scope, p.client.Provider(),
		int64(resp.Usage.InputTokens), int64(resp.Usage.OutputTokens),
		map[string]string{"stop_reason": resp.StopReason})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scheduler: record usage: %w", err)
	}

	outcome := &Outcome{TokensUsed: int64(resp.Usage.TotalTokens)}

	d, parseErr := p.parser.Parse(resp.Raw)
	if parseErr != nil {
		var pe *decision.ParseError
		if !errors.As(parseErr, &pe) {
			return nil, fmt.Errorf("scheduler: parse decision: %w", parseErr)
		}
		// Malformed decisions degrade to the safe default action instead of
		// crashing the loop.
		p.logger.Warn("decision parse failed, falling back", "error", pe)
		d = &decision.Decision{
			Action:    actions.DefaultAction,
			Reasoning: "fallback after malformed decision",
			Type:      decision.TypeInternal,
		}
		result, execErr := p.dispatch(ctx, d)
		outcome.Summary = p.summarize(ctx, scope, d, statusFor(execErr), execErr, result.Summary)
		outcome.Summary.Detail["parse_error"] = pe.Error()
		return outcome, p.writeback(ctx, scope, outcome)
	}

	span.SetAttributes(attribute.String("action", d.Action))
	directive := p.router.Route(d)

	var (
		result  actions.Result
		execErr error
		status  string
	)
	if directive.Disposition == decision.ExecuteAutonomously {
		result, execErr = p.dispatch(ctx, d)
		status = statusFor(execErr)
	} else {
		status, result, execErr = p.gate(ctx, threadID, jobID, d)
		if execErr != nil && errors.Is(execErr, ctx.Err()) {
			return nil, execErr
		}
	}

	outcome.Summary = p.summarize(ctx, scope, d, status, execErr, result.Summary)

	if directive.Notify && p.notifier != nil {
		subject := fmt.Sprintf("agent %s: %s", status, d.Action)
		body := result.Summary
		if body == "" {
			body = d.Reasoning
		}
		if err := p.notifier.NotifyHuman(ctx, subject, body, notify.PriorityNormal); err != nil {
			p.logger.Error("notify failed", "error", err, "action", d.Action)
		}
	}

	return outcome, p.writeback(ctx, scope, outcome)
}

// gate runs the approval path: create the approval (superseding any stale
// pending one for the job), tell the operator, then suspend until resolution
// or timeout.
func (p *Pipeline) gate(ctx context.Context, threadID uuid.UUID, jobID *uuid.UUID, d *decision.Decision) (string, actions.Result, error) {
	proposal := proposalText(d)
	a, err := p.approvals.Create(ctx, threadID, jobID, proposal)
	if err != nil {
		return memory.OutcomeFailed, actions.Result{}, fmt.Errorf("scheduler: create approval: %w", err)
	}

	if p.notifier != nil {
		expires := time.Now().UTC().Add(p.approvalTimeout)
		if err := p.notifier.RequestApproval(ctx, a.ID, proposal, expires); err != nil {
			p.logger.Error("approval request notification failed", "error", err, "approval_id", a.ID)
		}
	}

	res, err := p.waiter.Wait(ctx, a.ID, p.approvalTimeout)
	if err != nil {
		return memory.OutcomeAbandoned, actions.Result{}, err
	}

	if res.TimedOut {
		if p.timeoutDisposition == TimeoutReject {
			if err := p.approvals.Resolve(ctx, a.ID, approvals.StatusRejected); err != nil && !errors.Is(err, approvals.ErrAlreadyResolved) {
				p.logger.Error("timeout rejection failed", "error", err, "approval_id", a.ID)
			}
			return memory.OutcomeRejected, actions.Result{}, nil
		}
		p.logger.Info("approval timed out, left pending", "approval_id", a.ID)
		return memory.OutcomeAbandoned, actions.Result{}, nil
	}

	switch res.Status {
	case approvals.StatusApproved:
		result, execErr := p.dispatch(ctx, d)
		if execErr != nil {
			return memory.OutcomeFailed, result, execErr
		}
		return memory.OutcomeApproved, result, nil
	default:
		return memory.OutcomeRejected, actions.Result{}, nil
	}
}

// dispatch runs the action handler with panic isolation. A panicking handler
// fails its own decision, never the loop.
func (p *Pipeline) dispatch(ctx context.Context, d *decision.Decision) (result actions.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: panic in %q handler: %v", d.Action, r)
		}
	}()
	result, err = p.registry.Dispatch(ctx, d)
	if err != nil {
		err = fmt.Errorf("scheduler: execute %q: %w", d.Action, err)
	}
	return result, err
}

func (p *Pipeline) summarize(_ context.Context, scope budget.Scope, d *decision.Decision, status string, execErr error, resultText string) memory.CycleSummary {
	summary := memory.Summarize(d, status, execErr)
	summary.Detail["scope"] = string(scope)
	if resultText != "" {
		summary.Detail["result"] = resultText
	}
	return summary
}

// writeback persists the cycle summary and, for proactive cycles, replaces the
// carry-forward blob feeding the next decision request.
func (p *Pipeline) writeback(ctx context.Context, scope budget.Scope, outcome *Outcome) error {
	if p.history != nil {
		if _, err := p.history.Append(ctx, outcome.Summary); err != nil {
			return fmt.Errorf("scheduler: memory writeback: %w", err)
		}
	}
	if scope == budget.ScopeProactive && p.carry != nil {
		blob := carryForwardBlob(outcome.Summary)
		if err := p.carry.Save(ctx, blob); err != nil {
			p.logger.Error("carry-forward save failed", "error", err)
		}
	}
	return nil
}

func statusFor(execErr error) string {
	if execErr != nil {
		return memory.OutcomeFailed
	}
	return memory.OutcomeExecuted
}

func proposalText(d *decision.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "action: %s (certainty %.2f, significance %.2f)", d.Action, d.Certainty, d.Significance)
	if d.Reasoning != "" {
		fmt.Fprintf(&b, "\nreasoning: %s", d.Reasoning)
	}
	if len(d.Details) > 0 && string(d.Details) != "{}" {
		fmt.Fprintf(&b, "\ndetails: %s", d.Details)
	}
	return b.String()
}

func carryForwardBlob(s memory.CycleSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "last action: %s (%s)", s.Action, s.Outcome)
	if r, ok := s.Detail["result"]; ok {
		fmt.Fprintf(&b, "; result: %s", r)
	}
	if e, ok := s.Detail["error"]; ok {
		fmt.Fprintf(&b, "; error: %s", e)
	}
	return b.String()
}
