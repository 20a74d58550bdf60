package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dovetail-ai/attache/internal/approvals"
	"github.com/dovetail-ai/attache/internal/budget"
	"github.com/dovetail-ai/attache/internal/ingest"
	"github.com/dovetail-ai/attache/internal/jobs"
	"github.com/dovetail-ai/attache/pkg/logging"
)

type ingestor interface {
	Ingest(ctx context.Context, evt ingest.Event) (*ingest.Result, error)
}

type approvalStore interface {
	Resolve(ctx context.Context, id uuid.UUID, decision approvals.Status) error
	Get(ctx context.Context, id uuid.UUID) (*approvals.Approval, error)
}

type announcer interface {
	Announce(id uuid.UUID, status approvals.Status)
}

type jobStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, to jobs.Status) error
	Get(ctx context.Context, id uuid.UUID) (*jobs.Job, error)
}

type budgetReader interface {
	UsedToday(ctx context.Context, scope budget.Scope) (int64, error)
	Remaining(ctx context.Context, scope budget.Scope) (int64, error)
	UsageRatio(ctx context.Context, scope budget.Scope) (float64, error)
	NextReset() time.Time
}

// Handler bundles the HTTP surface: event ingestion, approval resolution, job
// cancellation, and budget stats.
type Handler struct {
	ingest    ingestor
	approvals approvalStore
	waiter    announcer
	jobs      jobStore
	ledger    budgetReader
	logger    *logging.Logger
}

// NewHandler creates the API handler set.
func NewHandler(ing ingestor, approvalStore approvalStore, waiter announcer, jobStore jobStore, ledger budgetReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		ingest:    ing,
		approvals: approvalStore,
		waiter:    waiter,
		jobs:      jobStore,
		ledger:    ledger,
		logger:    logger.Component("httpapi"),
	}
}

// PostEvent handles POST /events: one inbound event from a transport webhook.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var evt ingest.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "malformed event body", http.StatusBadRequest)
		return
	}

	result, err := h.ingest.Ingest(r.Context(), evt)
	if err != nil {
		h.logger.Error("event ingest failed", "error", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"thread_id": result.Thread.ID,
		"job_id":    result.Job.ID,
		"artifacts": len(result.Artifacts),
	})
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

// ResolveApproval handles POST /admin/approvals/{id}/resolve.
func (h *Handler) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid approval id", http.StatusBadRequest)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	decision := approvals.Status(req.Decision)
	err = h.approvals.Resolve(r.Context(), id, decision)
	switch {
	case errors.Is(err, approvals.ErrInvalidDecision):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, approvals.ErrNotFound):
		http.Error(w, "approval not found", http.StatusNotFound)
		return
	case errors.Is(err, approvals.ErrAlreadyResolved):
		http.Error(w, "approval already resolved", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("resolve approval failed", "error", err, "approval_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Wake any in-process waiter suspended on this approval.
	h.waiter.Announce(id, decision)
	h.logger.Info("approval resolved", "approval_id", id, "decision", decision)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": decision})
}

// GetApproval handles GET /admin/approvals/{id}.
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid approval id", http.StatusBadRequest)
		return
	}

	a, err := h.approvals.Get(r.Context(), id)
	if errors.Is(err, approvals.ErrNotFound) {
		http.Error(w, "approval not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          a.ID,
		"thread_id":   a.ThreadID,
		"job_id":      a.JobID,
		"proposal":    a.Proposal,
		"status":      a.Status,
		"created_at":  a.CreatedAt,
		"resolved_at": a.ResolvedAt,
	})
}

// CancelJob handles POST /admin/jobs/{id}/cancel. Only queued or running jobs
// can be canceled.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	err = h.jobs.UpdateStatus(r.Context(), id, jobs.StatusCanceled)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrInvalidTransition):
		http.Error(w, "job already finished", http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("cancel job failed", "error", err, "job_id", id)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("job canceled", "job_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": jobs.StatusCanceled})
}

// GetBudget handles GET /admin/budget: daily usage per scope.
func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	scopes := []budget.Scope{budget.ScopeProactive, budget.ScopeReactive}
	stats := make(map[string]any, len(scopes))
	for _, scope := range scopes {
		used, err := h.ledger.UsedToday(r.Context(), scope)
		if err != nil {
			h.logger.Error("budget stats failed", "error", err, "scope", scope)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		remaining, err := h.ledger.Remaining(r.Context(), scope)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		ratio, err := h.ledger.UsageRatio(r.Context(), scope)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		entry := map[string]any{
			"used_today":  used,
			"usage_ratio": ratio,
			"unbounded":   remaining == budget.Unbounded,
		}
		if remaining != budget.Unbounded {
			entry["remaining"] = remaining
		}
		stats[string(scope)] = entry
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scopes":     stats,
		"next_reset": h.ledger.NextReset(),
	})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
