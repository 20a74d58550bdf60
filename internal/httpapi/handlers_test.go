package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dovetail-ai/attache/internal/approvals"
	"github.com/dovetail-ai/attache/internal/budget"
	"github.com/dovetail-ai/attache/internal/ingest"
	"github.com/dovetail-ai/attache/internal/jobs"
	"github.com/dovetail-ai/attache/internal/threads"
)

const testSecret = "test-secret"

type fakeIngestor struct {
	evt ingest.Event
	err error
}

func (f *fakeIngestor) Ingest(_ context.Context, evt ingest.Event) (*ingest.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.evt = evt
	return &ingest.Result{
		Thread: &threads.Thread{ID: uuid.New()},
		Job:    &jobs.Job{ID: uuid.New()},
	}, nil
}

type fakeApprovals struct {
	resolveErr error
	resolved   []uuid.UUID
	approval   *approvals.Approval
}

func (f *fakeApprovals) Resolve(_ context.Context, id uuid.UUID, _ approvals.Status) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, id)
	return nil
}

func (f *fakeApprovals) Get(_ context.Context, id uuid.UUID) (*approvals.Approval, error) {
	if f.approval == nil {
		return nil, approvals.ErrNotFound
	}
	return f.approval, nil
}

type fakeAnnouncer struct {
	announced []uuid.UUID
	statuses  []approvals.Status
}

func (f *fakeAnnouncer) Announce(id uuid.UUID, status approvals.Status) {
	f.announced = append(f.announced, id)
	f.statuses = append(f.statuses, status)
}

type fakeJobStore struct {
	updateErr error
	canceled  []uuid.UUID
}

func (f *fakeJobStore) UpdateStatus(_ context.Context, id uuid.UUID, to jobs.Status) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeJobStore) Get(_ context.Context, _ uuid.UUID) (*jobs.Job, error) {
	return nil, jobs.ErrNotFound
}

type fakeBudget struct {
	used      int64
	remaining int64
	ratio     float64
}

func (f *fakeBudget) UsedToday(_ context.Context, _ budget.Scope) (int64, error) {
	return f.used, nil
}

func (f *fakeBudget) Remaining(_ context.Context, scope budget.Scope) (int64, error) {
	if scope == budget.ScopeReactive {
		return budget.Unbounded, nil
	}
	return f.remaining, nil
}

func (f *fakeBudget) UsageRatio(_ context.Context, _ budget.Scope) (float64, error) {
	return f.ratio, nil
}

func (f *fakeBudget) NextReset() time.Time {
	return time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
}

func newTestRouter(t *testing.T) (http.Handler, *fakeIngestor, *fakeApprovals, *fakeAnnouncer, *fakeJobStore) {
	t.Helper()
	ing := &fakeIngestor{}
	appr := &fakeApprovals{}
	ann := &fakeAnnouncer{}
	js := &fakeJobStore{}
	h := NewHandler(ing, appr, ann, js, &fakeBudget{used: 1000, remaining: 199000, ratio: 0.005}, nil)
	router := NewRouter(RouterConfig{Handler: h, AdminJWTSecret: testSecret})
	return router, ing, appr, ann, js
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestPostEventAccepted(t *testing.T) {
	router, ing, _, _, _ := newTestRouter(t)

	body := `{"transport":"telegram","external_id":"chat-42","event_id":"msg-1","mode":"answer"}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "telegram", ing.evt.Transport)
	assert.Contains(t, rec.Body.String(), "job_id")
}

func TestPostEventMalformedBody(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveApprovalRequiresAuth(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/approvals/"+uuid.NewString()+"/resolve",
		strings.NewReader(`{"decision":"approved"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveApprovalAnnouncesWaiters(t *testing.T) {
	router, _, appr, ann, _ := newTestRouter(t)
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/approvals/"+id.String()+"/resolve",
		strings.NewReader(`{"decision":"approved"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, appr.resolved)
	require.Len(t, ann.announced, 1)
	assert.Equal(t, id, ann.announced[0])
	assert.Equal(t, approvals.StatusApproved, ann.statuses[0])
}

func TestResolveApprovalConflictWhenAlreadyResolved(t *testing.T) {
	router, _, appr, ann, _ := newTestRouter(t)
	appr.resolveErr = approvals.ErrAlreadyResolved

	req := httptest.NewRequest(http.MethodPost, "/admin/approvals/"+uuid.NewString()+"/resolve",
		strings.NewReader(`{"decision":"rejected"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, ann.announced)
}

func TestResolveApprovalInvalidDecision(t *testing.T) {
	router, _, appr, _, _ := newTestRouter(t)
	appr.resolveErr = approvals.ErrInvalidDecision

	req := httptest.NewRequest(http.MethodPost, "/admin/approvals/"+uuid.NewString()+"/resolve",
		strings.NewReader(`{"decision":"maybe"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob(t *testing.T) {
	router, _, _, _, js := newTestRouter(t)
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/"+id.String()+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, js.canceled)
}

func TestCancelJobAlreadyFinished(t *testing.T) {
	router, _, _, _, js := newTestRouter(t)
	js.updateErr = jobs.ErrInvalidTransition

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/"+uuid.NewString()+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetBudgetStats(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/budget", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"proactive"`)
	assert.Contains(t, body, `"remaining":199000`)
	assert.Contains(t, body, `"unbounded":true`)
	assert.Contains(t, body, `"next_reset"`)
}

func TestHealthz(t *testing.T) {
	router, _, _, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
