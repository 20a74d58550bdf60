package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dovetail-ai/attache/internal/observability/metrics"
	"github.com/dovetail-ai/attache/pkg/logging"
)

// Processor executes one claimed job through the action-execution path shared
// with the proactive side. The returned string is a short outcome summary.
type Processor interface {
	Process(ctx context.Context, job *Job) (string, error)
}

type claimStore interface {
	ClaimPending(ctx context.Context, limit int) ([]Job, error)
	MarkDone(ctx context.Context, id uuid.UUID, outcome string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Worker polls the job queue and executes claimed jobs. A single job's
// failure, including a panic, never stops the loop.
type Worker struct {
	store     claimStore
	processor Processor
	logger    *logging.Logger
	metrics   *metrics.JobMetrics
	interval  time.Duration
	batchSize int
	wg        sync.WaitGroup
}

// NewWorker creates a reactive worker.
func NewWorker(store claimStore, processor Processor, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		store:     store,
		processor: processor,
		logger:    logger.Component("job_worker"),
		interval:  2 * time.Second,
		batchSize: 5,
	}
}

// WithInterval overrides the poll interval.
func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

// WithBatchSize overrides the claim batch size.
func (w *Worker) WithBatchSize(n int) *Worker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

// WithMetrics attaches job metrics.
func (w *Worker) WithMetrics(m *metrics.JobMetrics) *Worker {
	w.metrics = m
	return w
}

// Start launches the poll loop in a goroutine. Call Wait after canceling ctx
// to drain the in-flight batch.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Wait blocks until the loop has fully stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	claimed, err := w.store.ClaimPending(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("claim pending jobs failed", "error", err)
		}
		return
	}
	for i := range claimed {
		job := &claimed[i]
		// Finish the claimed unit even when shutdown arrived mid-batch;
		// abandoning it would leave the row stuck in running.
		w.processOne(ctx, job)
	}
}

func (w *Worker) processOne(ctx context.Context, job *Job) {
	outcome, err := w.safeProcess(ctx, job)

	// The terminal write must land even when shutdown canceled ctx mid-batch:
	// a claimed job left running is invisible to future claims forever.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		w.logger.Error("job failed", "job_id", job.ID, "mode", job.Mode, "error", err)
		w.metrics.ObserveJob(string(job.Mode), "failed")
		if markErr := w.store.MarkFailed(finishCtx, job.ID, err.Error()); markErr != nil {
			w.logger.Error("mark job failed errored", "job_id", job.ID, "error", markErr)
		}
		return
	}
	w.metrics.ObserveJob(string(job.Mode), "done")
	if markErr := w.store.MarkDone(finishCtx, job.ID, outcome); markErr != nil {
		w.logger.Error("mark job done errored", "job_id", job.ID, "error", markErr)
	}
}

func (w *Worker) safeProcess(ctx context.Context, job *Job) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jobs: panic while processing: %v", r)
		}
	}()
	return w.processor.Process(ctx, job)
}
