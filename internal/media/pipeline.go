package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dovetail-ai/attache/internal/observability/metrics"
	"github.com/dovetail-ai/attache/pkg/logging"
)

// Transcriber converts voice audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte) (string, error)
}

// VisionAnalyzer describes an image.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, data []byte) (string, error)
}

// DocumentExtractor pulls text out of a document.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Fetcher loads the artifact payload from its location URI.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

type artifactStore interface {
	ClaimPending(ctx context.Context, limit int) ([]Artifact, error)
	MarkDone(ctx context.Context, id uuid.UUID, content []byte) error
	MarkFailure(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) (Status, error)
}

// Pipeline polls for pending artifacts and dispatches them to kind-specific
// handlers, retrying failures up to maxAttempts.
type Pipeline struct {
	store       artifactStore
	fetcher     Fetcher
	transcriber Transcriber
	vision      VisionAnalyzer
	documents   DocumentExtractor
	logger      *logging.Logger
	metrics     *metrics.MediaMetrics

	interval    time.Duration
	batchSize   int
	maxAttempts int
	wg          sync.WaitGroup
}

// NewPipeline creates a media pipeline. Handlers may be nil; artifacts of
// that kind then fail with a descriptive error.
func NewPipeline(store artifactStore, fetcher Fetcher, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		store:       store,
		fetcher:     fetcher,
		logger:      logger.Component("media_pipeline"),
		interval:    5 * time.Second,
		batchSize:   10,
		maxAttempts: 3,
	}
}

func (p *Pipeline) WithTranscriber(t Transcriber) *Pipeline {
	p.transcriber = t
	return p
}

func (p *Pipeline) WithVisionAnalyzer(v VisionAnalyzer) *Pipeline {
	p.vision = v
	return p
}

func (p *Pipeline) WithDocumentExtractor(d DocumentExtractor) *Pipeline {
	p.documents = d
	return p
}

func (p *Pipeline) WithInterval(d time.Duration) *Pipeline {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *Pipeline) WithBatchSize(n int) *Pipeline {
	if n > 0 {
		p.batchSize = n
	}
	return p
}

func (p *Pipeline) WithMaxAttempts(n int) *Pipeline {
	if n > 0 {
		p.maxAttempts = n
	}
	return p
}

func (p *Pipeline) WithMetrics(m *metrics.MediaMetrics) *Pipeline {
	p.metrics = m
	return p
}

// Start launches the poll loop in a goroutine. Call Wait after canceling ctx
// to drain the in-flight batch.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Wait blocks until the loop has fully stopped.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Pipeline) drain(ctx context.Context) {
	claimed, err := p.store.ClaimPending(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("claim pending artifacts failed", "error", err)
		}
		return
	}
	for i := range claimed {
		artifact := &claimed[i]
		p.processOne(ctx, artifact)
	}
}

func (p *Pipeline) processOne(ctx context.Context, artifact *Artifact) {
	result, err := p.extract(ctx, artifact)

	// The terminal write must land even when shutdown canceled ctx mid-batch:
	// an artifact left in processing is invisible to future claims forever.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		status, markErr := p.store.MarkFailure(finishCtx, artifact.ID, err.Error(), p.maxAttempts)
		if markErr != nil {
			p.logger.Error("mark artifact failure errored", "artifact_id", artifact.ID, "error", markErr)
			return
		}
		if status == StatusPending {
			p.metrics.ObserveRetry()
			p.logger.Warn("artifact processing failed, will retry",
				"artifact_id", artifact.ID, "kind", artifact.Kind,
				"attempt", artifact.AttemptCount+1, "error", err)
		} else {
			p.metrics.ObserveArtifact(string(artifact.Kind), "failed")
			p.logger.Error("artifact failed permanently",
				"artifact_id", artifact.ID, "kind", artifact.Kind, "error", err)
		}
		return
	}

	if err := p.store.MarkDone(finishCtx, artifact.ID, []byte(result)); err != nil {
		p.logger.Error("mark artifact done errored", "artifact_id", artifact.ID, "error", err)
		return
	}
	p.metrics.ObserveArtifact(string(artifact.Kind), "done")
	p.logger.Debug("artifact processed", "artifact_id", artifact.ID, "kind", artifact.Kind)
}

func (p *Pipeline) extract(ctx context.Context, artifact *Artifact) (string, error) {
	data := artifact.Content
	if len(data) == 0 && artifact.Location != "" {
		if p.fetcher == nil {
			return "", fmt.Errorf("media: no fetcher configured for location %q", artifact.Location)
		}
		fetched, err := p.fetcher.Fetch(ctx, artifact.Location)
		if err != nil {
			return "", fmt.Errorf("media: fetch payload: %w", err)
		}
		data = fetched
	}

	switch artifact.Kind {
	case KindVoice:
		if p.transcriber == nil {
			return "", fmt.Errorf("media: no transcriber configured")
		}
		return p.transcriber.Transcribe(ctx, data)
	case KindImage:
		if p.vision == nil {
			return "", fmt.Errorf("media: no vision analyzer configured")
		}
		return p.vision.Analyze(ctx, data)
	case KindDocument:
		if p.documents == nil {
			return "", fmt.Errorf("media: no document extractor configured")
		}
		return p.documents.Extract(ctx, data)
	default:
		return "", fmt.Errorf("media: no handler for kind %q", artifact.Kind)
	}
}
