package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dovetail-ai/attache/internal/jobs"
	"github.com/dovetail-ai/attache/internal/media"
	"github.com/dovetail-ai/attache/internal/threads"
	"github.com/dovetail-ai/attache/pkg/logging"
)

// Event is one normalized inbound message from any transport.
type Event struct {
	Transport   string          `json:"transport"`
	ExternalID  string          `json:"external_id"`
	EventID     string          `json:"event_id"`
	Mode        jobs.Mode       `json:"mode"`
	Payload     json.RawMessage `json:"payload"`
	Attachments []Attachment    `json:"attachments"`
}

// Attachment points at a media payload that needs extraction before the job
// can use it.
type Attachment struct {
	Kind     media.Kind `json:"kind"`
	Location string     `json:"location"`
}

// Result reports what one ingested event produced.
type Result struct {
	Thread    *threads.Thread
	Job       *jobs.Job
	Artifacts []*media.Artifact
}

type threadEnsurer interface {
	Ensure(ctx context.Context, transport, externalID string) (*threads.Thread, error)
}

type jobEnqueuer interface {
	Enqueue(ctx context.Context, threadID uuid.UUID, triggerID string, mode jobs.Mode, payload json.RawMessage) (*jobs.Job, error)
}

type artifactRegistrar interface {
	Register(ctx context.Context, messageID string, kind media.Kind, location string) (*media.Artifact, error)
}

// Service turns inbound events into a thread, a queued job, and pending media
// artifacts in one pass.
type Service struct {
	threads   threadEnsurer
	jobs      jobEnqueuer
	artifacts artifactRegistrar
	logger    *logging.Logger
}

// NewService creates an ingestion service.
func NewService(threadStore threadEnsurer, jobStore jobEnqueuer, artifactStore artifactRegistrar, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		threads:   threadStore,
		jobs:      jobStore,
		artifacts: artifactStore,
		logger:    logger.Component("ingest"),
	}
}

// Ingest records the event. The thread is created lazily on first contact and
// the job lands queued for the reactive worker. Attachments become pending
// artifacts keyed by the event id.
func (s *Service) Ingest(ctx context.Context, evt Event) (*Result, error) {
	if evt.Transport == "" || evt.ExternalID == "" {
		return nil, fmt.Errorf("ingest: transport and external_id required")
	}
	if evt.Mode == "" {
		evt.Mode = jobs.ModeClassify
	}

	thread, err := s.threads.Ensure(ctx, evt.Transport, evt.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("ingest: ensure thread: %w", err)
	}

	job, err := s.jobs.Enqueue(ctx, thread.ID, evt.EventID, evt.Mode, evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("ingest: enqueue job: %w", err)
	}

	result := &Result{Thread: thread, Job: job}
	for _, att := range evt.Attachments {
		artifact, err := s.artifacts.Register(ctx, evt.EventID, att.Kind, att.Location)
		if err != nil {
			return nil, fmt.Errorf("ingest: register %s artifact: %w", att.Kind, err)
		}
		result.Artifacts = append(result.Artifacts, artifact)
	}

	s.logger.Info("event ingested",
		"transport", evt.Transport, "thread_id", thread.ID,
		"job_id", job.ID, "mode", job.Mode, "artifacts", len(result.Artifacts))
	return result, nil
}
