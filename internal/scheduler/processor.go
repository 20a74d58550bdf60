package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/dovetail-ai/attache/internal/budget"
	"github.com/dovetail-ai/attache/internal/jobs"
	"github.com/dovetail-ai/attache/internal/llm"
	"github.com/dovetail-ai/attache/internal/memory"
	"github.com/dovetail-ai/attache/pkg/logging"
)

// JobProcessor runs reactive jobs through the same decision pipeline as
// proactive cycles, under the reactive budget scope.
type JobProcessor struct {
	pipeline    cycleRunner
	logger      *logging.Logger
	actionNames []string
}

// NewJobProcessor creates a processor for the reactive worker.
func NewJobProcessor(pipeline cycleRunner, actionNames []string, logger *logging.Logger) *JobProcessor {
	if logger == nil {
		logger = logging.Default()
	}
	return &JobProcessor{
		pipeline:    pipeline,
		actionNames: actionNames,
		logger:      logger.Component("job_processor"),
	}
}

// Process handles one claimed job. The returned string lands in the job's
// payload as its outcome.
func (p *JobProcessor) Process(ctx context.Context, job *jobs.Job) (string, error) {
	outcome, err := p.pipeline.Run(ctx, budget.ScopeReactive, job.ThreadID, &job.ID, p.buildRequest(job))
	if err != nil {
		return "", err
	}

	summary := outcome.Summary
	if summary.Outcome == memory.OutcomeFailed {
		reason := summary.Detail["error"]
		return "", fmt.Errorf("scheduler: job action %q failed: %s", summary.Action, reason)
	}
	return fmt.Sprintf("%s (%s)", summary.Action, summary.Outcome), nil
}

func (p *JobProcessor) buildRequest(job *jobs.Job) llm.DecisionRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "An inbound event needs a %s decision.\n", job.Mode)
	if len(job.Payload) > 0 && string(job.Payload) != "{}" {
		fmt.Fprintf(&b, "Event payload: %s\n", job.Payload)
	}
	if job.TriggerID != "" {
		fmt.Fprintf(&b, "Triggering event: %s\n", job.TriggerID)
	}
	if len(p.actionNames) > 0 {
		fmt.Fprintf(&b, "Available actions: %s.\n", strings.Join(p.actionNames, ", "))
	}
	b.WriteString("Decide how to respond.")
	return llm.DecisionRequest{System: systemPrompt, Prompt: b.String()}
}
