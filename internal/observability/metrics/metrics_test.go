package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilReceiversAreSafe(t *testing.T) {
	var jm *JobMetrics
	jm.ObserveJob("answer", "done")
	jm.ObserveClaimed(3)

	var sm *SchedulerMetrics
	sm.ObserveCycle("executed", 0.5)
	sm.ObserveTokens("proactive", 100)

	var mm *MediaMetrics
	mm.ObserveArtifact("voice", "done")
	mm.ObserveRetry()
}

func TestRegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	jm := NewJobMetrics(reg)
	sm := NewSchedulerMetrics(reg)
	mm := NewMediaMetrics(reg)

	jm.ObserveJob("classify", "failed")
	sm.ObserveCycle("skipped_budget", 0.01)
	sm.ObserveTokens("proactive", 42)
	mm.ObserveArtifact("image", "failed")
	mm.ObserveRetry()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}
