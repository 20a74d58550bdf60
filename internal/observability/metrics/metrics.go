package metrics

import "github.com/prometheus/client_golang/prometheus"

// JobMetrics exposes counters for the reactive job queue.
type JobMetrics struct {
	jobsTotal    *prometheus.CounterVec
	queueClaimed prometheus.Counter
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	m := &JobMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attache",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Reactive jobs processed, by mode and terminal status",
		}, []string{"mode", "status"}),
		queueClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attache",
			Subsystem: "jobs",
			Name:      "claimed_total",
			Help:      "Jobs atomically claimed from the queue",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.queueClaimed)
	return m
}

func (m *JobMetrics) ObserveJob(mode, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(mode, status).Inc()
}

func (m *JobMetrics) ObserveClaimed(n int) {
	if m == nil {
		return
	}
	m.queueClaimed.Add(float64(n))
}

// SchedulerMetrics exposes counters/histograms for proactive cycles.
type SchedulerMetrics struct {
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	tokensUsed    *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attache",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Proactive cycles, by outcome",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attache",
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one proactive cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		tokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attache",
			Subsystem: "budget",
			Name:      "tokens_used_total",
			Help:      "Tokens recorded in the ledger, by scope",
		}, []string{"scope"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cyclesTotal, m.cycleDuration, m.tokensUsed)
	return m
}

func (m *SchedulerMetrics) ObserveCycle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *SchedulerMetrics) ObserveTokens(scope string, total int64) {
	if m == nil {
		return
	}
	m.tokensUsed.WithLabelValues(scope).Add(float64(total))
}

// MediaMetrics exposes counters for the media pipeline.
type MediaMetrics struct {
	artifactsTotal *prometheus.CounterVec
	retriesTotal   prometheus.Counter
}

func NewMediaMetrics(reg prometheus.Registerer) *MediaMetrics {
	m := &MediaMetrics{
		artifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attache",
			Subsystem: "media",
			Name:      "artifacts_total",
			Help:      "Artifacts processed, by kind and terminal status",
		}, []string{"kind", "status"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attache",
			Subsystem: "media",
			Name:      "retries_total",
			Help:      "Artifacts reverted to pending for retry",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.artifactsTotal, m.retriesTotal)
	return m
}

func (m *MediaMetrics) ObserveArtifact(kind, status string) {
	if m == nil {
		return
	}
	m.artifactsTotal.WithLabelValues(kind, status).Inc()
}

func (m *MediaMetrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}
