package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dovetail-ai/attache/internal/actions"
	"github.com/dovetail-ai/attache/internal/approvals"
	"github.com/dovetail-ai/attache/internal/budget"
	appconfig "github.com/dovetail-ai/attache/internal/config"
	"github.com/dovetail-ai/attache/internal/decision"
	"github.com/dovetail-ai/attache/internal/httpapi"
	"github.com/dovetail-ai/attache/internal/ingest"
	"github.com/dovetail-ai/attache/internal/jobs"
	"github.com/dovetail-ai/attache/internal/llm"
	"github.com/dovetail-ai/attache/internal/media"
	"github.com/dovetail-ai/attache/internal/memory"
	"github.com/dovetail-ai/attache/internal/notify"
	"github.com/dovetail-ai/attache/internal/observability/metrics"
	"github.com/dovetail-ai/attache/internal/scheduler"
	"github.com/dovetail-ai/attache/internal/threads"
	"github.com/dovetail-ai/attache/pkg/logging"
)

// proactiveTransport identifies the internal thread the scheduler's own
// approvals and memories hang off. It is created once at startup.
const (
	proactiveTransport  = "internal"
	proactiveExternalID = "scheduler"
)

// Agent is the assembled runtime: every loop plus the HTTP surface, ready to
// start. Build it once with BuildAgent, start it, then Drain on shutdown.
type Agent struct {
	Router http.Handler

	scheduler *scheduler.Scheduler
	worker    *jobs.Worker
	media     *media.Pipeline
	consumer  *ingest.SQSConsumer

	pool   *pgxpool.Pool
	redis  *redis.Client
	client llm.DecisionClient
	logger *logging.Logger
}

// BuildAgent wires the full agent from configuration. It fails fast on
// anything the agent cannot run without (database, decision model) and
// degrades gracefully on optional pieces (redis, email, event queue).
func BuildAgent(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := BuildDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	redisClient := BuildRedisClient(ctx, cfg, logger, true)

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	decisionClient, err := BuildDecisionClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	// Stores.
	threadStore := threads.NewStore(pool)
	jobStore := jobs.NewStore(pool)
	approvalStore := approvals.NewStore(pool)
	artifactStore := media.NewStore(pool)
	historyStore := memory.NewStore(pool, cfg.MemoryRetentionCount)
	carry := memory.NewCarryForward(redisClient)
	ledger := budget.NewLedger(pool, map[budget.Scope]int64{
		budget.ScopeProactive: cfg.DailyTokenLimitProactive,
		budget.ScopeReactive:  cfg.DailyTokenLimitReactive,
	})

	// Notifications.
	var recipients []string
	if addr := strings.TrimSpace(cfg.OperatorEmail); addr != "" {
		recipients = append(recipients, addr)
	}
	notifySvc := notify.NewService(BuildEmailSender(cfg, awsCfg, logger), recipients, logger)

	// Actions. The communicate action delivers through the same notification
	// service the approval gate uses.
	registry := actions.NewRegistry(
		actions.WaitHandler{},
		actions.NewMeditateHandler(logger),
		actions.NewCommunicateHandler(&notifyMessenger{svc: notifySvc}),
		actions.NewResearchHandler(logger),
	)

	waiter := approvals.NewWaiter(approvalStore)
	pipeline := scheduler.NewPipeline(
		decisionClient, ledger, decision.NewRouter(cfg.CertaintyThreshold, cfg.SignificanceThreshold),
		registry, approvalStore, waiter, notifySvc, historyStore, carry, logger,
	).
		WithApprovalTimeout(cfg.ApprovalTimeout, cfg.ApprovalTimeoutDisposition).
		WithMaxTokens(int32(cfg.DecisionMaxToken))

	// The proactive loop needs a thread of its own for approvals and memory.
	proactiveThread, err := threadStore.Ensure(ctx, proactiveTransport, proactiveExternalID)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ensure proactive thread: %w", err)
	}

	sched := scheduler.NewScheduler(pipeline, ledger, historyStore, carry, proactiveThread.ID, logger).
		WithIntervals(cfg.MinInterval, cfg.MaxInterval).
		WithMinimumViableTokens(cfg.MinimumViableTokens).
		WithActionNames(registry.Actions()).
		WithMetrics(metrics.NewSchedulerMetrics(nil))

	worker := jobs.NewWorker(jobStore, scheduler.NewJobProcessor(pipeline, registry.Actions(), logger), logger).
		WithInterval(cfg.JobPollInterval).
		WithBatchSize(cfg.JobBatchSize).
		WithMetrics(metrics.NewJobMetrics(nil))

	mediaPipeline := media.NewPipeline(artifactStore, media.NewS3Fetcher(s3.NewFromConfig(awsCfg), cfg.MediaBucket), logger).
		WithInterval(cfg.MediaPollInterval).
		WithBatchSize(cfg.MediaBatchSize).
		WithMaxAttempts(cfg.MediaMaxAttempts).
		WithMetrics(metrics.NewMediaMetrics(nil))

	ingestSvc := ingest.NewService(threadStore, jobStore, artifactStore, logger)
	var consumer *ingest.SQSConsumer
	if strings.TrimSpace(cfg.EventQueueURL) != "" {
		consumer = ingest.NewSQSConsumer(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL, ingestSvc, logger)
	} else {
		logger.Info("no event queue configured, inbound events arrive via HTTP only")
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Handler:        httpapi.NewHandler(ingestSvc, approvalStore, waiter, jobStore, ledger, logger),
		AdminJWTSecret: cfg.AdminJWTSecret,
	})

	return &Agent{
		Router:    router,
		scheduler: sched,
		worker:    worker,
		media:     mediaPipeline,
		consumer:  consumer,
		pool:      pool,
		redis:     redisClient,
		client:    decisionClient,
		logger:    logger.Component("agent"),
	}, nil
}

// Start launches every background loop. Cancel ctx to begin draining.
func (a *Agent) Start(ctx context.Context) {
	a.scheduler.Start(ctx)
	a.worker.Start(ctx)
	a.media.Start(ctx)
	if a.consumer != nil {
		a.consumer.Start(ctx)
	}
	a.logger.Info("agent loops started")
}

// Drain blocks until every loop has finished its in-flight work.
func (a *Agent) Drain() {
	a.scheduler.Wait()
	a.worker.Wait()
	a.media.Wait()
	if a.consumer != nil {
		a.consumer.Wait()
	}
	a.logger.Info("agent loops drained")
}

// Close releases connections. Call after Drain.
func (a *Agent) Close() {
	if closer, ok := a.client.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// notifyMessenger adapts the notification service to the communicate action.
type notifyMessenger struct {
	svc *notify.Service
}

func (m *notifyMessenger) SendMessage(ctx context.Context, text string) error {
	return m.svc.NotifyHuman(ctx, "message from your agent", text, notify.PriorityNormal)
}
