package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dovetail-ai/attache/internal/app/bootstrap"
	appconfig "github.com/dovetail-ai/attache/internal/config"
	"github.com/dovetail-ai/attache/pkg/logging"
)

const drainTimeout = 30 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting attache agent",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent, err := bootstrap.BuildAgent(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer agent.Close()

	agent.Start(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      agent.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down, draining in-flight work...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// The loops saw ctx cancel; give them the rest of the drain window.
	drained := make(chan struct{})
	go func() {
		agent.Drain()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info("agent stopped cleanly")
	case <-shutdownCtx.Done():
		logger.Warn("drain timeout exceeded, exiting with work in flight")
	}
}
