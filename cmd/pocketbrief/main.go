// Package main implements the pocketbrief command line client: it submits
// content URLs to the remote analysis service, tracks jobs to completion,
// and recovers in-flight jobs from previous runs on startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pocketbrief/pocketbrief/internal/cache"
	"github.com/pocketbrief/pocketbrief/internal/config"
	"github.com/pocketbrief/pocketbrief/internal/events"
	"github.com/pocketbrief/pocketbrief/internal/identity"
	"github.com/pocketbrief/pocketbrief/internal/migration"
	"github.com/pocketbrief/pocketbrief/internal/platform/logger"
	"github.com/pocketbrief/pocketbrief/internal/poller"
	"github.com/pocketbrief/pocketbrief/internal/recovery"
	"github.com/pocketbrief/pocketbrief/internal/remote"
	"github.com/pocketbrief/pocketbrief/internal/results"
)

func main() {
	submitURL := flag.String("submit", "", "content URL to submit for analysis")
	accessToken := flag.String("token", "", "access token to sign in with before submitting")
	recoverOnly := flag.Bool("recover-only", false, "run startup recovery and exit once all resumed jobs finish")
	flag.Parse()

	if err := run(*submitURL, *accessToken, *recoverOnly); err != nil {
		log.Fatalf("pocketbrief: %v", err)
	}
}

func run(submitURL, accessToken string, recoverOnly bool) error {
	// A .env file is optional; real environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server)
	appLogger.Info("starting pocketbrief",
		"base_url", cfg.Remote.BaseURL,
		"poll_interval", cfg.Jobs.PollInterval,
		"data_dir", cfg.Jobs.DataDir)

	ids, err := identity.NewManager(cfg.Jobs.DataDir, cfg.Auth.JWTSecret, appLogger)
	if err != nil {
		return err
	}

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.RequestTimeout, ids, appLogger)

	store, err := cache.NewStore(cfg.Jobs.DataDir, cfg.Jobs.CacheRetention, appLogger)
	if err != nil {
		return err
	}

	emitter := events.NewInMemoryEmitter(appLogger)
	emitter.Subscribe(events.HandlerFunc(logProgress(appLogger)))

	sink, err := results.NewFileSink(cfg.Jobs.DataDir, emitter, appLogger)
	if err != nil {
		return err
	}

	registry := poller.NewRegistry()
	jobPoller := poller.New(client, registry, store, sink, emitter, poller.Config{
		PollInterval: cfg.Jobs.PollInterval,
		MaxAttempts:  cfg.Jobs.MaxPollAttempts,
	}, appLogger)

	coordinator := migration.NewCoordinator(client, emitter, appLogger)
	ids.SetMigrateFunc(coordinator.MigrateForSignIn)

	orchestrator := recovery.NewOrchestrator(client, store, jobPoller, sink, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if accessToken != "" {
		if _, err := ids.SignIn(ctx, accessToken); err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}
	}

	// Reconstruct in-flight state before anything depends on job state.
	if err := orchestrator.Run(ctx); err != nil {
		appLogger.Warn("startup recovery incomplete, cached jobs kept for next run",
			"error", err)
	}

	if submitURL != "" {
		if err := submitAndWait(ctx, submitURL, client, jobPoller, emitter, appLogger); err != nil {
			return err
		}
	} else if !recoverOnly {
		flag.Usage()
	}

	jobPoller.Wait()
	return nil
}

// submitAndWait submits one URL and blocks until its job reaches a terminal
// state or the process is interrupted.
func submitAndWait(
	ctx context.Context,
	url string,
	client *remote.Client,
	jobPoller *poller.Poller,
	emitter *events.InMemoryEmitter,
	appLogger *slog.Logger,
) error {
	// Subscribe before starting the poller so no event is missed.
	handler := events.NewChannelHandler(32, appLogger)
	emitter.Subscribe(handler)

	jobID, err := client.Submit(ctx, url)
	if err != nil {
		return err
	}

	jobPoller.Start(ctx, cache.Record{
		JobID:     jobID,
		URL:       url,
		StartTime: time.Now(),
	})

	for {
		select {
		case event := <-handler.Events():
			if event.JobID != jobID || event.Type == events.EventJobProgress {
				continue
			}
			appLogger.Info("job finished",
				"job_id", jobID,
				"outcome", event.Type,
				"reason", event.Reason)
			return nil
		case <-ctx.Done():
			appLogger.Info("interrupted, job cancellation requested", "job_id", jobID)
			jobPoller.Wait()
			return nil
		}
	}
}

// logProgress mirrors lifecycle events into the structured log so the CLI
// shows polling activity without a dedicated UI.
func logProgress(appLogger *slog.Logger) func(ctx context.Context, event events.JobEvent) {
	return func(ctx context.Context, event events.JobEvent) {
		switch event.Type {
		case events.EventJobProgress:
			appLogger.Info("job progress",
				"job_id", event.JobID,
				"status", event.Status,
				"progress", event.Progress)
		case events.EventMigrationWarning:
			appLogger.Warn("migration warning", "reason", event.Reason)
		}
	}
}
