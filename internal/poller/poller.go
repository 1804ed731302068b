// Package poller drives a submitted job from registration to a terminal
// state by polling the remote service on a fixed interval. The registry it
// shares with the recovery orchestrator guarantees at most one active
// polling loop per job within the process.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pocketbrief/pocketbrief/internal/cache"
	"github.com/pocketbrief/pocketbrief/internal/domain"
	"github.com/pocketbrief/pocketbrief/internal/events"
	"github.com/pocketbrief/pocketbrief/internal/results"
)

// JobClient is the subset of the remote client the poller needs.
type JobClient interface {
	Poll(ctx context.Context, jobID string) (domain.Job, error)
	Cancel(ctx context.Context, jobID string)
}

// RecordStore is the subset of the local job cache the poller needs.
type RecordStore interface {
	Save(record cache.Record) error
	Remove(jobID string) error
	Touch(jobID string, at time.Time) error
}

// Config holds polling parameters.
type Config struct {
	// PollInterval is the fixed delay between polls of one job.
	PollInterval time.Duration

	// MaxAttempts bounds the number of polls, including ones lost to
	// transient network errors, before the poller gives up with a
	// timeout. Defaults to 120 attempts at 5s, i.e. ten minutes.
	MaxAttempts int
}

// DefaultConfig returns the production polling parameters.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		MaxAttempts:  120,
	}
}

// Poller starts and tracks polling loops. All loops share one registry,
// cache, and sink.
type Poller struct {
	client   JobClient
	registry *Registry
	store    RecordStore
	sink     results.Sink
	emitter  events.Emitter
	cfg      Config
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a Poller.
func New(
	client JobClient,
	registry *Registry,
	store RecordStore,
	sink results.Sink,
	emitter events.Emitter,
	cfg Config,
	logger *slog.Logger,
) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 120
	}
	return &Poller{
		client:   client,
		registry: registry,
		store:    store,
		sink:     sink,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger.With("component", "job_poller"),
	}
}

// Start begins tracking the job described by record. It is idempotent:
// callers may race to resume the same job after recovery, and the loser
// observes false without a duplicate loop being started. The record is
// persisted with a fresh LastCheck before polling begins.
//
// Cancelling ctx stops the loop cooperatively: an in-flight poll finishes
// first, the next tick is skipped, one best-effort remote cancel is issued,
// and the job is reported as cancelled.
func (p *Poller) Start(ctx context.Context, record cache.Record) bool {
	if !p.registry.TryAdd(record.JobID) {
		p.logger.Debug("poller already active for job, ignoring start",
			"job_id", record.JobID)
		return false
	}

	record.LastCheck = time.Now()
	if err := p.store.Save(record); err != nil {
		p.logger.Error("failed to persist job record",
			"job_id", record.JobID,
			"error", err)
	}

	p.wg.Add(1)
	go p.run(ctx, record)
	return true
}

// Wait blocks until all polling loops have finished. Used during shutdown.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// run is the polling loop for a single job. Polls are strictly sequential:
// the next poll is only scheduled after the previous one resolved.
func (p *Poller) run(ctx context.Context, record cache.Record) {
	defer p.wg.Done()
	defer p.registry.Remove(record.JobID)

	logger := p.logger.With("job_id", record.JobID, "url", record.URL)
	logger.Info("polling started")

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			p.cancelLocally(record, logger)
			return
		case <-time.After(p.cfg.PollInterval):
		}

		// The in-flight poll is never interrupted mid-request;
		// cancellation is honored at the top of the next iteration.
		job, err := p.client.Poll(context.WithoutCancel(ctx), record.JobID)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotOwned) {
				// Fatal: the identity lost access, the job is never resumed.
				logger.Warn("job no longer accessible, stopping", "error", err)
				p.finishWithoutResult(record, events.EventJobFailed, err.Error(), true)
				return
			}
			if domain.IsRemoteError(err) {
				// An explicit error response, as opposed to a transport
				// failure: the service knows the job and refuses it.
				logger.Warn("remote error while polling, stopping", "error", err)
				p.finishWithoutResult(record, events.EventJobFailed, err.Error(), true)
				return
			}
			// Transient network failure: consumes this attempt, state is
			// unchanged, the budget keeps ticking down.
			logger.Debug("transient poll failure",
				"attempt", attempt,
				"max_attempts", p.cfg.MaxAttempts,
				"error", err)
			continue
		}

		switch job.Status {
		case domain.JobStatusQueued, domain.JobStatusProcessing:
			if err := p.store.Touch(record.JobID, time.Now()); err != nil {
				logger.Error("failed to refresh job record", "error", err)
			}
			event := events.NewJobEvent(events.EventJobProgress, record.JobID, record.URL)
			event.Status = job.Status
			event.Progress = job.Progress
			p.emitter.Emit(ctx, event)

		case domain.JobStatusCompleted:
			logger.Info("job completed", "attempts", attempt)
			if err := p.sink.StoreResult(context.WithoutCancel(ctx), job); err != nil {
				logger.Error("failed to store job result", "error", err)
			}
			p.removeRecord(record, logger)
			return

		case domain.JobStatusFailed:
			logger.Info("job failed", "reason", job.Error)
			p.finishWithoutResult(record, events.EventJobFailed, job.Error, true)
			return

		case domain.JobStatusCancelled:
			// Cancelled remotely, not by us; observed like any terminal state.
			logger.Info("job cancelled remotely")
			p.finishWithoutResult(record, events.EventJobCancelled, "cancelled by the service", true)
			return
		}
	}

	// Attempt budget exhausted. The remote job may still be running, so the
	// record stays cached and remains eligible for a later recovery pass.
	logger.Warn("polling attempt budget exhausted",
		"max_attempts", p.cfg.MaxAttempts)
	p.finishWithoutResult(record, events.EventJobTimeout, domain.ErrPollTimeout.Error(), false)
}

// cancelLocally handles a cancellation requested on this device: one
// fire-and-forget remote cancel, then the cancelled terminal state without
// waiting for server confirmation.
func (p *Poller) cancelLocally(record cache.Record, logger *slog.Logger) {
	logger.Info("cancellation requested, stopping poller")
	p.client.Cancel(context.Background(), record.JobID)
	p.finishWithoutResult(record, events.EventJobCancelled, "cancelled by user", true)
}

// finishWithoutResult reports a terminal state that carries no result.
// removeRecord is false only for timeouts, where the cached record must
// survive for future recovery.
func (p *Poller) finishWithoutResult(record cache.Record, eventType events.EventType, reason string, removeRecord bool) {
	if removeRecord {
		p.removeRecord(record, p.logger.With("job_id", record.JobID))
	}
	p.sink.ReportFailure(context.Background(), record.JobID, record.URL, eventType, reason)
}

func (p *Poller) removeRecord(record cache.Record, logger *slog.Logger) {
	if err := p.store.Remove(record.JobID); err != nil {
		logger.Error("failed to remove job record", "error", err)
	}
}
