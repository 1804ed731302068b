// Package recovery reconstructs in-flight polling state after a cold start
// by reconciling the local job cache with the service's authoritative list
// of active jobs for the current identity.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/pocketbrief/pocketbrief/internal/cache"
	"github.com/pocketbrief/pocketbrief/internal/domain"
	"github.com/pocketbrief/pocketbrief/internal/events"
	"github.com/pocketbrief/pocketbrief/internal/results"
)

// JobClient is the subset of the remote client recovery needs.
type JobClient interface {
	ListActive(ctx context.Context) ([]domain.Job, error)
	Poll(ctx context.Context, jobID string) (domain.Job, error)
}

// RecordStore is the subset of the local job cache recovery needs.
type RecordStore interface {
	GetAll() ([]cache.Record, error)
	Remove(jobID string) error
}

// PollerStarter starts a polling loop for a record. Start must be
// idempotent per job: recovery relies on it to avoid duplicate loops.
type PollerStarter interface {
	Start(ctx context.Context, record cache.Record) bool
}

// Orchestrator runs the startup reconciliation. Re-entrant calls while a
// run is in progress are ignored, not queued; a later call after completion
// is allowed and harmless, since every applied action is idempotent.
type Orchestrator struct {
	client  JobClient
	store   RecordStore
	poller  PollerStarter
	sink    results.Sink
	logger  *slog.Logger
	running atomic.Bool
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	client JobClient,
	store RecordStore,
	poller PollerStarter,
	sink results.Sink,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		client: client,
		store:  store,
		poller: poller,
		sink:   sink,
		logger: logger.With("component", "recovery_orchestrator"),
	}
}

// Run fetches both job sources, classifies their union, and applies the
// resulting plan: completed jobs are persisted without polling, failed and
// cancelled ones surfaced, running ones resumed with exactly one poller
// each. Records that cannot be classified because of a network failure are
// left untouched in the cache for the next recovery attempt; they are never
// deleted speculatively.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug("recovery already in progress, ignoring re-entrant call")
		return nil
	}
	defer o.running.Store(false)

	localRecords, err := o.store.GetAll()
	if err != nil {
		return fmt.Errorf("failed to read local job cache: %w", err)
	}

	remoteActive, err := o.fetchActive(ctx)
	if err != nil {
		// Nothing can be classified without the authoritative list; all
		// local records stay put for the next attempt.
		return fmt.Errorf("failed to fetch active jobs: %w", err)
	}

	plan := Classify(remoteActive, localRecords)
	o.logger.Info("reconciled job state",
		"remote_active", len(remoteActive),
		"local_records", len(localRecords),
		"complete", len(plan.Complete),
		"fail", len(plan.Fail),
		"resume", len(plan.Resume),
		"lookup", len(plan.Lookup))

	for _, m := range plan.Complete {
		o.applyCompleted(ctx, m.Job)
	}
	for _, m := range plan.Fail {
		o.applyFailed(ctx, m.Job)
	}
	for _, record := range plan.Resume {
		o.poller.Start(ctx, record)
	}
	for _, record := range plan.Lookup {
		o.classifyLocalOnly(ctx, record)
	}

	return nil
}

// fetchActive retrieves the active job list with a short bounded retry. A
// transient failure at cold start would otherwise postpone recovery for a
// whole process lifetime.
func (o *Orchestrator) fetchActive(ctx context.Context) ([]domain.Job, error) {
	var jobs []domain.Job

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = 15 * time.Second

	operation := func() error {
		var err error
		jobs, err = o.client.ListActive(ctx)
		if err != nil && domain.IsRemoteError(err) {
			// An explicit error response will not get better by retrying.
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expBackoff, 3), ctx)); err != nil {
		return nil, err
	}
	return jobs, nil
}

// applyCompleted persists a result that finished while the app was not
// running. No polling loop is started.
func (o *Orchestrator) applyCompleted(ctx context.Context, job domain.Job) {
	if err := o.sink.StoreResult(ctx, job); err != nil {
		// Keep the record: the next recovery attempt can retry the write.
		o.logger.Error("failed to store recovered result",
			"job_id", job.JobID,
			"error", err)
		return
	}
	o.removeRecord(job.JobID)
}

// applyFailed surfaces a remotely failed or cancelled job through the same
// channel the poller uses, then drops the record.
func (o *Orchestrator) applyFailed(ctx context.Context, job domain.Job) {
	eventType := events.EventJobFailed
	reason := job.Error
	if job.Status == domain.JobStatusCancelled {
		eventType = events.EventJobCancelled
		reason = "cancelled by the service"
	}
	o.sink.ReportFailure(ctx, job.JobID, job.URL, eventType, reason)
	o.removeRecord(job.JobID)
}

// classifyLocalOnly resolves a record the active list no longer covers with
// one direct poll, then applies the same rules.
func (o *Orchestrator) classifyLocalOnly(ctx context.Context, record cache.Record) {
	job, err := o.client.Poll(ctx, record.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotOwned) {
			// The service no longer knows the job (or we lost access).
			// Terminal for our purposes: surface and drop.
			o.sink.ReportFailure(ctx, record.JobID, record.URL, events.EventJobFailed,
				"job no longer known to the service")
			o.removeRecord(record.JobID)
			return
		}
		// Transient failure: leave the record for the next recovery pass.
		o.logger.Warn("could not classify cached job, leaving record in place",
			"job_id", record.JobID,
			"error", err)
		return
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		o.applyCompleted(ctx, job)
	case domain.JobStatusFailed, domain.JobStatusCancelled:
		o.applyFailed(ctx, job)
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		o.poller.Start(ctx, record)
	}
}

func (o *Orchestrator) removeRecord(jobID string) {
	if err := o.store.Remove(jobID); err != nil {
		o.logger.Error("failed to remove job record", "job_id", jobID, "error", err)
	}
}
