// Package results implements the write-back path for finished jobs: a
// completed job's payload is stored durably on the device, and observers
// are notified that new data is available. Failures, cancellations, and
// timeouts flow through the same notification channel so consumers need a
// single code path for terminal states.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pocketbrief/pocketbrief/internal/domain"
	"github.com/pocketbrief/pocketbrief/internal/events"
)

// Sink receives terminal job outcomes.
type Sink interface {
	// StoreResult persists the payload of a completed job and notifies
	// observers.
	StoreResult(ctx context.Context, job domain.Job) error

	// ReportFailure notifies observers of a failed, cancelled, or
	// timed-out job. Nothing durable is written; there is no result to
	// keep.
	ReportFailure(ctx context.Context, jobID, url string, eventType events.EventType, reason string)
}

// storedResult is the on-disk representation of a completed analysis.
type storedResult struct {
	JobID       string          `json:"jobId"`
	URL         string          `json:"url"`
	Result      json.RawMessage `json:"result"`
	CompletedAt time.Time       `json:"completedAt"`
}

// FileSink stores completed results as one JSON file per job under
// <dataDir>/results and publishes lifecycle events.
type FileSink struct {
	dir     string
	emitter events.Emitter
	logger  *slog.Logger
}

// NewFileSink creates a FileSink rooted at dataDir.
func NewFileSink(dataDir string, emitter events.Emitter, logger *slog.Logger) (*FileSink, error) {
	dir := filepath.Join(dataDir, "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &FileSink{
		dir:     dir,
		emitter: emitter,
		logger:  logger.With("component", "result_sink"),
	}, nil
}

// StoreResult persists the completed job's payload and emits a
// job.completed event. Writing the same job twice overwrites the previous
// file with identical content, so replays during recovery are harmless.
func (s *FileSink) StoreResult(ctx context.Context, job domain.Job) error {
	stored := storedResult{
		JobID:       job.JobID,
		URL:         job.URL,
		Result:      job.Result,
		CompletedAt: job.UpdatedAt,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result for job %s: %w", job.JobID, err)
	}
	if err := os.WriteFile(s.Path(job.JobID), data, 0o600); err != nil {
		return fmt.Errorf("failed to store result for job %s: %w", job.JobID, err)
	}

	s.logger.Info("stored analysis result", "job_id", job.JobID, "url", job.URL)

	event := events.NewJobEvent(events.EventJobCompleted, job.JobID, job.URL)
	event.Status = domain.JobStatusCompleted
	event.Progress = job.Progress
	event.Result = job.Result
	s.emitter.Emit(ctx, event)
	return nil
}

// ReportFailure emits the terminal event for a job that produced no result.
func (s *FileSink) ReportFailure(ctx context.Context, jobID, url string, eventType events.EventType, reason string) {
	s.logger.Info("job finished without result",
		"job_id", jobID,
		"url", url,
		"event_type", eventType,
		"reason", reason)

	event := events.NewJobEvent(eventType, jobID, url)
	event.Reason = reason
	switch eventType {
	case events.EventJobFailed:
		event.Status = domain.JobStatusFailed
	case events.EventJobCancelled:
		event.Status = domain.JobStatusCancelled
	}
	s.emitter.Emit(ctx, event)
}

// Path returns the file path a job's result is stored at.
func (s *FileSink) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+".json")
}

// Ensure FileSink implements Sink.
var _ Sink = (*FileSink)(nil)
