package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pocketbrief/pocketbrief/internal/domain"
)

// EventType identifies the kind of lifecycle notification carried by a
// JobEvent.
type EventType string

// Lifecycle event types. Cancellation is reported through the same channel
// as success and failure so observers do not need a separate code path.
const (
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"
	EventJobTimeout   EventType = "job.timeout"

	// EventMigrationWarning reports a partial or failed guest migration.
	// Non-blocking: the user stays signed in regardless.
	EventMigrationWarning EventType = "migration.warning"
)

// JobEvent is a single notification about a job's lifecycle.
type JobEvent struct {
	// ID is a unique identifier for this event instance.
	ID uuid.UUID `json:"id"`

	// Type indicates what happened.
	Type EventType `json:"type"`

	// JobID and URL identify the job the event concerns. URL is what UI
	// consumers key their "processing" indicators on.
	JobID string `json:"job_id"`
	URL   string `json:"url,omitempty"`

	// Status and Progress mirror the last observed remote state.
	Status   domain.JobStatus `json:"status,omitempty"`
	Progress int              `json:"progress,omitempty"`

	// Result carries the analysis payload for job.completed events.
	Result json.RawMessage `json:"result,omitempty"`

	// Reason carries the failure or warning message for job.failed,
	// job.cancelled, job.timeout and migration.warning events.
	Reason string `json:"reason,omitempty"`

	// OccurredAt is the timestamp when the event was created.
	OccurredAt time.Time `json:"occurred_at"`
}

// NewJobEvent creates a JobEvent of the given type for the given job.
func NewJobEvent(eventType EventType, jobID, url string) JobEvent {
	return JobEvent{
		ID:         uuid.New(),
		Type:       eventType,
		JobID:      jobID,
		URL:        url,
		OccurredAt: time.Now(),
	}
}

// EventHandler defines an interface for components that receive lifecycle
// events. Handlers must not block for long; they run inline on the
// publisher's goroutine.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event JobEvent)
}

// Emitter defines an interface for components that publish lifecycle events.
// This allows the poller and orchestrator to notify observers without direct
// knowledge of them.
type Emitter interface {
	// Emit publishes the given event to all registered handlers.
	Emit(ctx context.Context, event JobEvent)
}

// HandlerFunc adapts a plain function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event JobEvent)

// HandleEvent calls f(ctx, event).
func (f HandlerFunc) HandleEvent(ctx context.Context, event JobEvent) {
	f(ctx, event)
}
