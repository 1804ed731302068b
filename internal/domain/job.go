package domain

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a remote analysis job.
type JobStatus string

// Possible job status values as reported by the analysis service.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final. Terminal jobs never
// transition again; the client stops polling once one is observed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the client's view of a unit of remote analysis work.
//
// The remote service is the single source of truth for Status, Progress,
// Result and Error. The client only ever observes these fields; it never
// writes them. A Job is identified by an opaque JobID assigned by the
// service at submission time.
type Job struct {
	// JobID is the opaque identifier assigned by the service. Immutable
	// once issued.
	JobID string `json:"jobId"`

	// URL is the content reference the job was created for. At most one
	// live job per URL is meaningful to the user, so the URL doubles as
	// the client-side de-duplication key.
	URL string `json:"url"`

	// Status is the last observed job state.
	Status JobStatus `json:"status"`

	// Progress is an integer percentage, non-decreasing while the job
	// is processing.
	Progress int `json:"progress"`

	// Result holds the analysis payload. Present only when Status is
	// completed. The payload is opaque to this subsystem.
	Result json.RawMessage `json:"result,omitempty"`

	// Error holds the failure message. Present only when Status is failed.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasResult reports whether the job completed with a non-empty result
// payload attached.
func (j Job) HasResult() bool {
	return j.Status == JobStatusCompleted && len(j.Result) > 0
}
