package recovery

import (
	"github.com/pocketbrief/pocketbrief/internal/cache"
	"github.com/pocketbrief/pocketbrief/internal/domain"
)

// Match pairs a remotely-reported job with its local record, when one
// exists. HasRecord distinguishes "no local record" from a zero record.
type Match struct {
	Job       domain.Job
	Record    cache.Record
	HasRecord bool
}

// Plan is the classified union of the remote active list and the local
// record cache. Each job lands in exactly one bucket.
type Plan struct {
	// Complete holds completed jobs whose local record is still present:
	// the result was never consumed, so it is persisted directly without
	// any polling.
	Complete []Match

	// Fail holds remotely failed or cancelled jobs with a local record
	// still present. Their outcome is surfaced and the record dropped.
	Fail []Match

	// Resume holds records for jobs the service still reports as queued
	// or processing. Each needs exactly one active poller.
	Resume []cache.Record

	// Lookup holds local-only records the active list no longer covers.
	// Each needs one clarifying poll before it can be classified.
	Lookup []cache.Record
}

// Classify merges the remote active list with the local cache into a Plan.
// The remote state wins on conflict: a job the service reports terminal is
// terminal no matter what the cache believed. Local-only records are not
// discarded, they are routed to a clarifying round trip instead, because
// the service may simply have pruned them from the active list after
// completion.
//
// Classify is pure: no network, no storage, fully deterministic, which
// keeps the merge rule independently testable.
func Classify(remoteActive []domain.Job, local []cache.Record) Plan {
	recordsByID := make(map[string]cache.Record, len(local))
	for _, r := range local {
		recordsByID[r.JobID] = r
	}

	var plan Plan
	seen := make(map[string]struct{}, len(remoteActive))

	for _, job := range remoteActive {
		seen[job.JobID] = struct{}{}
		record, hasRecord := recordsByID[job.JobID]

		switch job.Status {
		case domain.JobStatusCompleted:
			// Without a local record the result was already consumed in a
			// previous session; re-persisting it would duplicate the
			// notification.
			if hasRecord {
				plan.Complete = append(plan.Complete, Match{Job: job, Record: record, HasRecord: true})
			}

		case domain.JobStatusFailed, domain.JobStatusCancelled:
			if hasRecord {
				plan.Fail = append(plan.Fail, Match{Job: job, Record: record, HasRecord: true})
			}

		case domain.JobStatusQueued, domain.JobStatusProcessing:
			if !hasRecord {
				// The cache lost the record (fresh install, pruning, a
				// crash before persist) but the job is still ours and
				// running: synthesize a record so polling can resume.
				record = cache.Record{
					JobID:     job.JobID,
					URL:       job.URL,
					StartTime: job.CreatedAt,
				}
			}
			plan.Resume = append(plan.Resume, record)
		}
	}

	for _, r := range local {
		if _, ok := seen[r.JobID]; !ok {
			plan.Lookup = append(plan.Lookup, r)
		}
	}

	return plan
}
