package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketbrief/pocketbrief/internal/cache"
	"github.com/pocketbrief/pocketbrief/internal/domain"
)

func remoteJob(jobID, url string, status domain.JobStatus) domain.Job {
	return domain.Job{
		JobID:     jobID,
		URL:       url,
		Status:    status,
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now(),
	}
}

func localRecord(jobID, url string) cache.Record {
	return cache.Record{
		JobID:     jobID,
		URL:       url,
		StartTime: time.Now().Add(-time.Hour),
		LastCheck: time.Now().Add(-30 * time.Minute),
	}
}

func TestClassifyEmptyInputs(t *testing.T) {
	t.Parallel()

	plan := Classify(nil, nil)
	assert.Empty(t, plan.Complete)
	assert.Empty(t, plan.Fail)
	assert.Empty(t, plan.Resume)
	assert.Empty(t, plan.Lookup)
}

func TestClassifyCompleted(t *testing.T) {
	t.Parallel()

	t.Run("with local record goes to complete", func(t *testing.T) {
		t.Parallel()
		plan := Classify(
			[]domain.Job{remoteJob("job-1", "https://x.example/1", domain.JobStatusCompleted)},
			[]cache.Record{localRecord("job-1", "https://x.example/1")},
		)
		require.Len(t, plan.Complete, 1)
		assert.Equal(t, "job-1", plan.Complete[0].Job.JobID)
		assert.True(t, plan.Complete[0].HasRecord)
		assert.Empty(t, plan.Resume)
	})

	t.Run("without local record is ignored", func(t *testing.T) {
		t.Parallel()
		// The result was already consumed in a previous session; handling
		// it again would duplicate the notification.
		plan := Classify(
			[]domain.Job{remoteJob("job-1", "https://x.example/1", domain.JobStatusCompleted)},
			nil,
		)
		assert.Empty(t, plan.Complete)
		assert.Empty(t, plan.Fail)
		assert.Empty(t, plan.Resume)
		assert.Empty(t, plan.Lookup)
	})
}

func TestClassifyFailedAndCancelled(t *testing.T) {
	t.Parallel()

	plan := Classify(
		[]domain.Job{
			remoteJob("job-1", "https://x.example/1", domain.JobStatusFailed),
			remoteJob("job-2", "https://x.example/2", domain.JobStatusCancelled),
			remoteJob("job-3", "https://x.example/3", domain.JobStatusFailed),
		},
		[]cache.Record{
			localRecord("job-1", "https://x.example/1"),
			localRecord("job-2", "https://x.example/2"),
			// job-3 has no record: already surfaced, nothing to clean up.
		},
	)

	require.Len(t, plan.Fail, 2)
	ids := []string{plan.Fail[0].Job.JobID, plan.Fail[1].Job.JobID}
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, ids)
}

func TestClassifyRunning(t *testing.T) {
	t.Parallel()

	t.Run("keeps the existing record", func(t *testing.T) {
		t.Parallel()
		record := localRecord("job-1", "https://x.example/1")
		record.ItemID = "item-7"

		plan := Classify(
			[]domain.Job{remoteJob("job-1", "https://x.example/1", domain.JobStatusProcessing)},
			[]cache.Record{record},
		)

		require.Len(t, plan.Resume, 1)
		assert.Equal(t, "item-7", plan.Resume[0].ItemID, "original record fields survive")
	})

	t.Run("synthesizes a record when the cache lost it", func(t *testing.T) {
		t.Parallel()
		job := remoteJob("job-1", "https://x.example/1", domain.JobStatusQueued)

		plan := Classify([]domain.Job{job}, nil)

		require.Len(t, plan.Resume, 1)
		assert.Equal(t, "job-1", plan.Resume[0].JobID)
		assert.Equal(t, "https://x.example/1", plan.Resume[0].URL)
		assert.Equal(t, job.CreatedAt, plan.Resume[0].StartTime)
	})
}

func TestClassifyLocalOnly(t *testing.T) {
	t.Parallel()

	plan := Classify(
		[]domain.Job{remoteJob("job-1", "https://x.example/1", domain.JobStatusProcessing)},
		[]cache.Record{
			localRecord("job-1", "https://x.example/1"),
			localRecord("job-stale", "https://x.example/stale"),
		},
	)

	require.Len(t, plan.Lookup, 1)
	assert.Equal(t, "job-stale", plan.Lookup[0].JobID)
	require.Len(t, plan.Resume, 1)
}

// TestClassifyRemoteWins verifies the merge precedence: whatever the cache
// believed, the service's reported state decides the bucket.
func TestClassifyRemoteWins(t *testing.T) {
	t.Parallel()

	plan := Classify(
		[]domain.Job{remoteJob("job-1", "https://x.example/1", domain.JobStatusCompleted)},
		[]cache.Record{localRecord("job-1", "https://x.example/1")},
	)

	assert.Len(t, plan.Complete, 1)
	assert.Empty(t, plan.Resume, "a remotely terminal job is never resumed")
	assert.Empty(t, plan.Lookup)
}
