package recovery_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketbrief/pocketbrief/internal/cache"
	"github.com/pocketbrief/pocketbrief/internal/domain"
	"github.com/pocketbrief/pocketbrief/internal/events"
	"github.com/pocketbrief/pocketbrief/internal/poller"
	"github.com/pocketbrief/pocketbrief/internal/recovery"
	"github.com/pocketbrief/pocketbrief/internal/remote"
	"github.com/pocketbrief/pocketbrief/internal/results"
	"github.com/pocketbrief/pocketbrief/internal/testutils"
)

// fixture wires the orchestrator against the fake service with a real
// client, cache, poller, and sink.
type fixture struct {
	svc          *testutils.FakeJobService
	store        *cache.Store
	registry     *poller.Registry
	poller       *poller.Poller
	sink         *results.FileSink
	orchestrator *recovery.Orchestrator
	handler      *events.ChannelHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := testutils.NewFakeJobService()
	t.Cleanup(svc.Close)

	dataDir := t.TempDir()
	store, err := cache.NewStore(dataDir, 24*time.Hour, logger)
	require.NoError(t, err)

	emitter := events.NewInMemoryEmitter(logger)
	handler := events.NewChannelHandler(64, logger)
	emitter.Subscribe(handler)

	sink, err := results.NewFileSink(dataDir, emitter, logger)
	require.NoError(t, err)

	client := remote.NewClient(svc.URL(), 5*time.Second, testutils.Guest("guest-1"), logger)
	registry := poller.NewRegistry()
	p := poller.New(client, registry, store, sink, emitter,
		poller.Config{PollInterval: 10 * time.Millisecond, MaxAttempts: 50}, logger)

	return &fixture{
		svc:          svc,
		store:        store,
		registry:     registry,
		poller:       p,
		sink:         sink,
		orchestrator: recovery.NewOrchestrator(client, store, p, sink, logger),
		handler:      handler,
	}
}

func seedRecord(t *testing.T, store *cache.Store, jobID, url string) {
	t.Helper()
	require.NoError(t, store.Save(cache.Record{
		JobID:     jobID,
		URL:       url,
		StartTime: time.Now().Add(-time.Hour),
		LastCheck: time.Now().Add(-30 * time.Minute),
	}))
}

func drainEvents(handler *events.ChannelHandler) []events.JobEvent {
	var out []events.JobEvent
	for {
		select {
		case e := <-handler.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

// TestRecoverCompletedWithoutPolling covers the restart-with-stale-record
// scenario: the remote job completed while the app was down, so recovery
// persists the result directly and never starts a polling loop.
func TestRecoverCompletedWithoutPolling(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	url := "https://x.example/done"
	f.svc.SeedJob(testutils.GuestOwner("guest-1"), testutils.CompletedJob("job-1", url))
	seedRecord(t, f.store, "job-1", url)

	require.NoError(t, f.orchestrator.Run(context.Background()))

	assert.Equal(t, 0, f.svc.PollCount("job-1"), "completed jobs are not polled")
	assert.Equal(t, 0, f.registry.Len())

	_, err := os.Stat(f.sink.Path("job-1"))
	assert.NoError(t, err, "result persisted durably")

	records, err := f.store.GetAll()
	require.NoError(t, err)
	assert.Empty(t, records, "no terminal job remains cached after recovery")

	evts := drainEvents(f.handler)
	require.Len(t, evts, 1)
	assert.Equal(t, events.EventJobCompleted, evts[0].Type)
}

// TestRecoverResumesRunningJobs verifies that processing jobs get exactly
// one poller each and their records stay cached with a fresh LastCheck.
func TestRecoverResumesRunningJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	url := "https://x.example/running"
	f.svc.SeedJob(testutils.GuestOwner("guest-1"), testutils.ProcessingJob("job-1", url, 30))
	f.svc.SetScript("job-1",
		testutils.ProcessingJob("job-1", url, 60),
		testutils.CompletedJob("job-1", url))
	seedRecord(t, f.store, "job-1", url)

	require.NoError(t, f.orchestrator.Run(context.Background()))
	assert.True(t, f.registry.Contains("job-1") || f.svc.PollCount("job-1") > 0,
		"a poller was started for the running job")

	f.poller.Wait()
	assert.GreaterOrEqual(t, f.svc.PollCount("job-1"), 2)

	records, err := f.store.GetAll()
	require.NoError(t, err)
	assert.Empty(t, records, "record removed once the resumed job completed")
}

// TestRecoverResumesJobsMissingFromCache verifies the other direction: the
// service knows a running job the cache lost; recovery synthesizes the
// record and resumes polling.
func TestRecoverResumesJobsMissingFromCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	url := "https://x.example/lost"
	f.svc.SeedJob(testutils.GuestOwner("guest-1"), testutils.ProcessingJob("job-1", url, 10))
	f.svc.SetScript("job-1", testutils.CompletedJob("job-1", url))

	require.NoError(t, f.orchestrator.Run(context.Background()))
	f.poller.Wait()

	_, err := os.Stat(f.sink.Path("job-1"))
	assert.NoError(t, err)
}

// TestRecoverLocalOnlyJob verifies the clarifying round trip for records
// the active list no longer covers.
func TestRecoverLocalOnlyJob(t *testing.T) {
	t.Parallel()

	t.Run("completed remotely", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		url := "https://x.example/pruned"
		f.svc.SeedJob(testutils.GuestOwner("guest-1"), testutils.CompletedJob("job-1", url))
		f.svc.HideFromActive("job-1")
		seedRecord(t, f.store, "job-1", url)

		require.NoError(t, f.orchestrator.Run(context.Background()))

		assert.Equal(t, 1, f.svc.PollCount("job-1"), "exactly one clarifying poll")
		_, err := os.Stat(f.sink.Path("job-1"))
		assert.NoError(t, err)

		records, err := f.store.GetAll()
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("unknown to the service", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		seedRecord(t, f.store, "job-gone", "https://x.example/gone")

		require.NoError(t, f.orchestrator.Run(context.Background()))

		records, err := f.store.GetAll()
		require.NoError(t, err)
		assert.Empty(t, records, "record for an unknown job is dropped")

		evts := drainEvents(f.handler)
		require.Len(t, evts, 1)
		assert.Equal(t, events.EventJobFailed, evts[0].Type)
	})
}

// TestRecoveryIdempotence runs recovery twice in succession and verifies
// no duplicate sink writes and no duplicate polling starts.
func TestRecoveryIdempotence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	url := "https://x.example/done"
	f.svc.SeedJob(testutils.GuestOwner("guest-1"), testutils.CompletedJob("job-1", url))
	seedRecord(t, f.store, "job-1", url)

	require.NoError(t, f.orchestrator.Run(context.Background()))
	require.NoError(t, f.orchestrator.Run(context.Background()))

	evts := drainEvents(f.handler)
	completed := 0
	for _, e := range evts {
		if e.Type == events.EventJobCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed, "result consumed exactly once across runs")
	assert.Equal(t, 0, f.registry.Len())
}

// blockingClient lets a test hold a recovery run open to probe the
// re-entrancy gate.
type blockingClient struct {
	release chan struct{}
}

func (c *blockingClient) ListActive(ctx context.Context) ([]domain.Job, error) {
	<-c.release
	return nil, nil
}

func (c *blockingClient) Poll(ctx context.Context, jobID string) (domain.Job, error) {
	return domain.Job{}, nil
}

type nopStarter struct{ starts int }

func (s *nopStarter) Start(ctx context.Context, record cache.Record) bool {
	s.starts++
	return true
}

// TestRecoveryReentrantCallIgnored verifies that a Run issued while another
// is in progress returns immediately without queueing a second pass.
func TestRecoveryReentrantCallIgnored(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := cache.NewStore(t.TempDir(), 24*time.Hour, logger)
	require.NoError(t, err)
	emitter := events.NewInMemoryEmitter(logger)
	sink, err := results.NewFileSink(t.TempDir(), emitter, logger)
	require.NoError(t, err)

	client := &blockingClient{release: make(chan struct{})}
	orchestrator := recovery.NewOrchestrator(client, store, &nopStarter{}, sink, logger)

	firstDone := make(chan error, 1)
	go func() { firstDone <- orchestrator.Run(context.Background()) }()

	// Wait until the first run is blocked inside ListActive, then call
	// again: the second call must return immediately.
	require.Eventually(t, func() bool {
		done := make(chan error, 1)
		go func() { done <- orchestrator.Run(context.Background()) }()
		select {
		case err := <-done:
			return err == nil
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	close(client.release)
	require.NoError(t, <-firstDone)
}

// TestRecoveryLeavesRecordsOnFetchFailure verifies that nothing is deleted
// speculatively when the active list cannot be fetched.
func TestRecoveryLeavesRecordsOnFetchFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	seedRecord(t, f.store, "job-1", "https://x.example/1")

	// Kill the service so every fetch attempt fails at the transport level.
	f.svc.Close()

	err := f.orchestrator.Run(context.Background())
	assert.Error(t, err)

	records, getErr := f.store.GetAll()
	require.NoError(t, getErr)
	assert.Len(t, records, 1, "unclassifiable records are left untouched")
}
