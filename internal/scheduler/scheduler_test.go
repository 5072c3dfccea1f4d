package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivemem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/archive/memory"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/candidates"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/cluster"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
	pubmem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/publisher/memory"
	queuemem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/queue/memory"
	storemem "github.com/SixpoundertheOriginal/yodel-aso-insight/internal/store/memory"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/volume"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

var day = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

// fakeFetcher serves canned results per term; unknown terms get the default.
type fakeFetcher struct {
	mu       sync.Mutex
	results  map[string]keyword.SerpResult
	errs     map[string]error
	fallback keyword.SerpResult
	block    bool
	calls    int
}

func (f *fakeFetcher) FetchSerp(ctx context.Context, term, region string, maxPages int) (keyword.SerpResult, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return keyword.SerpResult{}, ctx.Err()
	}
	if err, ok := f.errs[term]; ok {
		return keyword.SerpResult{}, err
	}
	if res, ok := f.results[term]; ok {
		res.Term = term
		res.Region = region
		return res, nil
	}
	res := f.fallback
	res.Term = term
	res.Region = region
	return res, nil
}

// openLimiter always grants and records cooldown calls.
type openLimiter struct {
	mu        sync.Mutex
	cooldowns map[string]time.Time
}

func newOpenLimiter() *openLimiter {
	return &openLimiter{cooldowns: make(map[string]time.Time)}
}

func (l *openLimiter) Reserve(_, _ string) (bool, time.Time) {
	return true, time.Time{}
}

func (l *openLimiter) CooldownRegion(region string, until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldowns[region] = until
}

func (l *openLimiter) RegionReady(_ string) (bool, time.Time) {
	return true, time.Time{}
}

func (l *openLimiter) cooledDown(region string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cooldowns[region]
	return ok
}

// failingSnapshots simulates a storage outage.
type failingSnapshots struct {
	keyword.SnapshotStore
}

func (f *failingSnapshots) RecordSnapshot(context.Context, keyword.RankingSnapshot) error {
	return fmt.Errorf("connection refused")
}

// failingApps simulates a metadata store outage.
type failingApps struct {
	keyword.AppStore
}

func (f *failingApps) GetAppMetadata(context.Context, string, string) (keyword.AppMetadata, error) {
	return keyword.AppMetadata{}, fmt.Errorf("connection refused")
}

type fixture struct {
	scheduler *Scheduler
	worker    *Worker
	store     *storemem.Store
	queue     *queuemem.Queue
	fetcher   *fakeFetcher
	limiter   *openLimiter
	publisher *pubmem.Publisher
	blobs     *archivemem.BlobStore
	clock     *fakeClock
}

func rankedApps(ids ...string) []keyword.RankedApp {
	apps := make([]keyword.RankedApp, 0, len(ids))
	for _, id := range ids {
		apps = append(apps, keyword.RankedApp{
			AppID: id, Name: id, RatingCount: 20000, Rating: 4.5,
		})
	}
	return apps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: day}
	store := storemem.NewStore(7 * 24 * time.Hour)
	store.PutApp(keyword.AppMetadata{
		AppID:    "target-app",
		Name:     "StepFit",
		Category: "fitness",
	}, "us")
	queue := queuemem.NewQueue(8)
	fetcher := &fakeFetcher{
		results: map[string]keyword.SerpResult{},
		errs:    map[string]error{},
		fallback: keyword.SerpResult{
			Apps:       rankedApps("target-app", "rival-one", "rival-two"),
			RawPayload: []byte(`{"resultCount":3}`),
		},
	}
	limiter := newOpenLimiter()
	publisher := pubmem.New()
	blobs := archivemem.NewBlobStore()
	cancels := NewCancelRegistry()
	ids := &seqIDs{}
	logger := zap.NewNop()

	sched := New(queue, store, clock, ids, cancels, logger)
	worker := NewWorker(Deps{
		Queue:       queue,
		Jobs:        store,
		Keywords:    store,
		Snapshots:   store,
		Volumes:     store,
		Competitors: store,
		Apps:        store,
		Fetcher:     fetcher,
		Limiter:     limiter,
		Retry:       keyword.NewExponentialRetryPolicy(),
		Blobs:       blobs,
		Publisher:   publisher,
		Estimator:   volume.New(volume.Config{}, clock),
		Generator:   candidates.New(candidates.Config{}),
		Clusterer:   cluster.New(cluster.Config{}),
		Clock:       clock,
		IDs:         ids,
		Cancels:     cancels,
	}, Config{
		Concurrency: 2,
		Topic:       "discovery.completed",
		BlobPrefix:  "serp",
	}, logger)

	return &fixture{
		scheduler: sched,
		worker:    worker,
		store:     store,
		queue:     queue,
		fetcher:   fetcher,
		limiter:   limiter,
		publisher: publisher,
		blobs:     blobs,
		clock:     clock,
	}
}

func validRequest() keyword.DiscoveryRequest {
	return keyword.DiscoveryRequest{
		TenantID:    "tenant-1",
		AppID:       "target-app",
		TargetCount: 10,
		Depth:       keyword.DepthStandard,
		Region:      "us",
		SeedKeywords: []string{
			"fitness tracker", "step counter", "ghost term",
		},
	}
}

func awaitTerminal(t *testing.T, f *fixture, jobID string) keyword.DiscoveryJob {
	t.Helper()
	var job keyword.DiscoveryJob
	require.Eventually(t, func() bool {
		var err error
		job, err = f.store.GetJob(context.Background(), jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cases := map[string]func(*keyword.DiscoveryRequest){
		"missing tenant":       func(r *keyword.DiscoveryRequest) { r.TenantID = "" },
		"missing app":          func(r *keyword.DiscoveryRequest) { r.AppID = "" },
		"missing region":       func(r *keyword.DiscoveryRequest) { r.Region = "" },
		"invalid target count": func(r *keyword.DiscoveryRequest) { r.TargetCount = 25 },
		"invalid depth":        func(r *keyword.DiscoveryRequest) { r.Depth = "exhaustive" },
	}
	for name, mutate := range cases {
		req := validRequest()
		mutate(&req)
		_, err := f.scheduler.Submit(context.Background(), req)
		require.Error(t, err, name)
	}
}

func TestSubmitEnqueuesPendingJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job, err := f.scheduler.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	require.Equal(t, keyword.JobStatusPending, job.Status)
	require.NotEmpty(t, job.ID)

	item, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, job.ID, item.JobID)

	stored, err := f.scheduler.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, keyword.JobStatusPending, stored.Status)
}

func TestWorkerCompletesJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// The target app never appears for this term.
	f.fetcher.results["ghost term"] = keyword.SerpResult{
		Apps:       rankedApps("rival-one", "rival-two"),
		RawPayload: []byte(`{"resultCount":2}`),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	job, err := f.scheduler.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusCompleted, done.Status)
	require.Empty(t, done.Reason)
	require.Equal(t, done.Progress.Total, done.Progress.Current)
	require.Len(t, done.Outcomes, done.Progress.Total)

	byTerm := make(map[string]keyword.CandidateOutcome)
	for _, o := range done.Outcomes {
		require.True(t, o.Succeeded, o.Term)
		byTerm[o.Term] = o
	}

	// First observation with the app ranked is "new"; first observation with
	// the app absent is "not_ranking", never "lost".
	tracked := byTerm["fitness tracker"]
	require.NotNil(t, tracked.Snapshot)
	require.Equal(t, keyword.TrendNew, tracked.Snapshot.Trend)
	require.Equal(t, 1, *tracked.Snapshot.Position)
	require.Positive(t, tracked.Snapshot.VisibilityScore)

	ghost := byTerm["ghost term"]
	require.NotNil(t, ghost.Snapshot)
	require.Equal(t, keyword.TrendNotRanking, ghost.Snapshot.Trend)
	require.Nil(t, ghost.Snapshot.Position)
	require.Zero(t, ghost.Snapshot.VisibilityScore)

	// Standard depth attaches clusters.
	require.NotEmpty(t, done.Clusters)

	// Snapshots and raw payloads were persisted.
	require.NotEmpty(t, tracked.Snapshot.ResultBlobURI)
	latest, err := f.store.LatestSnapshot(context.Background(), tracked.Snapshot.KeywordID)
	require.NoError(t, err)
	require.NotNil(t, latest)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "discovery.completed", msgs[0].Topic)
}

func TestWorkerRecordsCompetitorsAtComprehensiveDepth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	req := validRequest()
	req.Depth = keyword.DepthComprehensive
	req.IncludeCompetitors = true
	req.CompetitorAppIDs = []string{"rival-one", "absent-rival"}

	job, err := f.scheduler.Submit(ctx, req)
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusCompleted, done.Status)

	var snapshotID string
	for _, o := range done.Outcomes {
		if o.Term == "fitness tracker" {
			snapshotID = o.Snapshot.KeywordID
		}
	}
	require.NotEmpty(t, snapshotID)

	entries, err := f.store.ListEntries(context.Background(), snapshotID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byApp := make(map[string]keyword.CompetitorKeywordEntry)
	for _, e := range entries {
		byApp[e.CompetitorAppID] = e
	}
	require.Equal(t, 2, *byApp["rival-one"].Position)
	require.Nil(t, byApp["absent-rival"].Position)
}

func TestWorkerPartialFailuresStillComplete(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fetcher.errs["ghost term"] = keyword.NewFetchError(keyword.FetchInvalidTerm, fmt.Errorf("term rejected"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	job, err := f.scheduler.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusCompleted, done.Status)

	var failed, succeeded int
	for _, o := range done.Outcomes {
		if o.Succeeded {
			succeeded++
		} else {
			failed++
			require.NotEmpty(t, o.Error)
			require.Nil(t, o.Snapshot)
		}
	}
	require.Equal(t, 1, failed)
	require.Positive(t, succeeded)
}

func TestWorkerBlockedFetchCoolsRegionDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fetcher.errs["ghost term"] = keyword.NewFetchError(keyword.FetchBlocked, fmt.Errorf("403 forbidden"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	job, err := f.scheduler.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusCompleted, done.Status)
	require.True(t, f.limiter.cooledDown("us"))
}

func TestWorkerPersistenceOutageFailsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.worker.deps.Snapshots = &failingSnapshots{SnapshotStore: f.store}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	job, err := f.scheduler.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusFailed, done.Status)
	require.Equal(t, keyword.ReasonPersistenceUnavailable, done.Reason)
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fetcher.block = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	job, err := f.scheduler.Submit(ctx, validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.store.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == keyword.JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.scheduler.Cancel(ctx, job.ID)
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusFailed, done.Status)
	require.Equal(t, keyword.ReasonCancelled, done.Reason)
}

func TestCancelledJobProgressOmitsAbortedCandidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fetcher.block = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	job, err := f.scheduler.Submit(ctx, validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.store.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == keyword.JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.scheduler.Cancel(ctx, job.ID)
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusFailed, done.Status)
	require.Equal(t, keyword.ReasonCancelled, done.Reason)

	// Every fetch blocked until cancellation, so no candidate reached a
	// terminal result and the counter stays below the total.
	require.Positive(t, done.Progress.Total)
	require.Less(t, done.Progress.Current, done.Progress.Total)
	require.Zero(t, done.Progress.Current)
	for _, o := range done.Outcomes {
		require.False(t, o.Succeeded)
	}
}

func TestCancelBeforeWorkerRegistersStillSignals(t *testing.T) {
	t.Parallel()

	reg := NewCancelRegistry()

	// Cancel lands after the worker loaded the job row but before Register.
	require.False(t, reg.Cancel("job-1"))
	require.True(t, reg.Requested("job-1"))

	var fired bool
	reg.Register("job-1", func() { fired = true })
	require.True(t, fired, "registering after a cancel request fires the cancel")

	reg.Deregister("job-1")
	require.False(t, reg.Requested("job-1"))
}

func TestWorkerAppMetadataOutageFailsJobAsPersistence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.worker.deps.Apps = &failingApps{AppStore: f.store}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	job, err := f.scheduler.Submit(ctx, validRequest())
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusFailed, done.Status)
	require.Equal(t, keyword.ReasonPersistenceUnavailable, done.Reason)
}

func TestWorkerUnknownAppFailsJobAsSchedulerFault(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	req := validRequest()
	req.AppID = "never-listed-app"
	job, err := f.scheduler.Submit(ctx, req)
	require.NoError(t, err)

	done := awaitTerminal(t, f, job.ID)
	require.Equal(t, keyword.JobStatusFailed, done.Status)
	require.Equal(t, keyword.ReasonSchedulerFault, done.Reason)
}

func TestCancelQueuedJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// No worker running: the job stays queued.
	job, err := f.scheduler.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	cancelled, err := f.scheduler.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, keyword.JobStatusFailed, cancelled.Status)
	require.Equal(t, keyword.ReasonCancelled, cancelled.Reason)

	// A second cancel is rejected.
	_, err = f.scheduler.Cancel(context.Background(), job.ID)
	require.ErrorIs(t, err, keyword.ErrAlreadyTerminal)
}

func TestWorkerSkipsJobCancelledWhileQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job, err := f.scheduler.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = f.scheduler.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.worker.Run(ctx)

	// The worker dequeues the item, sees the terminal row and leaves it alone.
	require.Never(t, func() bool {
		f.fetcher.mu.Lock()
		defer f.fetcher.mu.Unlock()
		return f.fetcher.calls > 0
	}, 500*time.Millisecond, 50*time.Millisecond)

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, keyword.JobStatusFailed, got.Status)
	require.Equal(t, keyword.ReasonCancelled, got.Reason)
}
