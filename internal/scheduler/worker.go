package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/candidates"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/cluster"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/ranking"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/volume"
)

// Config controls Worker behavior.
type Config struct {
	// Concurrency bounds the per-job candidate fan-out.
	Concurrency int
	// JobTimeoutPerCandidate scales the overall job deadline.
	JobTimeoutPerCandidate time.Duration
	// Cooldown is how long a region rests after the source blocks a fetch.
	Cooldown           time.Duration
	MaxTrackedPosition int
	Platform           string
	// BaselineSearches anchors volume estimates when no category signal exists.
	BaselineSearches int64
	Topic            string
	BlobPrefix       string
	ContentType      string
}

// Deps bundles the worker's collaborators.
type Deps struct {
	Queue       keyword.Queue
	Jobs        keyword.JobStore
	Keywords    keyword.KeywordStore
	Snapshots   keyword.SnapshotStore
	Volumes     keyword.VolumeStore
	Competitors keyword.CompetitorStore
	Apps        keyword.AppStore
	Fetcher     keyword.SerpFetcher
	Limiter     keyword.Limiter
	Retry       keyword.RetryPolicy
	Blobs       keyword.BlobStore
	Publisher   keyword.Publisher
	Estimator   *volume.Estimator
	Generator   *candidates.Generator
	Clusterer   *cluster.Engine
	Clock       keyword.Clock
	IDs         keyword.IDGenerator
	Cancels     *CancelRegistry
}

// Worker consumes queued discovery jobs and executes the pipeline:
// candidate generation, rate-limited SERP fetches, ranking computation,
// persistence, clustering and completion events.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.JobTimeoutPerCandidate <= 0 {
		cfg.JobTimeoutPerCandidate = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.MaxTrackedPosition <= 0 {
		cfg.MaxTrackedPosition = 100
	}
	if cfg.Platform == "" {
		cfg.Platform = "ios"
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.IncActiveWorkers()
		w.processJob(ctx, item)
		metrics.DecActiveWorkers()
	}
}

// jobRun is the mutable state of one job execution. Progress and outcomes
// are guarded by mu; Current only moves forward and only counts candidates
// that reached a real terminal result, never cancellation aborts.
type jobRun struct {
	mu            sync.Mutex
	job           keyword.DiscoveryJob
	persistFailed bool
}

func (r *jobRun) recordOutcome(ctx context.Context, jobs keyword.JobStore, outcome keyword.CandidateOutcome, counted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.Outcomes = append(r.job.Outcomes, outcome)
	if counted && r.job.Progress.Current < r.job.Progress.Total {
		r.job.Progress.Current++
	}
	// Progress writes are best-effort; the final update is authoritative.
	_ = jobs.UpdateJob(ctx, r.job)
}

func (r *jobRun) markPersistFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistFailed = true
}

func (w *Worker) processJob(ctx context.Context, item keyword.QueueItem) {
	job, err := w.deps.Jobs.GetJob(ctx, item.JobID)
	if err != nil {
		w.logger.Error("load queued job", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	// Cancelled while still queued.
	if job.Status.IsTerminal() {
		w.deps.Cancels.Deregister(job.ID)
		w.logger.Info("skipping terminal job", zap.String("job_id", job.ID))
		return
	}

	deadline := w.cfg.JobTimeoutPerCandidate * time.Duration(job.Request.TargetCount)
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	w.deps.Cancels.Register(job.ID, cancel)
	defer func() {
		w.deps.Cancels.Deregister(job.ID)
		cancel()
	}()

	now := w.deps.Clock.Now()
	job.Status = keyword.JobStatusRunning
	job.Started = &now
	if err := w.deps.Jobs.UpdateJob(ctx, job); err != nil {
		w.logger.Error("mark job running", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(keyword.JobStatusRunning))
	w.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("app_id", job.Request.AppID),
		zap.String("depth", string(job.Request.Depth)),
	)

	meta, err := w.deps.Apps.GetAppMetadata(jobCtx, job.Request.AppID, job.Request.Region)
	if err != nil {
		// A missing listing is a bad request; any other store error is an outage.
		reason := keyword.ReasonPersistenceUnavailable
		if errors.Is(err, keyword.ErrNotFound) {
			reason = keyword.ReasonSchedulerFault
		}
		w.failJob(ctx, job, reason, fmt.Sprintf("load app metadata: %v", err))
		return
	}

	competitors := w.loadCompetitorMetadata(jobCtx, job.Request)
	cands := w.deps.Generator.Generate(meta, competitors, job.Request.SeedKeywords, job.Request.TargetCount)
	if len(cands) == 0 {
		w.failJob(ctx, job, keyword.ReasonSchedulerFault, "no candidates generated")
		return
	}

	job.Progress = keyword.JobProgress{Current: 0, Total: len(cands)}
	if err := w.deps.Jobs.UpdateJob(ctx, job); err != nil {
		w.logger.Error("record job total", zap.String("job_id", job.ID), zap.Error(err))
	}

	run := &jobRun{job: job}
	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, cand := range cands {
		wg.Add(1)
		go func(c keyword.Candidate) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-jobCtx.Done():
				run.recordOutcome(ctx, w.deps.Jobs, keyword.CandidateOutcome{
					Term: c.Term, Method: c.Method, Error: jobCtx.Err().Error(),
				}, false)
				return
			}
			outcome := w.processCandidate(jobCtx, run, job.Request, meta, c)
			// A failure observed after the job context ended is an abort,
			// not a terminal candidate result.
			counted := outcome.Succeeded || jobCtx.Err() == nil
			run.recordOutcome(ctx, w.deps.Jobs, outcome, counted)
		}(cand)
	}
	wg.Wait()

	w.finishJob(ctx, jobCtx, run)
}

// loadCompetitorMetadata fetches listings for the request's competitors so
// their terms can seed generation. Missing or unreadable listings are
// skipped; competitor metadata only enriches a job, it never fails one.
func (w *Worker) loadCompetitorMetadata(ctx context.Context, req keyword.DiscoveryRequest) []keyword.AppMetadata {
	var out []keyword.AppMetadata
	for _, appID := range req.CompetitorAppIDs {
		meta, err := w.deps.Apps.GetAppMetadata(ctx, appID, req.Region)
		if err != nil {
			if !errors.Is(err, keyword.ErrNotFound) {
				w.logger.Warn("load competitor metadata",
					zap.String("app_id", appID), zap.Error(err))
			}
			continue
		}
		out = append(out, meta)
	}
	return out
}

// processCandidate runs one term through the fetch and persistence pipeline.
func (w *Worker) processCandidate(
	ctx context.Context,
	run *jobRun,
	req keyword.DiscoveryRequest,
	meta keyword.AppMetadata,
	cand keyword.Candidate,
) keyword.CandidateOutcome {
	outcome := keyword.CandidateOutcome{Term: cand.Term, Method: cand.Method}

	result, err := w.fetchWithRetry(ctx, req, cand.Term)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	kwID, err := w.deps.IDs.NewID()
	if err != nil {
		outcome.Error = fmt.Sprintf("generate keyword id: %v", err)
		return outcome
	}
	kw, err := w.deps.Keywords.UpsertKeyword(ctx, keyword.Keyword{
		ID:        kwID,
		TenantID:  req.TenantID,
		AppID:     req.AppID,
		Term:      cand.Term,
		Platform:  w.cfg.Platform,
		Region:    req.Region,
		Method:    cand.Method,
		CreatedAt: w.deps.Clock.Now(),
	})
	if err != nil {
		run.markPersistFailed()
		outcome.Error = fmt.Sprintf("upsert keyword: %v", err)
		return outcome
	}

	blobURI := w.archiveResult(ctx, run.job.ID, kw, result)

	est, err := w.resolveVolume(ctx, req, meta, cand.Term, result.Apps)
	if err != nil {
		run.markPersistFailed()
		outcome.Error = fmt.Sprintf("resolve volume: %v", err)
		return outcome
	}

	prev, err := w.deps.Snapshots.LatestSnapshot(ctx, kw.ID)
	if err != nil {
		run.markPersistFailed()
		outcome.Error = fmt.Sprintf("load previous snapshot: %v", err)
		return outcome
	}

	snap := ranking.Compute(ranking.Input{
		KeywordID:          kw.ID,
		Previous:           prev,
		Current:            result.Apps,
		TargetAppID:        req.AppID,
		EstimatedVolume:    est.MonthlySearches,
		MaxTrackedPosition: w.cfg.MaxTrackedPosition,
		SnapshotDate:       w.deps.Clock.Now().Truncate(24 * time.Hour),
		ResultBlobURI:      blobURI,
	})
	if err := w.deps.Snapshots.RecordSnapshot(ctx, snap); err != nil {
		run.markPersistFailed()
		outcome.Error = fmt.Sprintf("record snapshot: %v", err)
		return outcome
	}

	if req.IncludeCompetitors && req.Depth == keyword.DepthComprehensive {
		if err := w.recordCompetitors(ctx, req, kw.ID, snap.SnapshotDate, result.Apps); err != nil {
			run.markPersistFailed()
			outcome.Error = fmt.Sprintf("record competitors: %v", err)
			return outcome
		}
	}

	outcome.Succeeded = true
	outcome.Snapshot = &snap
	return outcome
}

// fetchWithRetry applies the rate limiter and retry policy around the fetch.
func (w *Worker) fetchWithRetry(ctx context.Context, req keyword.DiscoveryRequest, term string) (keyword.SerpResult, error) {
	for attempt := 1; ; attempt++ {
		if err := w.awaitBudget(ctx, req.TenantID, req.Region); err != nil {
			return keyword.SerpResult{}, err
		}

		result, err := w.deps.Fetcher.FetchSerp(ctx, term, req.Region, req.Depth.Pages())
		if err == nil {
			return result, nil
		}

		if keyword.FetchKind(err) == keyword.FetchBlocked {
			until := w.deps.Clock.Now().Add(w.cfg.Cooldown)
			w.deps.Limiter.CooldownRegion(req.Region, until)
			w.logger.Warn("region cooled down after block",
				zap.String("region", req.Region), zap.Time("until", until))
		}
		if !w.deps.Retry.ShouldRetry(err, attempt) {
			return keyword.SerpResult{}, err
		}
		if sleepErr := sleepFor(ctx, w.deps.Retry.Backoff(attempt)); sleepErr != nil {
			return keyword.SerpResult{}, sleepErr
		}
	}
}

// awaitBudget blocks until the region is out of cooldown and a rate token is
// granted, or the context ends.
func (w *Worker) awaitBudget(ctx context.Context, tenant, region string) error {
	for {
		if ready, until := w.deps.Limiter.RegionReady(region); !ready {
			if err := sleepFor(ctx, until.Sub(w.deps.Clock.Now())); err != nil {
				return err
			}
			continue
		}
		granted, waitUntil := w.deps.Limiter.Reserve(tenant, region)
		if granted {
			return nil
		}
		if err := sleepFor(ctx, waitUntil.Sub(w.deps.Clock.Now())); err != nil {
			return err
		}
	}
}

// archiveResult uploads the raw payload. Archival failure is logged but never
// fails the candidate.
func (w *Worker) archiveResult(ctx context.Context, jobID string, kw keyword.Keyword, result keyword.SerpResult) string {
	if w.deps.Blobs == nil || len(result.RawPayload) == 0 {
		return ""
	}
	path := fmt.Sprintf("%s/%s.json", jobID, kw.ID)
	if prefix := strings.Trim(w.cfg.BlobPrefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := w.deps.Blobs.PutObject(ctx, path, w.cfg.ContentType, result.RawPayload)
	if err != nil {
		w.logger.Warn("archive serp payload",
			zap.String("keyword_id", kw.ID), zap.Error(err))
		return ""
	}
	return uri
}

// resolveVolume returns a fresh or cached estimate for the term. Estimates
// are shared rows; a concurrent fresher write wins and is re-read.
func (w *Worker) resolveVolume(
	ctx context.Context,
	req keyword.DiscoveryRequest,
	meta keyword.AppMetadata,
	term string,
	apps []keyword.RankedApp,
) (keyword.VolumeEstimate, error) {
	existing, err := w.deps.Volumes.GetEstimate(ctx, term, w.cfg.Platform, req.Region)
	if err != nil {
		return keyword.VolumeEstimate{}, err
	}
	if existing != nil && !w.deps.Estimator.Stale(existing) {
		return *existing, nil
	}

	est := w.deps.Estimator.Estimate(term, w.cfg.Platform, req.Region, apps, volume.CategoryContext{
		Category:         meta.Category,
		BaselineSearches: w.cfg.BaselineSearches,
	})
	switch err := w.deps.Volumes.UpsertEstimate(ctx, est); {
	case err == nil:
		return est, nil
	case errors.Is(err, keyword.ErrStaleEstimate):
		// Another job refreshed the row first.
		fresh, readErr := w.deps.Volumes.GetEstimate(ctx, term, w.cfg.Platform, req.Region)
		if readErr != nil {
			return keyword.VolumeEstimate{}, readErr
		}
		if fresh != nil {
			return *fresh, nil
		}
		return est, nil
	default:
		return keyword.VolumeEstimate{}, err
	}
}

// recordCompetitors extracts the named competitors' positions from the SERP.
func (w *Worker) recordCompetitors(
	ctx context.Context,
	req keyword.DiscoveryRequest,
	keywordID string,
	snapshotDate time.Time,
	apps []keyword.RankedApp,
) error {
	if len(req.CompetitorAppIDs) == 0 {
		return nil
	}
	positions := make(map[string]int, len(apps))
	for i, app := range apps {
		if i >= w.cfg.MaxTrackedPosition {
			break
		}
		if _, ok := positions[app.AppID]; !ok {
			positions[app.AppID] = i + 1
		}
	}
	entries := make([]keyword.CompetitorKeywordEntry, 0, len(req.CompetitorAppIDs))
	for _, competitorID := range req.CompetitorAppIDs {
		entry := keyword.CompetitorKeywordEntry{
			KeywordID:       keywordID,
			CompetitorAppID: competitorID,
			SnapshotDate:    snapshotDate,
		}
		if pos, ok := positions[competitorID]; ok {
			p := pos
			entry.Position = &p
		}
		entries = append(entries, entry)
	}
	return w.deps.Competitors.RecordEntries(ctx, entries)
}

// finishJob derives the terminal status, attaches clusters and publishes the
// completion event.
func (w *Worker) finishJob(ctx context.Context, jobCtx context.Context, run *jobRun) {
	run.mu.Lock()
	job := run.job
	persistFailed := run.persistFailed
	run.mu.Unlock()

	now := w.deps.Clock.Now()
	job.Finished = &now

	switch {
	case persistFailed:
		job.Status = keyword.JobStatusFailed
		job.Reason = keyword.ReasonPersistenceUnavailable
	case w.deps.Cancels.Requested(job.ID) || (jobCtx.Err() != nil && !errors.Is(jobCtx.Err(), context.DeadlineExceeded)):
		job.Status = keyword.JobStatusFailed
		job.Reason = keyword.ReasonCancelled
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		job.Status = keyword.JobStatusFailed
		job.Reason = keyword.ReasonTimeout
	default:
		// Partial candidate failures still complete the job; every candidate
		// reached a terminal result, so the counter closes at Total.
		job.Status = keyword.JobStatusCompleted
		job.Progress.Current = job.Progress.Total
	}

	if job.Status == keyword.JobStatusCompleted && job.Request.Depth != keyword.DepthQuick {
		job.Clusters = w.clusterOutcomes(job.Outcomes)
	}

	if err := w.deps.Jobs.UpdateJob(ctx, job); err != nil {
		w.logger.Error("final job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(job.Status))
	w.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.String("reason", string(job.Reason)),
		zap.Int("outcomes", len(job.Outcomes)),
	)

	w.publishCompletion(ctx, job)
}

// clusterOutcomes groups the successfully ranked terms.
func (w *Worker) clusterOutcomes(outcomes []keyword.CandidateOutcome) []keyword.Cluster {
	if w.deps.Clusterer == nil {
		return nil
	}
	var terms []string
	for _, o := range outcomes {
		if o.Succeeded {
			terms = append(terms, o.Term)
		}
	}
	grouped := w.deps.Clusterer.Cluster(terms)
	out := make([]keyword.Cluster, 0, len(grouped))
	for _, c := range grouped {
		out = append(out, keyword.Cluster{Label: c.Label, Keywords: c.Keywords})
	}
	return out
}

func (w *Worker) publishCompletion(ctx context.Context, job keyword.DiscoveryJob) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	var succeeded int
	for _, o := range job.Outcomes {
		if o.Succeeded {
			succeeded++
		}
	}
	event := keyword.CompletionEvent{
		JobID:     job.ID,
		AppID:     job.Request.AppID,
		Region:    job.Request.Region,
		Status:    string(job.Status),
		Reason:    string(job.Reason),
		Succeeded: succeeded,
		Total:     job.Progress.Total,
		Timestamp: w.deps.Clock.Now().Format(time.RFC3339),
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Error("publish completion event",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

// failJob marks a job terminal before any candidate work happened.
func (w *Worker) failJob(ctx context.Context, job keyword.DiscoveryJob, reason keyword.FailureReason, errText string) {
	now := w.deps.Clock.Now()
	job.Status = keyword.JobStatusFailed
	job.Reason = reason
	job.ErrorText = errText
	job.Finished = &now
	if err := w.deps.Jobs.UpdateJob(ctx, job); err != nil {
		w.logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(keyword.JobStatusFailed))
	w.logger.Warn("job failed before fan-out",
		zap.String("job_id", job.ID),
		zap.String("reason", string(reason)),
		zap.String("error", errText),
	)
}

// sleepFor waits d or until the context ends.
func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Yield so cancellation is still observed.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
