package keyword

import (
	"context"
	"time"
)

// KeywordStore persists keyword rows, keyed by (app, term, platform, region).
type KeywordStore interface {
	// UpsertKeyword inserts the keyword or returns the existing row for its
	// natural key. The returned keyword carries the canonical ID.
	UpsertKeyword(ctx context.Context, kw Keyword) (Keyword, error)
	GetKeyword(ctx context.Context, id string) (Keyword, error)
	SetTracked(ctx context.Context, id string, tracked bool) error
	ListKeywordsByApp(ctx context.Context, appID, region string) ([]Keyword, error)
}

// SnapshotStore persists immutable ranking snapshots.
type SnapshotStore interface {
	// RecordSnapshot writes a snapshot; a second write for the same
	// (keyword, date) is a no-op, never an overwrite.
	RecordSnapshot(ctx context.Context, snap RankingSnapshot) error
	LatestSnapshot(ctx context.Context, keywordID string) (*RankingSnapshot, error)
	ListSnapshots(ctx context.Context, keywordID string, since time.Time) ([]RankingSnapshot, error)
}

// VolumeStore persists shared volume estimates with staleness-checked upserts.
type VolumeStore interface {
	GetEstimate(ctx context.Context, term, platform, region string) (*VolumeEstimate, error)
	// UpsertEstimate writes the estimate unless a fresher row already exists.
	UpsertEstimate(ctx context.Context, est VolumeEstimate) error
}

// CompetitorStore persists competitor SERP appearances per keyword per date.
type CompetitorStore interface {
	RecordEntries(ctx context.Context, entries []CompetitorKeywordEntry) error
	ListEntries(ctx context.Context, keywordID string) ([]CompetitorKeywordEntry, error)
}

// JobStore persists discovery job state. Jobs are mutated only by the
// scheduler; everything else reads.
type JobStore interface {
	CreateJob(ctx context.Context, job DiscoveryJob) error
	GetJob(ctx context.Context, jobID string) (DiscoveryJob, error)
	UpdateJob(ctx context.Context, job DiscoveryJob) error
}

// AppStore reads app listing metadata used by the candidate generator.
type AppStore interface {
	GetAppMetadata(ctx context.Context, appID, region string) (AppMetadata, error)
}

// SerpFetcher performs a single search-term lookup. Implementations apply a
// request timeout and never retry; retry policy belongs to the scheduler.
type SerpFetcher interface {
	FetchSerp(ctx context.Context, term, region string, maxPages int) (SerpResult, error)
}

// Limiter enforces per-(tenant, region) request budgets. Exhaustion is a
// scheduling signal, not an error: callers wait until the returned time.
type Limiter interface {
	// Reserve grants a token immediately or returns the earliest retry time.
	Reserve(tenant, region string) (granted bool, waitUntil time.Time)
	// CooldownRegion suspends all grants for a region until the given time,
	// used when the source blocks automated access.
	CooldownRegion(region string, until time.Time)
	// RegionReady reports whether the region is outside a cooldown window.
	RegionReady(region string) (bool, time.Time)
}

// BlobStore archives raw SERP payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for discovery jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RetryPolicy decides whether and when a failed candidate fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and keyword IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
