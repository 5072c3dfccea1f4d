// Package keyword defines core types shared across engine subsystems.
package keyword

import (
	"time"
)

// JobStatus represents the lifecycle state of a discovery job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// FailureReason is a machine-readable code attached to failed jobs.
type FailureReason string

// Failure reasons surfaced on terminal jobs.
const (
	ReasonCancelled              FailureReason = "cancelled"
	ReasonTimeout                FailureReason = "timeout"
	ReasonPersistenceUnavailable FailureReason = "persistence_unavailable"
	ReasonSchedulerFault         FailureReason = "scheduler_fault"
)

// AnalysisDepth controls how much work a discovery job does per candidate.
type AnalysisDepth string

// Supported analysis depths.
const (
	DepthQuick         AnalysisDepth = "quick"
	DepthStandard      AnalysisDepth = "standard"
	DepthComprehensive AnalysisDepth = "comprehensive"
)

// Pages returns the number of SERP pages fetched per candidate at this depth.
func (d AnalysisDepth) Pages() int {
	switch d {
	case DepthStandard:
		return 2
	case DepthComprehensive:
		return 3
	default:
		return 1
	}
}

// AllowedTargetCounts are the candidate counts a client may request.
var AllowedTargetCounts = []int{10, 30, 50, 100}

// ValidTargetCount reports whether n is one of the allowed request sizes.
func ValidTargetCount(n int) bool {
	for _, v := range AllowedTargetCounts {
		if v == n {
			return true
		}
	}
	return false
}

// GenerationMethod tags how a candidate keyword was derived.
type GenerationMethod string

// Closed set of candidate generation methods.
const (
	MethodMetadataExtraction GenerationMethod = "metadata_extraction"
	MethodSemanticVariation  GenerationMethod = "semantic_variation"
	MethodCategoryTrending   GenerationMethod = "category_trending"
	MethodManual             GenerationMethod = "manual"
)

// Weight returns the relevance weight applied to candidates of this method.
// Metadata-derived terms carry the strongest prior.
func (m GenerationMethod) Weight() float64 {
	switch m {
	case MethodMetadataExtraction:
		return 1.0
	case MethodSemanticVariation:
		return 0.7
	case MethodCategoryTrending:
		return 0.5
	default:
		return 0.3
	}
}

// TrendDirection describes position movement between two snapshots.
type TrendDirection string

// Trend values recorded on ranking snapshots.
const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
	TrendNew    TrendDirection = "new"
	TrendLost   TrendDirection = "lost"
	// TrendNotRanking marks a first observation where the app was absent:
	// neither "new" (no position) nor "lost" (no prior position) applies.
	TrendNotRanking TrendDirection = "not_ranking"
)

// CompetitionTier buckets a popularity score into a coarse difficulty class.
type CompetitionTier string

// Competition tiers, lowest to highest.
const (
	TierLow      CompetitionTier = "low"
	TierMedium   CompetitionTier = "medium"
	TierHigh     CompetitionTier = "high"
	TierVeryHigh CompetitionTier = "very_high"
)

// Keyword is a tracked or discovered search term for one app.
// Unique per (app, term, platform, region).
type Keyword struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	AppID     string           `json:"app_id"`
	Term      string           `json:"term"`
	Platform  string           `json:"platform"`
	Region    string           `json:"region"`
	Tracked   bool             `json:"tracked"`
	Method    GenerationMethod `json:"method"`
	CreatedAt time.Time        `json:"created_at"`
}

// RankedApp is a single entry of a SERP result, in source order.
type RankedApp struct {
	AppID       string  `json:"app_id"`
	Name        string  `json:"name"`
	RatingCount int64   `json:"rating_count"`
	Rating      float64 `json:"rating"`
}

// SerpResult is the outcome of one search-term lookup.
type SerpResult struct {
	Term      string      `json:"term"`
	Region    string      `json:"region"`
	Apps      []RankedApp `json:"apps"`
	FetchedAt time.Time   `json:"fetched_at"`
	// RawPayload holds the source response bytes for archival.
	RawPayload []byte `json:"-"`
}

// RankingSnapshot records one keyword's observed rank on one date.
// At most one snapshot exists per (keyword, date); rows are immutable.
type RankingSnapshot struct {
	KeywordID       string         `json:"keyword_id"`
	SnapshotDate    time.Time      `json:"snapshot_date"`
	Position        *int           `json:"position,omitempty"`
	PositionDelta   *int           `json:"position_delta,omitempty"`
	Trend           TrendDirection `json:"trend"`
	EstimatedVolume int64          `json:"estimated_volume"`
	VisibilityScore float64        `json:"visibility_score"`
	ResultBlobURI   string         `json:"result_blob_uri,omitempty"`
}

// VolumeEstimate is the shared, advisory search-volume signal for a term.
// One current row per (term, platform, region); values are estimates derived
// from observable SERP composition, not ground truth.
type VolumeEstimate struct {
	Term            string          `json:"term"`
	Platform        string          `json:"platform"`
	Region          string          `json:"region"`
	MonthlySearches int64           `json:"monthly_searches"`
	Popularity      int             `json:"popularity"`
	Tier            CompetitionTier `json:"tier"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CompetitorKeywordEntry records a named competitor's position for a keyword
// on a snapshot date. Multiple entries per keyword per date, one per competitor.
type CompetitorKeywordEntry struct {
	KeywordID       string    `json:"keyword_id"`
	CompetitorAppID string    `json:"competitor_app_id"`
	Position        *int      `json:"position,omitempty"`
	SnapshotDate    time.Time `json:"snapshot_date"`
}

// Candidate is a proposed keyword not yet confirmed by a ranking fetch.
type Candidate struct {
	Term      string           `json:"term"`
	Method    GenerationMethod `json:"method"`
	Relevance float64          `json:"relevance"`
}

// AppMetadata is the store listing metadata candidates are mined from.
type AppMetadata struct {
	AppID       string   `json:"app_id"`
	Name        string   `json:"name"`
	Subtitle    string   `json:"subtitle"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	PeerTerms   []string `json:"peer_terms,omitempty"`
}

// DiscoveryRequest is the inbound job submission contract.
type DiscoveryRequest struct {
	TenantID           string        `json:"tenant_id"`
	AppID              string        `json:"app_id"`
	TargetCount        int           `json:"target_count"`
	Depth              AnalysisDepth `json:"depth"`
	Region             string        `json:"region"`
	IncludeCompetitors bool          `json:"include_competitors"`
	SeedKeywords       []string      `json:"seed_keywords,omitempty"`
	CompetitorAppIDs   []string      `json:"competitor_app_ids,omitempty"`
}

// JobProgress counts terminal per-candidate outcomes. Current only moves
// forward and never exceeds Total.
type JobProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// CandidateOutcome is the terminal per-candidate record in a job result.
type CandidateOutcome struct {
	Term      string           `json:"term"`
	Method    GenerationMethod `json:"method"`
	Succeeded bool             `json:"succeeded"`
	Error     string           `json:"error,omitempty"`
	Snapshot  *RankingSnapshot `json:"snapshot,omitempty"`
}

// DiscoveryJob is the persisted state of one bulk-discovery request.
// Owned and mutated exclusively by the scheduler.
type DiscoveryJob struct {
	ID        string             `json:"id"`
	Request   DiscoveryRequest   `json:"request"`
	Status    JobStatus          `json:"status"`
	Reason    FailureReason      `json:"reason,omitempty"`
	Progress  JobProgress        `json:"progress"`
	Outcomes  []CandidateOutcome `json:"outcomes,omitempty"`
	Clusters  []Cluster          `json:"clusters,omitempty"`
	ErrorText string             `json:"error_text,omitempty"`
	Submitted time.Time          `json:"submitted_at"`
	Started   *time.Time         `json:"started_at,omitempty"`
	Finished  *time.Time         `json:"finished_at,omitempty"`
}

// Cluster is a labeled thematic group of keywords for one discovery run.
// Computed per run; persisted only as part of the job result payload.
type Cluster struct {
	Label    string   `json:"label"`
	Keywords []string `json:"keywords"`
}

// GapEntryKind classifies a gap report line.
type GapEntryKind string

// Gap report entry kinds.
const (
	GapOpportunity GapEntryKind = "opportunity"
	GapStrength    GapEntryKind = "strength"
	GapContested   GapEntryKind = "contested"
)

// GapEntry is one keyword-level comparison between target and competitors.
type GapEntry struct {
	Term                   string       `json:"term"`
	Kind                   GapEntryKind `json:"kind"`
	TargetPosition         *int         `json:"target_position,omitempty"`
	BestCompetitorAppID    string       `json:"best_competitor_app_id,omitempty"`
	BestCompetitorPosition *int         `json:"best_competitor_position,omitempty"`
	EstimatedVolume        int64        `json:"estimated_volume"`
	// EaseScore orders opportunities so the easiest high-value wins surface
	// first. Only set on opportunity entries.
	EaseScore float64 `json:"ease_score,omitempty"`
}

// GapReport is the outcome of comparing a target app's keyword set against
// named competitors' SERP appearances.
type GapReport struct {
	AppID         string     `json:"app_id"`
	Region        string     `json:"region"`
	Opportunities []GapEntry `json:"opportunities"`
	Strengths     []GapEntry `json:"strengths"`
	Contested     []GapEntry `json:"contested"`
	// Stale is set when target and competitor snapshot dates diverge beyond
	// the configured tolerance window.
	Stale       bool      `json:"stale"`
	GeneratedAt time.Time `json:"generated_at"`
}

// CompletionEvent is the message published when a discovery job reaches a
// terminal state.
type CompletionEvent struct {
	JobID     string `json:"job_id"`
	AppID     string `json:"app_id"`
	Region    string `json:"region"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Succeeded int    `json:"succeeded"`
	Total     int    `json:"total"`
	Timestamp string `json:"timestamp"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   DiscoveryRequest
	Submitted int64
}
