// Package volume estimates search volume from observable SERP composition.
//
// The numbers produced here are directional estimates, not ground truth:
// they combine high-authority app counts, top-result rating density and a
// category baseline into a deterministic weighted score. Callers must treat
// them as advisory signals. Estimates are shared across tenants and only
// recomputed once the previous row exceeds the staleness window.
package volume

import (
	"math"
	"time"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
)

// Config tunes the scoring weights and thresholds.
type Config struct {
	// AuthorityRatingCount is the rating count above which an app counts as
	// high-authority.
	AuthorityRatingCount int64
	// TopWindow is how many leading results feed the rating-density signal.
	TopWindow int
	// Staleness is the maximum estimate age before recomputation.
	Staleness time.Duration
}

// CategoryContext carries the category baseline the score is anchored to.
type CategoryContext struct {
	Category string
	// BaselineSearches is the category's average monthly search estimate.
	BaselineSearches int64
}

// Estimator derives VolumeEstimate rows from ranked result sets.
type Estimator struct {
	cfg   Config
	clock keyword.Clock
}

// New builds an Estimator.
func New(cfg Config, clock keyword.Clock) *Estimator {
	if cfg.AuthorityRatingCount <= 0 {
		cfg.AuthorityRatingCount = 10000
	}
	if cfg.TopWindow <= 0 {
		cfg.TopWindow = 10
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 7 * 24 * time.Hour
	}
	return &Estimator{cfg: cfg, clock: clock}
}

// Estimate scores a result set for one (term, platform, region) triple.
func (e *Estimator) Estimate(term, platform, region string, apps []keyword.RankedApp, cat CategoryContext) keyword.VolumeEstimate {
	popularity := e.popularity(apps)
	baseline := cat.BaselineSearches
	if baseline <= 0 {
		baseline = 5000
	}

	// Monthly searches scale the category baseline by the popularity signal.
	searches := int64(float64(baseline) * (0.2 + 1.8*float64(popularity)/100.0))

	return keyword.VolumeEstimate{
		Term:            term,
		Platform:        platform,
		Region:          region,
		MonthlySearches: searches,
		Popularity:      popularity,
		Tier:            tierFor(popularity),
		UpdatedAt:       e.clock.Now(),
	}
}

// Stale reports whether the estimate is old enough to recompute.
func (e *Estimator) Stale(est *keyword.VolumeEstimate) bool {
	if est == nil {
		return true
	}
	return e.clock.Now().Sub(est.UpdatedAt) > e.cfg.Staleness
}

// popularity combines two observable signals into a 0-100 score:
// the share of high-authority apps in the full result set (weight 60) and
// the density of >4.0-rated apps in the top window (weight 40).
func (e *Estimator) popularity(apps []keyword.RankedApp) int {
	if len(apps) == 0 {
		return 0
	}

	var authority int
	for _, app := range apps {
		if app.RatingCount >= e.cfg.AuthorityRatingCount {
			authority++
		}
	}
	authorityShare := float64(authority) / float64(len(apps))

	window := e.cfg.TopWindow
	if window > len(apps) {
		window = len(apps)
	}
	var highlyRated int
	for _, app := range apps[:window] {
		if app.Rating > 4.0 {
			highlyRated++
		}
	}
	ratingDensity := float64(highlyRated) / float64(window)

	score := 60.0*authorityShare + 40.0*ratingDensity
	return int(math.Round(math.Min(score, 100)))
}

// tierFor buckets a popularity score into a competition tier.
func tierFor(popularity int) keyword.CompetitionTier {
	switch {
	case popularity >= 80:
		return keyword.TierVeryHigh
	case popularity >= 55:
		return keyword.TierHigh
	case popularity >= 30:
		return keyword.TierMedium
	default:
		return keyword.TierLow
	}
}
