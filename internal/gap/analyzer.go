// Package gap compares a target app's keyword rankings against competitors.
package gap

import (
	"math"
	"sort"
	"time"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
)

// Config tunes gap comparison behavior.
type Config struct {
	// DateTolerance is how far target and competitor snapshot dates may
	// diverge before the report is flagged stale.
	DateTolerance time.Duration
}

// TargetKeyword is one of the target app's keywords with its latest snapshot.
type TargetKeyword struct {
	Term            string
	Position        *int
	EstimatedVolume int64
	SnapshotDate    time.Time
}

// CompetitorObservation is one competitor's appearance for a term.
type CompetitorObservation struct {
	Term         string
	AppID        string
	Position     *int
	SnapshotDate time.Time
}

// Analyzer produces gap reports.
type Analyzer struct {
	cfg   Config
	clock keyword.Clock
}

// New builds an Analyzer.
func New(cfg Config, clock keyword.Clock) *Analyzer {
	if cfg.DateTolerance <= 0 {
		cfg.DateTolerance = 48 * time.Hour
	}
	return &Analyzer{cfg: cfg, clock: clock}
}

// AnalyzeGap buckets each term into opportunities (competitor ranks, target
// does not), strengths (target outranks every named competitor) and contested
// (both rank). Opportunities are ordered by ease score so the highest-value
// easiest wins surface first. Snapshot dates diverging beyond the tolerance
// flag the report stale instead of silently comparing different days.
func (a *Analyzer) AnalyzeGap(
	appID, region string,
	targetKeywords []TargetKeyword,
	competitorResults []CompetitorObservation,
) keyword.GapReport {
	report := keyword.GapReport{
		AppID:       appID,
		Region:      region,
		GeneratedAt: a.clock.Now(),
		Stale:       a.datesDiverge(targetKeywords, competitorResults),
	}

	competitorsByTerm := make(map[string][]CompetitorObservation)
	for _, obs := range competitorResults {
		if obs.Position == nil {
			continue
		}
		competitorsByTerm[obs.Term] = append(competitorsByTerm[obs.Term], obs)
	}

	for _, target := range targetKeywords {
		best, ok := bestCompetitor(competitorsByTerm[target.Term])
		targetRanks := target.Position != nil

		switch {
		case !targetRanks && ok:
			report.Opportunities = append(report.Opportunities, keyword.GapEntry{
				Term:                   target.Term,
				Kind:                   keyword.GapOpportunity,
				BestCompetitorAppID:    best.AppID,
				BestCompetitorPosition: best.Position,
				EstimatedVolume:        target.EstimatedVolume,
				EaseScore:              easeScore(*best.Position, target.EstimatedVolume),
			})
		case targetRanks && !ok:
			report.Strengths = append(report.Strengths, keyword.GapEntry{
				Term:            target.Term,
				Kind:            keyword.GapStrength,
				TargetPosition:  target.Position,
				EstimatedVolume: target.EstimatedVolume,
			})
		case targetRanks && ok && *target.Position < *best.Position:
			report.Strengths = append(report.Strengths, keyword.GapEntry{
				Term:                   target.Term,
				Kind:                   keyword.GapStrength,
				TargetPosition:         target.Position,
				BestCompetitorAppID:    best.AppID,
				BestCompetitorPosition: best.Position,
				EstimatedVolume:        target.EstimatedVolume,
			})
		case targetRanks && ok:
			report.Contested = append(report.Contested, keyword.GapEntry{
				Term:                   target.Term,
				Kind:                   keyword.GapContested,
				TargetPosition:         target.Position,
				BestCompetitorAppID:    best.AppID,
				BestCompetitorPosition: best.Position,
				EstimatedVolume:        target.EstimatedVolume,
			})
		}
		// Terms neither side ranks for carry no signal and are dropped.
	}

	sort.Slice(report.Opportunities, func(i, j int) bool {
		if report.Opportunities[i].EaseScore != report.Opportunities[j].EaseScore {
			return report.Opportunities[i].EaseScore > report.Opportunities[j].EaseScore
		}
		return report.Opportunities[i].Term < report.Opportunities[j].Term
	})
	sortByTerm(report.Strengths)
	sortByTerm(report.Contested)
	return report
}

// bestCompetitor picks the best (numerically lowest) ranked observation,
// breaking ties by app ID for determinism.
func bestCompetitor(observations []CompetitorObservation) (CompetitorObservation, bool) {
	var best CompetitorObservation
	found := false
	for _, obs := range observations {
		if !found || *obs.Position < *best.Position ||
			(*obs.Position == *best.Position && obs.AppID < best.AppID) {
			best = obs
			found = true
		}
	}
	return best, found
}

// easeScore rises with estimated volume and falls as the competitor's rank
// strengthens: a weakly-ranked competitor on a high-traffic term is the
// easiest valuable win.
func easeScore(competitorPosition int, volume int64) float64 {
	if competitorPosition <= 0 {
		competitorPosition = 1
	}
	return (1.0 - 1.0/float64(competitorPosition+1)) * math.Log1p(float64(volume))
}

func (a *Analyzer) datesDiverge(targets []TargetKeyword, competitors []CompetitorObservation) bool {
	var minDate, maxDate time.Time
	observe := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if minDate.IsZero() || t.Before(minDate) {
			minDate = t
		}
		if maxDate.IsZero() || t.After(maxDate) {
			maxDate = t
		}
	}
	for _, t := range targets {
		observe(t.SnapshotDate)
	}
	for _, c := range competitors {
		observe(c.SnapshotDate)
	}
	if minDate.IsZero() {
		return false
	}
	return maxDate.Sub(minDate) > a.cfg.DateTolerance
}

func sortByTerm(entries []keyword.GapEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
}
