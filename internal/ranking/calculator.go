// Package ranking derives position, trend and visibility from SERP snapshots.
//
// Compute is a pure function: identical inputs always produce identical
// output, which keeps backfills reproducible and assertions exact.
package ranking

import (
	"time"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
)

// Input bundles everything one snapshot computation needs.
type Input struct {
	KeywordID          string
	Previous           *keyword.RankingSnapshot
	Current            []keyword.RankedApp
	TargetAppID        string
	EstimatedVolume    int64
	MaxTrackedPosition int
	SnapshotDate       time.Time
	ResultBlobURI      string
}

// Compute diffs the current result set against the previous snapshot.
//
// Trend rules:
//   - new: no previous snapshot, app ranks now
//   - not_ranking: no previous snapshot, app absent (first sight is neither
//     "new" nor "lost")
//   - lost: previously ranked, now absent
//   - stable / up / down: both ranked, by position delta (up = numerically
//     smaller position)
func Compute(in Input) keyword.RankingSnapshot {
	maxPos := in.MaxTrackedPosition
	if maxPos <= 0 {
		maxPos = 100
	}

	position := findPosition(in.Current, in.TargetAppID, maxPos)

	snap := keyword.RankingSnapshot{
		KeywordID:       in.KeywordID,
		SnapshotDate:    in.SnapshotDate,
		Position:        position,
		EstimatedVolume: in.EstimatedVolume,
		Trend:           trend(in.Previous, position),
		VisibilityScore: visibility(position, in.EstimatedVolume, maxPos),
		ResultBlobURI:   in.ResultBlobURI,
	}

	if in.Previous != nil && in.Previous.Position != nil && position != nil {
		delta := *position - *in.Previous.Position
		snap.PositionDelta = &delta
	}
	return snap
}

func findPosition(apps []keyword.RankedApp, targetAppID string, maxPos int) *int {
	for i, app := range apps {
		if i >= maxPos {
			break
		}
		if app.AppID == targetAppID {
			pos := i + 1
			return &pos
		}
	}
	return nil
}

func trend(previous *keyword.RankingSnapshot, position *int) keyword.TrendDirection {
	prevRanked := previous != nil && previous.Position != nil
	switch {
	case !prevRanked && position != nil:
		return keyword.TrendNew
	case !prevRanked && position == nil:
		return keyword.TrendNotRanking
	case prevRanked && position == nil:
		return keyword.TrendLost
	}
	delta := *position - *previous.Position
	switch {
	case delta == 0:
		return keyword.TrendStable
	case delta < 0:
		return keyword.TrendUp
	default:
		return keyword.TrendDown
	}
}

// visibility rewards both high rank and high-traffic terms. It is zero
// exactly when the app is not ranking and never negative.
func visibility(position *int, volume int64, maxPos int) float64 {
	if position == nil {
		return 0
	}
	score := float64(maxPos+1-*position) * float64(volume) / float64(maxPos)
	if score < 0 {
		return 0
	}
	return score
}
