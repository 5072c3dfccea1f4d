package gap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func intPtr(v int) *int {
	return &v
}

var day = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func newAnalyzer() *Analyzer {
	return New(Config{DateTolerance: 48 * time.Hour}, &fakeClock{now: day})
}

func TestAnalyzeGap_OpportunitiesAndContested(t *testing.T) {
	t.Parallel()

	a := newAnalyzer()
	targets := []TargetKeyword{
		{Term: "fitness tracker", Position: intPtr(3), EstimatedVolume: 8000, SnapshotDate: day},
		{Term: "step counter", Position: nil, EstimatedVolume: 5000, SnapshotDate: day},
	}
	competitors := []CompetitorObservation{
		{Term: "fitness tracker", AppID: "rival", Position: intPtr(1), SnapshotDate: day},
		{Term: "step counter", AppID: "rival", Position: intPtr(5), SnapshotDate: day},
	}

	report := a.AnalyzeGap("target", "us", targets, competitors)
	require.False(t, report.Stale)

	require.Len(t, report.Opportunities, 1)
	opp := report.Opportunities[0]
	require.Equal(t, "step counter", opp.Term)
	require.Equal(t, "rival", opp.BestCompetitorAppID)
	require.Equal(t, 5, *opp.BestCompetitorPosition)
	require.Positive(t, opp.EaseScore)

	require.Len(t, report.Contested, 1)
	require.Equal(t, "fitness tracker", report.Contested[0].Term)
	require.Equal(t, 3, *report.Contested[0].TargetPosition)
	require.Equal(t, 1, *report.Contested[0].BestCompetitorPosition)
}

func TestAnalyzeGap_Strengths(t *testing.T) {
	t.Parallel()

	a := newAnalyzer()
	targets := []TargetKeyword{
		{Term: "sleep tracker", Position: intPtr(2), EstimatedVolume: 4000, SnapshotDate: day},
		{Term: "dream journal", Position: intPtr(1), EstimatedVolume: 900, SnapshotDate: day},
	}
	competitors := []CompetitorObservation{
		// Competitor ranks worse than the target.
		{Term: "sleep tracker", AppID: "rival", Position: intPtr(9), SnapshotDate: day},
		// No competitor appearance at all for "dream journal".
	}

	report := a.AnalyzeGap("target", "us", targets, competitors)
	require.Len(t, report.Strengths, 2)
	require.Equal(t, "dream journal", report.Strengths[0].Term)
	require.Equal(t, "sleep tracker", report.Strengths[1].Term)
	require.Empty(t, report.Opportunities)
	require.Empty(t, report.Contested)
}

func TestAnalyzeGap_EasierHighValueWinsFirst(t *testing.T) {
	t.Parallel()

	a := newAnalyzer()
	targets := []TargetKeyword{
		{Term: "weak rival high volume", EstimatedVolume: 10000, SnapshotDate: day},
		{Term: "strong rival low volume", EstimatedVolume: 100, SnapshotDate: day},
	}
	competitors := []CompetitorObservation{
		{Term: "weak rival high volume", AppID: "a", Position: intPtr(40), SnapshotDate: day},
		{Term: "strong rival low volume", AppID: "b", Position: intPtr(1), SnapshotDate: day},
	}

	report := a.AnalyzeGap("target", "us", targets, competitors)
	require.Len(t, report.Opportunities, 2)
	require.Equal(t, "weak rival high volume", report.Opportunities[0].Term)
}

func TestAnalyzeGap_BestCompetitorTieBreaksOnAppID(t *testing.T) {
	t.Parallel()

	a := newAnalyzer()
	targets := []TargetKeyword{
		{Term: "meditation", EstimatedVolume: 500, SnapshotDate: day},
	}
	competitors := []CompetitorObservation{
		{Term: "meditation", AppID: "zeta", Position: intPtr(2), SnapshotDate: day},
		{Term: "meditation", AppID: "alpha", Position: intPtr(2), SnapshotDate: day},
	}

	report := a.AnalyzeGap("target", "us", targets, competitors)
	require.Len(t, report.Opportunities, 1)
	require.Equal(t, "alpha", report.Opportunities[0].BestCompetitorAppID)
}

func TestAnalyzeGap_StaleWhenDatesDiverge(t *testing.T) {
	t.Parallel()

	a := newAnalyzer()
	targets := []TargetKeyword{
		{Term: "yoga", Position: intPtr(4), EstimatedVolume: 100, SnapshotDate: day},
	}
	competitors := []CompetitorObservation{
		{Term: "yoga", AppID: "rival", Position: intPtr(2), SnapshotDate: day.Add(-5 * 24 * time.Hour)},
	}

	report := a.AnalyzeGap("target", "us", targets, competitors)
	require.True(t, report.Stale)
	// The comparison is still produced, just flagged.
	require.Len(t, report.Contested, 1)
}

func TestAnalyzeGap_UnrankedCompetitorEntriesIgnored(t *testing.T) {
	t.Parallel()

	a := newAnalyzer()
	targets := []TargetKeyword{
		{Term: "pilates", Position: intPtr(6), EstimatedVolume: 100, SnapshotDate: day},
	}
	competitors := []CompetitorObservation{
		{Term: "pilates", AppID: "rival", Position: nil, SnapshotDate: day},
	}

	report := a.AnalyzeGap("target", "us", targets, competitors)
	require.Len(t, report.Strengths, 1)
	require.Empty(t, report.Contested)
}
