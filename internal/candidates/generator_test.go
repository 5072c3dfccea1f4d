package candidates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func fixtureApp() keyword.AppMetadata {
	return keyword.AppMetadata{
		AppID:       "com.example.fit",
		Name:        "StepFit Fitness Tracker",
		Subtitle:    "Workout and step counter",
		Description: "Track your fitness goals. The best fitness tracker for daily workout plans.",
		Category:    "health",
		PeerTerms:   []string{"calorie counter", "home workout"},
	}
}

func TestGenerate_CapAndDedupe(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	out := g.Generate(fixtureApp(), nil, []string{"Fitness Tracker", "step counter"}, 10)

	require.NotEmpty(t, out)
	require.LessOrEqual(t, len(out), 10)

	seen := make(map[string]struct{})
	for _, c := range out {
		key := strings.ToLower(c.Term)
		_, dup := seen[key]
		require.False(t, dup, "case-insensitive duplicate term %q", c.Term)
		seen[key] = struct{}{}
	}
}

func TestGenerate_MetadataOutranksTrending(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	out := g.Generate(fixtureApp(), nil, nil, 50)

	rank := make(map[string]int)
	methods := make(map[string]keyword.GenerationMethod)
	for i, c := range out {
		rank[c.Term] = i
		methods[c.Term] = c.Method
	}

	require.Contains(t, rank, "fitness tracker")
	require.Equal(t, keyword.MethodMetadataExtraction, methods["fitness tracker"])

	require.Contains(t, rank, "calorie counter")
	require.Equal(t, keyword.MethodCategoryTrending, methods["calorie counter"])
	require.Less(t, rank["fitness tracker"], rank["calorie counter"],
		"metadata extraction is weighted above category trending")
}

func TestGenerate_MinesCompetitorListings(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	rival := keyword.AppMetadata{
		AppID:    "com.example.rival",
		Name:     "Calorie Coach",
		Subtitle: "Meal planner and diet log",
	}
	out := g.Generate(fixtureApp(), []keyword.AppMetadata{rival}, nil, 200)

	relevance := make(map[string]float64)
	for _, c := range out {
		relevance[c.Term] = c.Relevance
	}
	require.Contains(t, relevance, "calorie coach")
	require.Contains(t, relevance, "meal planner")
	// The target's own name phrase always outranks competitor-derived terms.
	require.Greater(t, relevance["fitness tracker"], relevance["calorie coach"])
}

func TestGenerate_ProducesSemanticVariations(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	out := g.Generate(fixtureApp(), nil, nil, 200)

	var sawVariation bool
	for _, c := range out {
		if c.Method == keyword.MethodSemanticVariation {
			sawVariation = true
			break
		}
	}
	require.True(t, sawVariation, "expected at least one semantic variation")
}

func TestGenerate_DeterministicOrder(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	first := g.Generate(fixtureApp(), nil, []string{"yoga"}, 30)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, g.Generate(fixtureApp(), nil, []string{"yoga"}, 30))
	}
}

func TestGenerate_ZeroBudget(t *testing.T) {
	t.Parallel()

	g := New(Config{})
	require.Nil(t, g.Generate(fixtureApp(), nil, nil, 0))
}

func TestExpand(t *testing.T) {
	t.Parallel()

	variants := expand("fitness tracker")
	require.Contains(t, variants, "fitness trackers")
	require.Contains(t, variants, "fitness monitor")
	require.Contains(t, variants, "health tracker")
	require.NotContains(t, variants, "fitness tracker")
}

func TestPhrasesSkipStopwordsAndShortTokens(t *testing.T) {
	t.Parallel()

	got := phrases("The best app to track your runs", 2)
	require.NotContains(t, got, "the")
	require.NotContains(t, got, "app")
	require.NotContains(t, got, "to")
	require.Contains(t, got, "track")
	require.Contains(t, got, "runs")
	require.Contains(t, got, "track runs")
}

func TestPluralizeSingularize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "trackers", pluralize("tracker"))
	require.Equal(t, "boxes", pluralize("box"))
	require.Equal(t, "diaries", pluralize("diary"))
	require.Equal(t, "tracker", singularize("trackers"))
	require.Equal(t, "diary", singularize("diaries"))
	require.Equal(t, "box", singularize("boxes"))
}
