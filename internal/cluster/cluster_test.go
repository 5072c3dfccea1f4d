package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newEngine() *Engine {
	return New(Config{MinClusterSize: 2, SimilarityThreshold: 0.3})
}

func TestCluster_GroupsRelatedTerms(t *testing.T) {
	t.Parallel()

	e := newEngine()
	clusters := e.Cluster([]string{
		"fitness tracker",
		"fitness monitor",
		"fitness log",
		"recipe book",
		"recipe planner",
		"crossword puzzles",
	})

	byLabel := make(map[string][]string)
	for _, c := range clusters {
		byLabel[c.Label] = c.Keywords
	}

	require.Contains(t, byLabel, "fitness")
	require.ElementsMatch(t, []string{"fitness tracker", "fitness monitor", "fitness log"}, byLabel["fitness"])
	require.Contains(t, byLabel, "recipe")
	require.ElementsMatch(t, []string{"recipe book", "recipe planner"}, byLabel["recipe"])
	// A singleton with no close neighbor lands in the catch-all bucket.
	require.Equal(t, []string{"crossword puzzles"}, byLabel[UnclusteredLabel])
}

func TestCluster_OrderIndependent(t *testing.T) {
	t.Parallel()

	input := []string{
		"fitness tracker", "fitness monitor", "step counter", "step tracker",
		"sleep tracker", "sleep monitor", "recipe planner", "meal planner",
		"budget planner", "photo editor", "video editor", "music player",
	}

	e := newEngine()
	want := e.Cluster(input)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]string(nil), input...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		require.Equal(t, want, e.Cluster(shuffled), "shuffle %d changed clustering", i)
	}
}

func TestCluster_NormalizesAndDeduplicates(t *testing.T) {
	t.Parallel()

	e := newEngine()
	clusters := e.Cluster([]string{"Fitness  Tracker", "fitness tracker", "FITNESS TRACKER"})
	require.Len(t, clusters, 1)
	require.Equal(t, UnclusteredLabel, clusters[0].Label)
	require.Equal(t, []string{"fitness tracker"}, clusters[0].Keywords)
}

func TestCluster_MinClusterSizeRespected(t *testing.T) {
	t.Parallel()

	e := New(Config{MinClusterSize: 4, SimilarityThreshold: 0.3})
	clusters := e.Cluster([]string{"fitness tracker", "fitness monitor", "fitness log"})

	// Three related terms are below the minimum, so no named cluster forms.
	require.Len(t, clusters, 1)
	require.Equal(t, UnclusteredLabel, clusters[0].Label)
	require.Len(t, clusters[0].Keywords, 3)
}

func TestCluster_EmptyInput(t *testing.T) {
	t.Parallel()

	e := newEngine()
	require.Nil(t, e.Cluster(nil))
	require.Nil(t, e.Cluster([]string{"", "   "}))
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, jaccard([]string{"a", "b"}, []string{"a", "b"}), 1e-9)
	require.InDelta(t, 1.0/3.0, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	require.Zero(t, jaccard([]string{"a"}, []string{"b"}))
	require.Zero(t, jaccard(nil, []string{"a"}))
}
