// Package cluster groups keywords into labeled thematic clusters.
//
// Similarity is lexical: Jaccard overlap between token sets, merged with
// average linkage. This keeps the engine deterministic and order-independent
// with no model dependency. Inputs are canonicalized (normalized, deduplicated,
// sorted) before clustering, and every tie is broken alphabetically, so
// shuffling the input never changes cluster membership.
package cluster

import (
	"sort"
	"strings"
)

// Config controls clustering behavior.
type Config struct {
	// MinClusterSize is the smallest group kept as a named cluster; smaller
	// groups fall into the catch-all "unclustered" bucket.
	MinClusterSize int
	// SimilarityThreshold is the minimum average-linkage similarity for a
	// merge, in (0, 1].
	SimilarityThreshold float64
}

// UnclusteredLabel names the catch-all bucket.
const UnclusteredLabel = "unclustered"

// Cluster is a labeled keyword group.
type Cluster struct {
	Label    string
	Keywords []string
}

// Engine performs hierarchical clustering.
type Engine struct {
	cfg Config
}

// New builds an Engine.
func New(cfg Config) *Engine {
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = 2
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.3
	}
	return &Engine{cfg: cfg}
}

// Cluster groups the keywords. Named clusters come first, alphabetical by
// label, with the unclustered bucket last (when non-empty).
func (e *Engine) Cluster(keywords []string) []Cluster {
	terms := canonicalize(keywords)
	if len(terms) == 0 {
		return nil
	}

	groups := make([][]string, len(terms))
	for i, t := range terms {
		groups[i] = []string{t}
	}
	tokens := make(map[string][]string, len(terms))
	for _, t := range terms {
		tokens[t] = tokenSet(t)
	}

	for {
		bi, bj, best := -1, -1, 0.0
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				sim := averageLinkage(groups[i], groups[j], tokens)
				if sim > best {
					bi, bj, best = i, j, sim
				}
			}
		}
		if bi < 0 || best < e.cfg.SimilarityThreshold {
			break
		}
		merged := append(append([]string(nil), groups[bi]...), groups[bj]...)
		sort.Strings(merged)
		groups = append(groups[:bj], groups[bj+1:]...)
		groups[bi] = merged
		sortGroups(groups)
	}

	var clusters []Cluster
	var leftovers []string
	for _, g := range groups {
		if len(g) < e.cfg.MinClusterSize {
			leftovers = append(leftovers, g...)
			continue
		}
		clusters = append(clusters, Cluster{
			Label:    label(g, tokens),
			Keywords: g,
		})
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Label != clusters[j].Label {
			return clusters[i].Label < clusters[j].Label
		}
		return clusters[i].Keywords[0] < clusters[j].Keywords[0]
	})
	if len(leftovers) > 0 {
		sort.Strings(leftovers)
		clusters = append(clusters, Cluster{Label: UnclusteredLabel, Keywords: leftovers})
	}
	return clusters
}

// canonicalize lowercases, trims, deduplicates and sorts the input so the
// result is independent of caller ordering.
func canonicalize(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	var out []string
	for _, kw := range keywords {
		norm := strings.Join(strings.Fields(strings.ToLower(kw)), " ")
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	sort.Strings(out)
	return out
}

func tokenSet(term string) []string {
	fields := strings.Fields(term)
	sort.Strings(fields)
	return fields
}

// jaccard computes token overlap between two sorted token slices.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	var intersection int
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func averageLinkage(a, b []string, tokens map[string][]string) float64 {
	var total float64
	for _, ta := range a {
		for _, tb := range b {
			total += jaccard(tokens[ta], tokens[tb])
		}
	}
	return total / float64(len(a)*len(b))
}

// sortGroups keeps the group list ordered by smallest member so merge
// tie-breaks stay deterministic.
func sortGroups(groups [][]string) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i][0] < groups[j][0]
	})
}

// label picks the most frequent token across members, alphabetical on ties.
func label(group []string, tokens map[string][]string) string {
	counts := make(map[string]int)
	for _, term := range group {
		for _, tok := range tokens[term] {
			counts[tok]++
		}
	}
	bestTok, bestCount := "", 0
	for tok, n := range counts {
		if n > bestCount || (n == bestCount && tok < bestTok) {
			bestTok, bestCount = tok, n
		}
	}
	return bestTok
}
