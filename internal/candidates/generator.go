// Package candidates proposes keyword candidates for a target app.
//
// The generator only proposes terms; it never calls the SERP fetcher.
// Fetching and scoring happen downstream in the scheduler pipeline.
package candidates

import (
	"sort"
	"strings"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
)

// Config tunes extraction behavior.
type Config struct {
	// MaxPhraseWords caps the length of extracted metadata phrases.
	MaxPhraseWords int
}

// Generator derives candidates from app metadata, semantic variations and
// category-trending terms.
type Generator struct {
	cfg Config
}

// New builds a Generator.
func New(cfg Config) *Generator {
	if cfg.MaxPhraseWords <= 0 {
		cfg.MaxPhraseWords = 3
	}
	return &Generator{cfg: cfg}
}

// Generate proposes up to maxCandidates terms for the app, deduplicated
// case-insensitively and ordered by a deterministic relevance score.
// Competitor listings, when provided, contribute terms at a discount.
func (g *Generator) Generate(
	app keyword.AppMetadata,
	competitors []keyword.AppMetadata,
	seedKeywords []string,
	maxCandidates int,
) []keyword.Candidate {
	if maxCandidates <= 0 {
		return nil
	}

	var proposed []keyword.Candidate
	proposed = append(proposed, g.fromMetadata(app)...)
	proposed = append(proposed, g.fromSeeds(seedKeywords)...)
	proposed = append(proposed, g.variations(proposed)...)
	proposed = append(proposed, g.fromCompetitors(competitors)...)
	proposed = append(proposed, g.fromCategoryPeers(app)...)

	deduped := dedupe(proposed)
	sortCandidates(deduped)

	if len(deduped) > maxCandidates {
		deduped = deduped[:maxCandidates]
	}
	observe(deduped)
	return deduped
}

// fromMetadata extracts single words and short phrases from the listing.
func (g *Generator) fromMetadata(app keyword.AppMetadata) []keyword.Candidate {
	var out []keyword.Candidate
	sources := []struct {
		text   string
		weight float64
	}{
		{app.Name, 1.0},
		{app.Subtitle, 0.9},
		{app.Description, 0.6},
	}
	for _, src := range sources {
		for phrase, freq := range phrases(src.text, g.cfg.MaxPhraseWords) {
			relevance := keyword.MethodMetadataExtraction.Weight() * src.weight * frequencyBoost(freq)
			out = append(out, keyword.Candidate{
				Term:      phrase,
				Method:    keyword.MethodMetadataExtraction,
				Relevance: relevance,
			})
		}
	}
	return out
}

func (g *Generator) fromSeeds(seeds []string) []keyword.Candidate {
	var out []keyword.Candidate
	for _, seed := range seeds {
		term := normalize(seed)
		if term == "" {
			continue
		}
		out = append(out, keyword.Candidate{
			Term:      term,
			Method:    keyword.MethodManual,
			Relevance: keyword.MethodMetadataExtraction.Weight(),
		})
	}
	return out
}

// variations expands existing candidates with plural forms and synonyms.
func (g *Generator) variations(base []keyword.Candidate) []keyword.Candidate {
	var out []keyword.Candidate
	for _, c := range base {
		for _, variant := range expand(c.Term) {
			out = append(out, keyword.Candidate{
				Term:   variant,
				Method: keyword.MethodSemanticVariation,
				// Variations inherit a discounted share of their parent's
				// relevance so the original always outranks them.
				Relevance: c.Relevance * keyword.MethodSemanticVariation.Weight(),
			})
		}
	}
	return out
}

// fromCompetitors mines competitor listings. Their terms carry a discount
// so the target's own metadata always outranks an identical competitor term.
func (g *Generator) fromCompetitors(competitors []keyword.AppMetadata) []keyword.Candidate {
	var out []keyword.Candidate
	for _, comp := range competitors {
		sources := []struct {
			text   string
			weight float64
		}{
			{comp.Name, 0.5},
			{comp.Subtitle, 0.45},
		}
		for _, src := range sources {
			for phrase, freq := range phrases(src.text, g.cfg.MaxPhraseWords) {
				relevance := keyword.MethodMetadataExtraction.Weight() * src.weight * frequencyBoost(freq)
				out = append(out, keyword.Candidate{
					Term:      phrase,
					Method:    keyword.MethodMetadataExtraction,
					Relevance: relevance,
				})
			}
		}
	}
	return out
}

// fromCategoryPeers proposes terms observed among top apps in the category.
func (g *Generator) fromCategoryPeers(app keyword.AppMetadata) []keyword.Candidate {
	var out []keyword.Candidate
	for _, term := range app.PeerTerms {
		normalized := normalize(term)
		if normalized == "" {
			continue
		}
		out = append(out, keyword.Candidate{
			Term:      normalized,
			Method:    keyword.MethodCategoryTrending,
			Relevance: keyword.MethodCategoryTrending.Weight(),
		})
	}
	return out
}

// dedupe keeps the highest-relevance candidate per case-insensitive term.
func dedupe(in []keyword.Candidate) []keyword.Candidate {
	best := make(map[string]keyword.Candidate, len(in))
	for _, c := range in {
		key := strings.ToLower(c.Term)
		if key == "" {
			continue
		}
		existing, ok := best[key]
		if !ok || c.Relevance > existing.Relevance {
			best[key] = c
		}
	}
	out := make([]keyword.Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return out
}

// sortCandidates orders by relevance descending, then alphabetically so
// equal scores stay deterministic.
func sortCandidates(cs []keyword.Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Relevance != cs[j].Relevance {
			return cs[i].Relevance > cs[j].Relevance
		}
		return cs[i].Term < cs[j].Term
	})
}

func frequencyBoost(freq int) float64 {
	switch {
	case freq >= 3:
		return 1.2
	case freq == 2:
		return 1.1
	default:
		return 1.0
	}
}

func observe(cs []keyword.Candidate) {
	counts := make(map[keyword.GenerationMethod]int)
	for _, c := range cs {
		counts[c.Method]++
	}
	for method, n := range counts {
		metrics.ObserveCandidates(string(method), n)
	}
}
