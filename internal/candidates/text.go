package candidates

import (
	"strings"
	"unicode"
)

// stopwords are filler terms excluded from extracted phrases.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "app": {}, "best": {}, "by": {},
	"for": {}, "free": {}, "from": {}, "get": {}, "in": {}, "is": {},
	"it": {}, "new": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "with": {}, "you": {},
	"your": {},
}

// synonyms maps a term to programmatic alternatives. Kept small and curated;
// this is a lexical table, not a language model.
var synonyms = map[string][]string{
	"tracker":  {"monitor", "log"},
	"monitor":  {"tracker"},
	"workout":  {"exercise", "training"},
	"exercise": {"workout"},
	"fitness":  {"health"},
	"health":   {"wellness"},
	"photo":    {"picture", "camera"},
	"picture":  {"photo"},
	"game":     {"games"},
	"learn":    {"learning", "study"},
	"study":    {"learn"},
	"budget":   {"finance", "money"},
	"finance":  {"budget"},
	"sleep":    {"rest"},
	"recipe":   {"cooking", "meal"},
	"meal":     {"recipe"},
	"run":      {"running", "jogging"},
	"running":  {"run"},
	"travel":   {"trip"},
	"trip":     {"travel"},
	"chat":     {"messenger"},
	"music":    {"audio"},
	"news":     {"headlines"},
	"weather":  {"forecast"},
	"task":     {"todo", "planner"},
	"todo":     {"task"},
	"note":     {"notes", "notebook"},
	"diet":     {"nutrition"},
	"step":     {"pedometer"},
	"counter":  {"tracker"},
}

// normalize lowercases a term and collapses interior whitespace.
func normalize(term string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(term)))
	return strings.Join(fields, " ")
}

// tokenize splits text into lowercase word tokens, dropping punctuation.
func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// phrases extracts n-gram phrases (1..maxWords) from text with their
// occurrence counts, skipping stopwords and short tokens.
func phrases(text string, maxWords int) map[string]int {
	tokens := tokenize(text)
	keep := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		keep = append(keep, tok)
	}

	out := make(map[string]int)
	for n := 1; n <= maxWords; n++ {
		for i := 0; i+n <= len(keep); i++ {
			out[strings.Join(keep[i:i+n], " ")]++
		}
	}
	return out
}

// expand returns plural/singular and synonym variants of a term. The term
// itself is never included.
func expand(term string) []string {
	words := strings.Fields(term)
	if len(words) == 0 {
		return nil
	}

	seen := map[string]struct{}{term: {}}
	var out []string
	add := func(v string) {
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	// Pluralize or singularize the final word.
	last := words[len(words)-1]
	if plural := pluralize(last); plural != last {
		add(strings.Join(append(append([]string(nil), words[:len(words)-1]...), plural), " "))
	}
	if singular := singularize(last); singular != last {
		add(strings.Join(append(append([]string(nil), words[:len(words)-1]...), singular), " "))
	}

	// Swap each word for its synonyms.
	for i, w := range words {
		for _, syn := range synonyms[w] {
			variant := append([]string(nil), words...)
			variant[i] = syn
			add(strings.Join(variant, " "))
		}
	}
	return out
}

func pluralize(word string) string {
	switch {
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "x"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "sh"):
		return word + "es"
	case strings.HasSuffix(word, "y") && len(word) > 2 && !isVowel(rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	default:
		return word + "s"
	}
}

func singularize(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "es") && len(word) > 3:
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && len(word) > 3:
		return word[:len(word)-1]
	default:
		return word
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}
