package similarity

import (
	"regexp"
	"sort"
	"strings"
)

// MaxKeywords caps how many keywords ExtractKeywords returns.
const MaxKeywords = 20

// MinKeywordLength is the shortest word treated as a keyword.
const MinKeywordLength = 3

var wordPattern = regexp.MustCompile(`\b[a-zA-Z]+\b`)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {},
	"of": {}, "with": {}, "by": {}, "from": {}, "up": {}, "about": {}, "into": {}, "through": {}, "during": {},
	"before": {}, "after": {}, "above": {}, "below": {}, "between": {}, "among": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "may": {}, "might": {},
	"can": {}, "cannot": {}, "this": {}, "that": {}, "these": {}, "those": {}, "i": {}, "you": {}, "he": {},
	"she": {}, "it": {}, "we": {}, "they": {}, "them": {}, "their": {}, "what": {}, "which": {}, "who": {},
	"when": {}, "where": {}, "why": {}, "how": {},
}

// ExtractKeywords returns the most frequent non-stop-words in text,
// lowercased. Ties keep first-occurrence order.
func ExtractKeywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if len(w) < MinKeywordLength {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > MaxKeywords {
		order = order[:MaxKeywords]
	}
	return order
}

// Jaccard is |A ∩ B| / |A ∪ B| over the extracted keyword sets. Either set
// being empty yields 0.
func Jaccard(a, b string) float64 {
	setA := keywordSet(a)
	setB := keywordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func keywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, k := range ExtractKeywords(text) {
		set[k] = struct{}{}
	}
	return set
}
