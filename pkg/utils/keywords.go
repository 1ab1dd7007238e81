package utils

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// KeywordRule maps a set of case-insensitive keywords to a category.
type KeywordRule struct {
	Category string
	Keywords []string
}

// KeywordClassifier assigns a category to free text using a single
// Aho-Corasick pass. When several rules match, the earliest rule wins.
type KeywordClassifier struct {
	matcher  *ahocorasick.Matcher
	priority []int // keyword index -> rule index
	rules    []KeywordRule
	fallback string
}

func NewKeywordClassifier(rules []KeywordRule, fallback string) *KeywordClassifier {
	var dict []string
	var priority []int
	for i, r := range rules {
		for _, kw := range r.Keywords {
			dict = append(dict, strings.ToLower(kw))
			priority = append(priority, i)
		}
	}
	return &KeywordClassifier{
		matcher:  ahocorasick.NewStringMatcher(dict),
		priority: priority,
		rules:    rules,
		fallback: fallback,
	}
}

// Classify returns the category of the highest-priority matching rule, or
// the fallback when nothing matches.
func (k *KeywordClassifier) Classify(text string) string {
	if k == nil || len(k.priority) == 0 {
		return k.fallbackOrEmpty()
	}
	best := -1
	for _, hit := range k.matcher.MatchThreadSafe([]byte(strings.ToLower(text))) {
		if p := k.priority[hit]; best == -1 || p < best {
			best = p
		}
	}
	if best == -1 {
		return k.fallback
	}
	return k.rules[best].Category
}

func (k *KeywordClassifier) fallbackOrEmpty() string {
	if k == nil {
		return ""
	}
	return k.fallback
}
