package knowledge

import (
	"slices"
	"sort"
	"strings"
	"unicode"
)

const (
	relatedCategoryBonus  = 3
	relatedFrameworkBonus = 2
)

// RelatedItem is a recommended package and the score that ranked it.
type RelatedItem struct {
	*Package
	Score int `json:"score"`
}

// RelatedTo ranks candidates against source: same category scores 3, same
// framework scores 2. Ties prefer more downloads, then the lower id. The
// source itself is never returned.
func RelatedTo(source *Package, candidates []*Package, limit int) []*RelatedItem {
	items := make([]*RelatedItem, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == source.ID {
			continue
		}
		score := 0
		if c.Category == source.Category {
			score += relatedCategoryBonus
		}
		if source.Framework != "" && strings.EqualFold(c.Framework, source.Framework) {
			score += relatedFrameworkBonus
		}
		items = append(items, &RelatedItem{Package: c, Score: score})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Downloads != b.Downloads {
			return a.Downloads > b.Downloads
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// TagVocabulary is the fixed keyword list scanned by SuggestTags.
var TagVocabulary = []string{
	"2d", "3d", "ai", "animation", "api", "async", "audio", "auth", "cache",
	"cli", "cloud", "components", "css", "database", "deployment", "docker",
	"game", "graphql", "hooks", "http", "javascript", "kubernetes", "mobile",
	"networking", "orm", "physics", "plugin", "python", "react", "rendering",
	"rest", "routing", "rust", "sdk", "security", "server", "shader", "sql",
	"testing", "typescript", "ui", "web", "websocket",
}

// SuggestTags returns vocabulary keywords that occur as whole words in text
// and are not already in existing. The result is sorted.
func SuggestTags(text string, existing []string) []string {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}

	have := make([]string, 0, len(existing))
	for _, t := range existing {
		have = append(have, strings.ToLower(t))
	}

	suggestions := []string{}
	for _, kw := range TagVocabulary {
		if _, ok := words[kw]; !ok || slices.Contains(have, kw) {
			continue
		}
		suggestions = append(suggestions, kw)
	}
	sort.Strings(suggestions)
	return suggestions
}
