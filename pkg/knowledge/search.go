package knowledge

import (
	"sort"
	"strings"
)

// Field weights of the relevance score.
const (
	WeightTitle       = 10
	WeightName        = 8
	WeightDescription = 5
	WeightTags        = 3
	WeightFramework   = 2
)

// Sort orders accepted by Search.
const (
	SortRelevance = "relevance"
	SortDownloads = "downloads"
	SortRating    = "rating"
	SortDate      = "date"
)

// SearchHit is a package with its relevance score.
type SearchHit struct {
	*Package
	Score  int    `json:"relevance"`
	Rating Rating `json:"rating"`
}

// SearchResult is one page of ranked hits.
type SearchResult struct {
	Query   string       `json:"query"`
	Items   []*SearchHit `json:"results"`
	Total   int          `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	HasMore bool         `json:"has_more"`
}

// Tokenize lowercases a query and splits it on whitespace.
func Tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// matchesText reports whether the lowercased field contains the whole query
// or any of its tokens.
func matchesText(field, query string, tokens []string) bool {
	if field == "" {
		return false
	}
	field = strings.ToLower(field)
	if strings.Contains(field, query) {
		return true
	}
	for _, t := range tokens {
		if strings.Contains(field, t) {
			return true
		}
	}
	return false
}

// Relevance scores pkg against a query. Each field contributes its weight at
// most once.
func Relevance(pkg *Package, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	tokens := Tokenize(q)
	if len(tokens) == 0 {
		return 0
	}

	score := 0
	if matchesText(pkg.Title, q, tokens) {
		score += WeightTitle
	}
	if matchesText(pkg.Name, q, tokens) {
		score += WeightName
	}
	if matchesText(pkg.Description, q, tokens) {
		score += WeightDescription
	}
	for _, tag := range pkg.Tags {
		if matchesText(tag, q, tokens) {
			score += WeightTags
			break
		}
	}
	if matchesText(pkg.Framework, q, tokens) {
		score += WeightFramework
	}
	return score
}

// ValidSort reports whether s names a supported sort order.
func ValidSort(s string) bool {
	switch s {
	case SortRelevance, SortDownloads, SortRating, SortDate:
		return true
	}
	return false
}

// Rank scores candidates, drops zero scores and orders the rest. Candidates
// are expected to be pre-filtered by status, category and framework.
func Rank(candidates []*Package, query, sortBy string) []*SearchHit {
	hits := make([]*SearchHit, 0, len(candidates))
	for _, p := range candidates {
		if score := Relevance(p, query); score > 0 {
			hits = append(hits, &SearchHit{Package: p, Score: score, Rating: p.Rating()})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		switch sortBy {
		case SortDownloads:
			if a.Downloads != b.Downloads {
				return a.Downloads > b.Downloads
			}
		case SortRating:
			if c := compareAvg(a.Rating.RatingAvg, b.Rating.RatingAvg); c != 0 {
				return c > 0
			}
		case SortDate:
			if !a.UploadDate.Equal(b.UploadDate) {
				return a.UploadDate.After(b.UploadDate)
			}
		default:
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		}
		return a.ID < b.ID
	})
	return hits
}

// compareAvg orders averages with nil below every value.
func compareAvg(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a > *b:
		return 1
	case *a < *b:
		return -1
	}
	return 0
}
