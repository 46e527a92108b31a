package search

import (
	"sort"
	"strings"
	"unicode/utf8"

	"grocery_list/internal/grocery"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// MinQueryLength is the shortest query that filters the list.
const MinQueryLength = 2

// Active reports whether query is long enough to filter.
func Active(query string) bool {
	return utf8.RuneCountInString(query) >= MinQueryLength
}

type match struct {
	item     grocery.Item
	lower    string
	prefix   bool
	position int
}

// FilterAndSort returns the items whose name contains query, ignoring case.
// Names that start with the query come first; each group is alphabetical by
// lowercased name. Queries shorter than MinQueryLength return a copy of items
// in their original order.
func FilterAndSort(items []grocery.Item, query string) []grocery.Item {
	if !Active(query) {
		out := make([]grocery.Item, len(items))
		copy(out, items)
		return out
	}

	lowerQuery := strings.ToLower(query)
	var matches []match
	for i, item := range items {
		lower := strings.ToLower(item.Name)
		if !strings.Contains(lower, lowerQuery) {
			continue
		}
		matches = append(matches, match{
			item:     item,
			lower:    lower,
			prefix:   strings.HasPrefix(lower, lowerQuery),
			position: i,
		})
	}

	// collators are not safe for concurrent use
	col := collate.New(language.Und)
	sort.SliceStable(matches, func(a, b int) bool {
		ma, mb := matches[a], matches[b]
		if ma.prefix != mb.prefix {
			return ma.prefix
		}
		if c := col.CompareString(ma.lower, mb.lower); c != 0 {
			return c < 0
		}
		if ma.lower != mb.lower {
			return ma.lower < mb.lower
		}
		return ma.position < mb.position
	})

	out := make([]grocery.Item, len(matches))
	for i, m := range matches {
		out[i] = m.item
	}
	return out
}
