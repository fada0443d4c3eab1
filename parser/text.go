package parser

import (
	"strings"
)

var outOfStockMarkers = []string{"нет в наличии", "закончился", "out of stock", "sold out"}

// ParseStock interprets availability text. A negative marker wins over any
// count in the text; a positive count implies in stock.
func ParseStock(text string) (inStock *bool, count *int) {
	lower := strings.ToLower(CleanText(text))
	if lower == "" {
		return nil, nil
	}

	for _, marker := range outOfStockMarkers {
		if strings.Contains(lower, marker) {
			f := false
			zero := 0
			return &f, &zero
		}
	}

	count = FirstInt(lower)
	t := count == nil || *count > 0
	return &t, count
}

// SplitTags turns marketing sticker text into distinct non-empty tags.
func SplitTags(text string) []string {
	var tags []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		tag := CleanText(line)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
