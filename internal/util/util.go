package util

import (
	"sort"
	"strings"
	"unicode"
)

// ContainsFold reports whether slice contains item, ignoring case and
// surrounding whitespace.
func ContainsFold(slice []string, item string) bool {
	item = strings.TrimSpace(item)
	for _, s := range slice {
		if strings.EqualFold(strings.TrimSpace(s), item) {
			return true
		}
	}
	return false
}

// Dedup returns the non-empty entries of items in first-seen order, dropping
// exact duplicates after trimming whitespace.
func Dedup(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// MedianInt returns the median of values. For an even count the lower of the
// two middle values is used so a single high outlier never pulls the result up.
func MedianInt(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	return sorted[(len(sorted)-1)/2]
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Keywords lowercases text and returns its distinct content words in order,
// skipping stop words and tokens shorter than three characters.
func Keywords(text string, limit int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '+'
	})
	var out []string
	seen := make(map[string]struct{})
	for _, f := range fields {
		f = strings.Trim(f, "-+")
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "what": {},
	"which": {}, "when": {}, "where": {}, "how": {}, "why": {}, "are": {}, "was": {},
	"were": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "does": {},
	"did": {}, "can": {}, "could": {}, "should": {}, "would": {}, "will": {}, "about": {},
	"into": {}, "from": {}, "than": {}, "then": {}, "there": {}, "their": {}, "them": {},
	"they": {}, "you": {}, "your": {}, "our": {}, "its": {}, "between": {}, "versus": {},
	"best": {}, "most": {}, "more": {}, "some": {}, "any": {}, "all": {}, "use": {},
	"using": {}, "used": {}, "way": {}, "ways": {}, "also": {}, "not": {}, "but": {},
	"compare": {}, "explain": {}, "describe": {}, "like": {}, "other": {}, "such": {},
}

// TruncateString truncates s to maxLen and appends "..." if truncated (UTF-8 safe).
// If preserveWords is true, truncates at the last space before maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBefore(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

func lastSpaceBefore(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
