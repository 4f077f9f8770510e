// Package strings normalizes string lists coming from configuration,
// where entries arrive comma separated and hand typed.
package strings

import (
	"strings"
)

// DedupeAndTrim trims every element, drops empties, and keeps only the
// first occurrence of each value. Order of first appearance is preserved.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower does the same but folds elements to lower case
// first, so values that differ only by case collapse to one entry.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
