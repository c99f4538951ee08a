// Package mention extracts @tag references from prompts.
package mention

import (
	"regexp"
	"strings"
)

var mentionRegexp = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// Parse returns the tags mentioned in prompt, left to right, without the leading @.
// Duplicates and letter case are preserved.
func Parse(prompt string) []string {
	matches := mentionRegexp.FindAllStringSubmatch(prompt, -1)
	mentions := make([]string, 0, len(matches))
	for _, m := range matches {
		mentions = append(mentions, m[1])
	}
	return mentions
}

// Unique returns mentions with case-insensitive duplicates removed, keeping the
// first spelling and the first-seen order.
func Unique(mentions []string) []string {
	seen := make(map[string]bool, len(mentions))
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
