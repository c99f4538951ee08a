// Package reference resolves prompt mentions against a user's reference catalog.
package reference

import (
	"log/slog"
	"strings"

	"github.com/picarcade/picarcade/store"
)

// Resolve matches tags against catalog case-insensitively. The result follows the
// order in which tags first appear, holds at most one entry per tag (ignoring case)
// and never more entries than tags. Tags without a match are returned in unresolved
// and logged; they never fail the call.
func Resolve(tags []string, catalog []*store.Reference) (resolved []*store.Reference, unresolved []string) {
	index := make(map[string]*store.Reference, len(catalog))
	for _, ref := range catalog {
		key := strings.ToLower(ref.Tag)
		// First match wins should the catalog ever hold duplicates.
		if _, ok := index[key]; !ok {
			index[key] = ref
		}
	}

	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		ref, ok := index[key]
		if !ok {
			slog.Debug("[REFERENCE UNRESOLVED]", "tag", tag)
			unresolved = append(unresolved, tag)
			continue
		}
		resolved = append(resolved, ref)
	}
	return resolved, unresolved
}
