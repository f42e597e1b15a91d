// Package dedup filters candidates against URLs that are already stored.
package dedup

import "github.com/JakeFAU/news-archiver/internal/archiver"

// Filter drops candidates whose URL is in existing or appeared earlier in
// candidates. Input order is preserved. Neither argument is modified.
func Filter(candidates []archiver.Candidate, existing archiver.URLSet) []archiver.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]archiver.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.URL == "" || existing.Contains(c.URL) {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c)
	}
	return out
}

// URLs lists candidate URLs in order, for bulk existence lookups.
func URLs(candidates []archiver.Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.URL)
	}
	return out
}
