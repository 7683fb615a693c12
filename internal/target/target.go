// Package target implements corral's target-name resolution: turning
// the CLI-supplied list of names (which may each name a group or a
// runnable) into a deduplicated set of runnable ids, per spec.md §6.
// It is grounded on the teacher's configerr.go classify-then-humanize
// pipeline (CZERTAINLY/Seeker's internal/model), adapted from "classify
// a CUE validation error" to "classify an unresolved name and suggest
// the nearest known one".
package target

import (
	"fmt"
	"sort"
	"strings"

	"github.com/corral-dev/corral/internal/model"
)

// Resolve expands names into runnable ids: a name that matches a group
// is replaced by every id in that group, a name that matches a runnable
// id is kept as-is, and any other name is a fatal "Unknown target"
// error carrying a suggestion. Duplicate targets across names, or
// introduced by overlapping groups, are deduplicated. Order follows
// first-seen across the input, which is all the spec requires beyond
// determinism (the scheduler topologically re-orders the result anyway).
func Resolve(cfg model.Config, names []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, name := range names {
		if group, ok := cfg.Groups[name]; ok {
			for _, id := range group.IDs {
				if _, ok := cfg.Runnables[id]; !ok {
					// cfg.Validate already rejects this at Init time;
					// this guards callers that resolve against a config
					// that was never validated.
					return nil, fmt.Errorf("%w: group %s references unknown service %s",
						model.ErrDanglingDependency, name, id)
				}
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
			continue
		}

		if _, ok := cfg.Runnables[name]; ok {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
			continue
		}

		return nil, unknownTargetError(cfg, name)
	}

	return out, nil
}

// unknownTargetError builds the "Unknown target" error with a
// suggestion: a prefix match against known ids/group names first, and
// failing that the closest name within a Levenshtein distance of 3.
func unknownTargetError(cfg model.Config, name string) error {
	candidates := append(cfg.KnownIDs(), cfg.KnownGroupNames()...)
	sort.Strings(candidates)

	if sug, ok := prefixSuggestion(name, candidates); ok {
		return fmt.Errorf("%w: %q (did you mean %q?)", model.ErrUnknownTarget, name, sug)
	}
	if sug, ok := nearestSuggestion(name, candidates, 3); ok {
		return fmt.Errorf("%w: %q (did you mean %q?)", model.ErrUnknownTarget, name, sug)
	}
	return fmt.Errorf("%w: %q (known: %v)", model.ErrUnknownTarget, name, candidates)
}

// prefixSuggestion returns the shortest candidate that name is a prefix
// of, or that is a prefix of name, favoring an exact prefix relationship
// over edit distance since it is the more common typo shape ("ap" for
// "api", "apii" for "api").
func prefixSuggestion(name string, candidates []string) (string, bool) {
	var best string
	for _, c := range candidates {
		if c == name {
			continue
		}
		if strings.HasPrefix(c, name) || strings.HasPrefix(name, c) {
			if best == "" || len(c) < len(best) {
				best = c
			}
		}
	}
	return best, best != ""
}

// nearestSuggestion returns the candidate with the smallest Levenshtein
// distance to name, provided it is within maxDist.
func nearestSuggestion(name string, candidates []string, maxDist int) (string, bool) {
	best := ""
	bestDist := maxDist + 1
	for _, c := range candidates {
		d := levenshtein(name, c)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	if bestDist > maxDist {
		return "", false
	}
	return best, true
}

// levenshtein computes the classic edit distance between a and b with
// two rolling rows, since corral only ever compares short identifiers
// and has no library dependency in the retrieved corpus for this.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
