// Package diffstat computes line and file statistics from unified diffs.
package diffstat

import "strings"

// Stats is the result of scanning a unified diff.
type Stats struct {
	LinesAdded   int
	LinesRemoved int
	FilesTouched []string
}

// TotalChanged is lines_added + lines_removed.
func (s Stats) TotalChanged() int {
	return s.LinesAdded + s.LinesRemoved
}

// Parse scans a unified diff for added/removed line counts and touched
// files. Touched files come from "+++ b/<path>" and "--- a/<path>"
// headers; a line starting with a single '+' or '-' (not the "+++"/"---"
// header prefix) increments the added/removed counters.
func Parse(diff string) Stats {
	var stats Stats
	seen := make(map[string]bool)

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			addTouched(&stats, seen, strings.TrimPrefix(line, "+++ b/"))
		case strings.HasPrefix(line, "--- a/"):
			addTouched(&stats, seen, strings.TrimPrefix(line, "--- a/"))
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
			// /dev/null or other non-a//b headers; not a touched file path.
		case strings.HasPrefix(line, "+"):
			stats.LinesAdded++
		case strings.HasPrefix(line, "-"):
			stats.LinesRemoved++
		}
	}

	return stats
}

func addTouched(stats *Stats, seen map[string]bool, path string) {
	path = strings.TrimSpace(path)
	if path == "" || seen[path] {
		return
	}
	seen[path] = true
	stats.FilesTouched = append(stats.FilesTouched, path)
}
