// Package patch validates and applies unified diff patches against a
// workspace, enforcing scope and budget constraints before any file is
// touched.
package patch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GTWhalley/Refactorio/internal/diffstat"
)

// Result is the outcome of validating or applying a patch.
type Result struct {
	Success      bool
	Stats        diffstat.Stats
	ErrorMessage string
}

// Validator checks a patch diff against scope, budget, and applicability
// constraints before it is ever written to disk.
type Validator struct {
	RepoPath      string
	ScopeGlobs    []string
	DiffBudgetLOC int
	AllowBinary   bool
}

// Validate runs the five checks from the patch contract in order: not
// empty, within budget, every touched file in scope, no disallowed
// binary changes, and applies cleanly via a dry run.
func (v Validator) Validate(diff string) (bool, string, diffstat.Stats) {
	if strings.TrimSpace(diff) == "" {
		return false, "empty patch", diffstat.Stats{}
	}

	stats := diffstat.Parse(diff)

	if stats.TotalChanged() > v.DiffBudgetLOC {
		return false, fmt.Sprintf("patch exceeds diff budget: %d > %d", stats.TotalChanged(), v.DiffBudgetLOC), stats
	}

	if len(v.ScopeGlobs) > 0 {
		for _, file := range stats.FilesTouched {
			if !matchesAny(file, v.ScopeGlobs) {
				return false, fmt.Sprintf("file out of scope: %s not matching %v", file, v.ScopeGlobs), stats
			}
		}
	}

	if !v.AllowBinary && strings.Contains(diff, "Binary files") {
		return false, "binary file changes not allowed", stats
	}

	if ok, err := checkApplies(v.RepoPath, diff); !ok {
		return false, fmt.Sprintf("patch would not apply cleanly: %s", err), stats
	}

	return true, "", stats
}

// matchesAny reports whether file matches at least one glob, treating
// "**" as "zero or more path segments" per doublestar semantics rather
// than stdlib path.Match's single-segment "*".
func matchesAny(file string, globs []string) bool {
	for _, pattern := range globs {
		if ok, _ := doublestar.Match(pattern, file); ok {
			return true
		}
		if file == pattern {
			return true
		}
	}
	return false
}

func checkApplies(repoPath, diff string) (bool, string) {
	f, err := os.CreateTemp("", "*.patch")
	if err != nil {
		return false, err.Error()
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(diff); err != nil {
		f.Close()
		return false, err.Error()
	}
	f.Close()

	cmd := exec.Command("git", "apply", "--check", f.Name())
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, strings.TrimSpace(string(out))
	}
	return true, ""
}

// Applicator applies validated patches to a workspace.
type Applicator struct {
	RepoPath string
}

// Apply applies diff via `git apply`.
func (a Applicator) Apply(diff string) Result {
	if strings.TrimSpace(diff) == "" {
		return Result{Success: false, ErrorMessage: "empty patch"}
	}
	stats := diffstat.Parse(diff)

	f, err := os.CreateTemp("", "*.patch")
	if err != nil {
		return Result{Success: false, Stats: stats, ErrorMessage: err.Error()}
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(diff); err != nil {
		f.Close()
		return Result{Success: false, Stats: stats, ErrorMessage: err.Error()}
	}
	f.Close()

	cmd := exec.Command("git", "apply", f.Name())
	cmd.Dir = a.RepoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Result{Success: false, Stats: stats, ErrorMessage: strings.TrimSpace(string(out))}
	}
	return Result{Success: true, Stats: stats}
}

// ApplyWithFallback tries `git apply` first; if that fails, it falls
// back to a hand-rolled hunk applicator for simple unified diffs.
func (a Applicator) ApplyWithFallback(diff string) Result {
	result := a.Apply(diff)
	if result.Success {
		return result
	}
	return a.applyFallback(diff)
}

// Revert reverses a previously applied patch via `git apply --reverse`.
func (a Applicator) Revert(diff string) Result {
	f, err := os.CreateTemp("", "*.patch")
	if err != nil {
		return Result{Success: false, ErrorMessage: err.Error()}
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(diff); err != nil {
		f.Close()
		return Result{Success: false, ErrorMessage: err.Error()}
	}
	f.Close()

	cmd := exec.Command("git", "apply", "--reverse", f.Name())
	cmd.Dir = a.RepoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Result{Success: false, ErrorMessage: strings.TrimSpace(string(out))}
	}
	return Result{Success: true}
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

type hunk struct {
	oldStart int
	oldLines []string
	newLines []string
}

// applyFallback parses @@ -os[,oc] +ns[,nc] @@ hunks directly and
// mutates files in place. Hunks for a given file are applied bottom-up
// (sorted by descending old start line) so earlier line numbers in the
// file stay valid as later hunks shift content. New files (no
// preexisting path) are written from their '+' lines alone.
func (a Applicator) applyFallback(diff string) Result {
	stats := diffstat.Parse(diff)

	hunksByFile := make(map[string][]hunk)
	var currentFile string

	lines := strings.Split(diff, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]

		if strings.HasPrefix(line, "+++ b/") {
			currentFile = strings.TrimPrefix(line, "+++ b/")
			i++
			continue
		}

		if strings.HasPrefix(line, "@@") && currentFile != "" {
			if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
				oldStart := atoiOr(m[1], 1)
				var h hunk
				h.oldStart = oldStart
				i++
				for i < len(lines) {
					hl := lines[i]
					if strings.HasPrefix(hl, "@@") || strings.HasPrefix(hl, "diff ") {
						break
					}
					switch {
					case strings.HasPrefix(hl, "-"):
						h.oldLines = append(h.oldLines, hl[1:])
					case strings.HasPrefix(hl, "+"):
						h.newLines = append(h.newLines, hl[1:])
					case strings.HasPrefix(hl, " "):
						h.oldLines = append(h.oldLines, hl[1:])
						h.newLines = append(h.newLines, hl[1:])
					}
					i++
				}
				hunksByFile[currentFile] = append(hunksByFile[currentFile], h)
				continue
			}
		}

		i++
	}

	for file, hunks := range hunksByFile {
		fullPath := filepath.Join(a.RepoPath, file)

		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			var content []string
			for _, h := range hunks {
				content = append(content, h.newLines...)
			}
			if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
				return Result{Success: false, Stats: stats, ErrorMessage: err.Error()}
			}
			if err := os.WriteFile(fullPath, []byte(strings.Join(content, "\n")), 0644); err != nil {
				return Result{Success: false, Stats: stats, ErrorMessage: err.Error()}
			}
			continue
		}

		data, err := os.ReadFile(fullPath)
		if err != nil {
			return Result{Success: false, Stats: stats, ErrorMessage: err.Error()}
		}
		original := splitKeepingLines(string(data))

		sortHunksDescending(hunks)

		for _, h := range hunks {
			idx := h.oldStart - 1
			for range h.oldLines {
				if idx < len(original) {
					original = append(original[:idx], original[idx+1:]...)
				}
			}
			for j, newLine := range h.newLines {
				insertAt := idx + j
				original = insertLine(original, insertAt, newLine+"\n")
			}
		}

		if err := os.WriteFile(fullPath, []byte(strings.Join(original, "")), 0644); err != nil {
			return Result{Success: false, Stats: stats, ErrorMessage: err.Error()}
		}
	}

	return Result{Success: true, Stats: stats}
}

func sortHunksDescending(hunks []hunk) {
	for i := 1; i < len(hunks); i++ {
		for j := i; j > 0 && hunks[j-1].oldStart < hunks[j].oldStart; j-- {
			hunks[j-1], hunks[j] = hunks[j], hunks[j-1]
		}
	}
}

func insertLine(lines []string, at int, line string) []string {
	if at >= len(lines) {
		return append(lines, line)
	}
	lines = append(lines, "")
	copy(lines[at+1:], lines[at:])
	lines[at] = line
	return lines
}

func splitKeepingLines(content string) []string {
	if content == "" {
		return nil
	}
	var lines []string
	for _, part := range strings.SplitAfter(content, "\n") {
		if part == "" {
			continue
		}
		lines = append(lines, part)
	}
	return lines
}

func atoiOr(s string, fallback int) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
