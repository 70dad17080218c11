// Package contextpack assembles bounded prompt payloads for each agent
// role under three simultaneous budgets (characters, file-excerpt
// lines, ledger entries), ported from the original ContextPackBuilder
// so earlier sections crowd out later ones as the budget tightens.
package contextpack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GTWhalley/Refactorio/internal/config"
	"github.com/GTWhalley/Refactorio/internal/indexer/deps"
	"github.com/GTWhalley/Refactorio/internal/indexer/symbols"
	"github.com/GTWhalley/Refactorio/internal/ledger"
	"github.com/GTWhalley/Refactorio/internal/model"
)

// Budget tracks context budget usage across three dimensions shared by
// every section a pack builds, so that once one dimension is exhausted
// no later section can still add content in that dimension.
type Budget struct {
	MaxChars        int
	MaxFileLines    int
	MaxLedgerEntries int

	usedChars     int
	usedFileLines int
}

// NewBudget builds a Budget from the run configuration.
func NewBudget(cfg *config.Config) *Budget {
	return &Budget{
		MaxChars:         cfg.MaxPromptChars,
		MaxFileLines:     cfg.MaxFileExcerptLines,
		MaxLedgerEntries: cfg.MaxLedgerEntries,
	}
}

// RemainingChars reports how many characters remain in the budget.
func (b *Budget) RemainingChars() int { return b.MaxChars - b.usedChars }

// RemainingFileLines reports how many excerpt lines remain in the budget.
func (b *Budget) RemainingFileLines() int { return b.MaxFileLines - b.usedFileLines }

// CanAddChars reports whether n more characters would still fit.
func (b *Budget) CanAddChars(n int) bool { return b.usedChars+n <= b.MaxChars }

// CanAddLines reports whether n more excerpt lines would still fit.
func (b *Budget) CanAddLines(n int) bool { return b.usedFileLines+n <= b.MaxFileLines }

// AddChars consumes n characters from the budget if they fit, reporting
// whether the add succeeded.
func (b *Budget) AddChars(n int) bool {
	if !b.CanAddChars(n) {
		return false
	}
	b.usedChars += n
	return true
}

// AddLines consumes n excerpt lines from the budget if they fit.
func (b *Budget) AddLines(n int) bool {
	if !b.CanAddLines(n) {
		return false
	}
	b.usedFileLines += n
	return true
}

// Builder builds role-specific context packs for one repository under
// one configuration, optionally informed by a symbol registry,
// dependency graph, and ledger.
type Builder struct {
	RepoPath string
	Config   *config.Config
	Symbols  *model.SymbolRegistry
	Deps     *model.DependencyGraph
	Ledger   *ledger.Ledger
}

func (b *Builder) budget() *Budget { return NewBudget(b.Config) }

// scopeFiles resolves a batch's scope_globs to concrete repo-relative
// file paths: literal paths that exist are taken as-is, everything else
// is matched as a glob ("**" included) against the indexed file set.
func (b *Builder) scopeFiles(scopeGlobs []string) []string {
	var matched []string
	seen := make(map[string]bool)

	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			matched = append(matched, path)
		}
	}

	for _, pattern := range scopeGlobs {
		full := filepath.Join(b.RepoPath, pattern)
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			add(pattern)
			continue
		}
		if b.Symbols == nil {
			continue
		}
		for _, f := range b.Symbols.Files {
			if ok, _ := doublestar.Match(pattern, f.RelativePath); ok {
				add(f.RelativePath)
				continue
			}
			if ok, _ := doublestar.Match(strings.ReplaceAll(pattern, "**", "*"), f.RelativePath); ok {
				add(f.RelativePath)
			}
		}
	}
	return matched
}

func (b *Builder) readFullFile(path string, budget *Budget) string {
	full := filepath.Join(b.RepoPath, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return ""
	}
	content := string(data)
	block := fmt.Sprintf("### %s\n```\n%s\n```", path, content)

	lineCount := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		lineCount++
	}
	if !budget.CanAddLines(lineCount) {
		return ""
	}

	if budget.CanAddChars(len(block)) {
		budget.AddChars(len(block))
		budget.AddLines(lineCount)
		return block
	}

	available := budget.RemainingChars() - 100
	if available > 500 {
		truncated := content[:available]
		truncBlock := fmt.Sprintf("### %s (truncated)\n```\n%s\n[...truncated...]\n```", path, truncated)
		budget.AddChars(len(truncBlock))
		return truncBlock
	}
	return ""
}

func (b *Builder) recentLedgerSection(budget *Budget) string {
	if b.Ledger == nil {
		return ""
	}
	entries := b.Ledger.Recent(b.Config.MaxLedgerEntries)
	if len(entries) == 0 {
		return ""
	}

	lines := []string{"Recent refactoring activity:"}
	for _, e := range entries {
		summary := fmt.Sprintf("  - [%s] %s: %s", e.BatchID, e.Status, e.Goal)
		if budget.CanAddChars(len(summary)) {
			lines = append(lines, summary)
			budget.AddChars(len(summary))
		} else {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// BuildPlannerContext assembles the planner pack: intro, architecture
// snapshot, codebase stats, hotspot list, serialized naive plan.
func (b *Builder) BuildPlannerContext(plan model.Plan, architectureSnapshot string) string {
	budget := b.budget()
	var sections []string

	intro := fmt.Sprintf(
		"You are refining a refactoring plan for a codebase. Review the naive "+
			"plan below and improve it by:\n"+
			"- Reordering batches for safety (lowest risk first)\n"+
			"- Combining or splitting batches as appropriate\n"+
			"- Ensuring each batch is atomic and verifiable\n"+
			"- Adding any missed opportunities for improvement\n\n"+
			"Constraints:\n"+
			"- Maximum batches: %d\n"+
			"- Maximum LOC per batch: %d\n"+
			"- Public API changes allowed: %t\n",
		b.Config.MaxBatches, b.Config.DiffBudgetLOC, b.Config.AllowPublicAPIChanges)
	sections = append(sections, intro)
	budget.AddChars(len(intro))

	if architectureSnapshot != "" && budget.CanAddChars(len(architectureSnapshot)) {
		sections = append(sections, "## Architecture Overview\n"+architectureSnapshot)
		budget.AddChars(len(architectureSnapshot))
	}

	if b.Symbols != nil {
		stats := fmt.Sprintf("## Codebase Statistics\n- Files indexed: %d\n- Symbols found: %d\n",
			b.Symbols.FileCount, b.Symbols.SymbolCount)
		sections = append(sections, stats)
		budget.AddChars(len(stats))
	}

	if b.Deps != nil {
		hotspots := deps.Hotspots(*b.Deps, 3)
		if len(hotspots) > 10 {
			hotspots = hotspots[:10]
		}
		if len(hotspots) > 0 {
			lines := []string{"## High-Impact Files (many dependents)"}
			for _, node := range hotspots {
				lines = append(lines, fmt.Sprintf("- %s (fan-in: %d)", node.Path, node.FanIn()))
			}
			text := strings.Join(lines, "\n")
			sections = append(sections, text)
			budget.AddChars(len(text))
		}
	}

	planJSON, _ := json.MarshalIndent(plan, "", "  ")
	if budget.CanAddChars(len(planJSON)) {
		sections = append(sections, "## Naive Plan\n```json\n"+string(planJSON)+"\n```")
		budget.AddChars(len(planJSON))
	}

	return strings.Join(sections, "\n\n")
}

// BuildPatcherContext assembles the patcher pack: the batch record,
// the full content of every in-scope file (or a truncation note), the
// ledger tail, and brief summaries of the last three completed batches.
func (b *Builder) BuildPatcherContext(batch model.Batch, previousBatches []model.Batch) string {
	budget := b.budget()
	var sections []string

	batchInfo := fmt.Sprintf(
		"## Current Batch: %s\nGoal: %s\nScope: %s\nAllowed operations: %s\n"+
			"Diff budget: %d lines\nNotes: %s\n\n"+
			"Generate a unified diff patch that accomplishes this goal. "+
			"If uncertain or if changes would exceed scope, return status='noop'.",
		batch.ID, batch.Goal, strings.Join(batch.ScopeGlobs, ", "),
		strings.Join(batch.AllowedOperations, ", "), batch.DiffBudgetLOC, batch.Notes)
	sections = append(sections, batchInfo)
	budget.AddChars(len(batchInfo))

	scopeFiles := b.scopeFiles(batch.ScopeGlobs)
	sections = append(sections, fmt.Sprintf("## Files in Scope (%d files)", len(scopeFiles)))

	for _, path := range scopeFiles {
		if block := b.readFullFile(path, budget); block != "" {
			sections = append(sections, block)
		} else {
			sections = append(sections, fmt.Sprintf("[File %s truncated due to context limits]", path))
		}
	}

	if ledgerInfo := b.recentLedgerSection(budget); ledgerInfo != "" {
		sections = append(sections, ledgerInfo)
	}

	if len(previousBatches) > 0 {
		tail := previousBatches
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		lines := []string{"## Previous Batches"}
		for _, prev := range tail {
			lines = append(lines, fmt.Sprintf("- [%s] %s: %s", prev.ID, prev.Status, prev.Goal))
		}
		text := strings.Join(lines, "\n")
		if budget.CanAddChars(len(text)) {
			sections = append(sections, text)
		}
	}

	return strings.Join(sections, "\n\n")
}

// BuildCriticContext assembles the critic pack: review instructions
// enumerating the five decisions, the batch record, and the candidate
// unified diff.
func (b *Builder) BuildCriticContext(batch model.Batch, patchDiff string) string {
	budget := b.budget()
	var sections []string

	instructions := "## Patch Review\n" +
		"Review the following patch and determine if it should be applied.\n\n" +
		"Decide:\n" +
		"- 'accept': Patch is good, apply it\n" +
		"- 'reject': Patch is bad, do not apply\n" +
		"- 'shrink_scope': Patch is too broad, needs smaller scope\n" +
		"- 'shrink_diff': Patch touches too many lines, needs reduction\n" +
		"- 'noop': No changes needed, skip this batch\n"
	sections = append(sections, instructions)
	budget.AddChars(len(instructions))

	batchInfo := fmt.Sprintf("## Batch: %s\nGoal: %s\nAllowed operations: %s\nDiff budget: %d lines\n",
		batch.ID, batch.Goal, strings.Join(batch.AllowedOperations, ", "), batch.DiffBudgetLOC)
	sections = append(sections, batchInfo)
	budget.AddChars(len(batchInfo))

	if budget.CanAddChars(len(patchDiff)) {
		sections = append(sections, "## Proposed Patch\n```diff\n"+patchDiff+"\n```")
		budget.AddChars(len(patchDiff))
	}

	return strings.Join(sections, "\n\n")
}

// BuildSecurityContext assembles the security pack: changed-file
// contents under a fixed 2000-line budget (independent of the shared
// prompt-chars budget, matching the original reviewer's own cap), plus
// a fixed set of review instructions.
func (b *Builder) BuildSecurityContext(changedFiles []string, contextSummary string) string {
	const maxLines = 2000
	totalLines := 0

	var parts []string
	parts = append(parts, "# Security Review Request\n")

	if contextSummary != "" {
		parts = append(parts, fmt.Sprintf("## Context\n%s\n", contextSummary))
	}

	parts = append(parts, "## Changed Files\n")
	parts = append(parts, fmt.Sprintf("Total files to review: %d\n", len(changedFiles)))

	for _, path := range changedFiles {
		full := filepath.Join(b.RepoPath, path)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		content := string(data)
		lines := strings.Split(content, "\n")

		if totalLines+len(lines) > maxLines {
			remaining := maxLines - totalLines
			if remaining > 50 {
				truncated := strings.Join(lines[:remaining], "\n")
				parts = append(parts, fmt.Sprintf("\n### %s (truncated)\n```\n%s\n```\n", path, truncated))
				totalLines = maxLines
			}
			break
		}

		parts = append(parts, fmt.Sprintf("\n### %s\n```\n%s\n```\n", path, content))
		totalLines += len(lines)
	}

	parts = append(parts, "\n## Instructions\n")
	parts = append(parts, "Review the above code changes for security vulnerabilities. "+
		"Focus on:\n"+
		"- Injection vulnerabilities (SQL, command, XSS)\n"+
		"- Authentication and authorization issues\n"+
		"- Data exposure and sensitive data handling\n"+
		"- Cryptographic weaknesses\n"+
		"- Input validation issues\n"+
		"- Race conditions\n"+
		"\nReturn your findings in the required JSON schema format.")

	return strings.Join(parts, "\n")
}
