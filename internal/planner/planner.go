// Package planner generates the ordered batch list that drives a run,
// in two stages: a deterministic heuristic pass and an optional LLM
// refinement that the planner discards on any sign of trouble.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GTWhalley/Refactorio/internal/agent"
	"github.com/GTWhalley/Refactorio/internal/config"
	"github.com/GTWhalley/Refactorio/internal/contextpack"
	"github.com/GTWhalley/Refactorio/internal/ids"
	"github.com/GTWhalley/Refactorio/internal/indexer/deps"
	"github.com/GTWhalley/Refactorio/internal/model"
)

// Allowed batch operations, mirroring the original's BatchOperation enum.
const (
	OpFormat              = "format"
	OpRemoveUnusedImports = "remove_unused_imports"
	OpRemoveDeadCode      = "remove_dead_code"
	OpRename              = "rename"
	OpExtractFunction     = "extract_function"
	OpAddTypes            = "add_types"
	OpRefactorInternal    = "refactor_internal"
)

var formattableLanguages = map[string]bool{
	"python": true, "javascript": true, "typescript": true, "rust": true,
	"go": true, "java": true, "gdscript": true, "c": true, "cpp": true,
	"csharp": true, "swift": true, "kotlin": true, "ruby": true,
	"php": true, "lua": true, "shell": true, "bash": true,
}

var importCleanupLanguages = map[string]bool{
	"python": true, "javascript": true, "typescript": true,
}

var languageExtensions = map[string]string{
	"python": "py", "javascript": "js", "typescript": "ts", "rust": "rs",
	"go": "go", "java": "java", "gdscript": "gd", "c": "c", "cpp": "cpp",
	"csharp": "cs", "swift": "swift", "kotlin": "kt", "ruby": "rb",
	"php": "php", "lua": "lua", "shell": "sh", "bash": "bash",
}

// Planner generates a Plan from a symbol registry, dependency graph,
// and configuration.
type Planner struct {
	RepoPath string
	Config   *config.Config
	Symbols  *model.SymbolRegistry
	Deps     *model.DependencyGraph

	seq ids.BatchIDSequence
}

// estimateRisk implements the hotspot risk formula from §4.6:
// risk=20 if Σfan_in≤5; 50 if ≤20; otherwise min(80, 50+Σfan_in).
func (p *Planner) estimateRisk(files []string) int {
	if p.Deps == nil {
		return 50
	}
	totalFanIn := 0
	for _, f := range files {
		if node, ok := p.Deps.Nodes[f]; ok {
			totalFanIn += node.FanIn()
		}
	}
	switch {
	case totalFanIn <= 5:
		return 20
	case totalFanIn <= 20:
		return 50
	default:
		risk := 50 + totalFanIn
		if risk > 80 {
			risk = 80
		}
		return risk
	}
}

func (p *Planner) filesByLanguage() map[string][]string {
	byLang := make(map[string][]string)
	if p.Symbols == nil {
		return byLang
	}
	for _, f := range p.Symbols.Files {
		lang := f.Language
		if lang == "" {
			lang = "unknown"
		}
		byLang[lang] = append(byLang[lang], f.RelativePath)
	}
	return byLang
}

// GenerateNaivePlan produces the 4-stage deterministic plan from §4.6:
// formatting, import/dead-code cleanup, hotspot targeting, leaf
// grouping — sorted ascending by risk and capped to max_batches.
func (p *Planner) GenerateNaivePlan() model.Plan {
	var batches []model.Batch
	byLang := p.filesByLanguage()

	if p.Config.AllowFormattingOnly {
		for lang, files := range byLang {
			if len(files) > 0 && formattableLanguages[lang] {
				ext := languageExtensions[lang]
				if ext == "" {
					ext = "*"
				}
				batches = append(batches, model.Batch{
					ID:                p.seq.Next(),
					Goal:              "Format all " + lang + " files",
					ScopeGlobs:        []string{"**/*." + ext},
					AllowedOperations: []string{OpFormat},
					DiffBudgetLOC:     100,
					RiskScore:         5,
					VerifierLevel:     model.VerifierFast,
					Notes:             "Formatting only - no logic changes",
					Status:            model.BatchPending,
				})
			}
		}
	}

	for lang, files := range byLang {
		if len(files) > 0 && importCleanupLanguages[lang] {
			ext := languageExtensions[lang]
			batches = append(batches, model.Batch{
				ID:                p.seq.Next(),
				Goal:              "Remove unused imports in " + lang + " files",
				ScopeGlobs:        []string{"**/*." + ext},
				AllowedOperations: []string{OpRemoveUnusedImports, OpRemoveDeadCode},
				DiffBudgetLOC:     150,
				RiskScore:         15,
				VerifierLevel:     model.VerifierFast,
				Notes:             "Safe removal of clearly unused code",
				Status:            model.BatchPending,
			})
		}
	}

	if p.Deps != nil {
		hotspots := deps.Hotspots(*p.Deps, 3)
		if len(hotspots) > 5 {
			hotspots = hotspots[:5]
		}
		for _, node := range hotspots {
			batches = append(batches, model.Batch{
				ID:                p.seq.Next(),
				Goal:              "Review and potentially refactor high-impact file: " + node.Path,
				ScopeGlobs:        []string{node.Path},
				AllowedOperations: []string{OpRename, OpExtractFunction, OpAddTypes},
				DiffBudgetLOC:     p.Config.DiffBudgetLOC,
				RiskScore:         p.estimateRisk([]string{node.Path}),
				VerifierLevel:     model.VerifierFull,
				Notes:             "High fan-in: many files depend on this",
				Status:            model.BatchPending,
			})
		}

		leaves := deps.Leaves(*p.Deps)
		if len(leaves) > 0 {
			paths := make([]string, 0, 10)
			for i, n := range leaves {
				if i >= 10 {
					break
				}
				paths = append(paths, n.Path)
			}
			batches = append(batches, model.Batch{
				ID:                p.seq.Next(),
				Goal:              "Refactor leaf modules (no dependents)",
				ScopeGlobs:        paths,
				AllowedOperations: []string{OpRename, OpExtractFunction, OpRefactorInternal},
				DiffBudgetLOC:     p.Config.DiffBudgetLOC,
				RiskScore:         20,
				VerifierLevel:     model.VerifierFast,
				Notes:             "Safe to modify - no other files depend on these",
				Status:            model.BatchPending,
			})
		}
	}

	sortByRiskAscending(batches)

	if len(batches) > p.Config.MaxBatches {
		batches = batches[:p.Config.MaxBatches]
	}
	for i := range batches {
		if batches[i].DiffBudgetLOC > p.Config.DiffBudgetLOC {
			batches[i].DiffBudgetLOC = p.Config.DiffBudgetLOC
		}
	}

	// The naive stage never sets Dependencies, so this is a no-op in
	// practice; it is here so the invariant holds regardless of source.
	if ordered, err := ValidateAndOrderBatches(batches); err == nil {
		batches = ordered
	}

	return model.Plan{Batches: batches}
}

// ValidateAndOrderBatches checks a batch list against the precedence
// invariant ("if b.dependencies references b', then b' precedes b"):
// every dependency must reference a known batch id, batch ids must be
// unique, and the dependency graph must be acyclic. On success it
// returns a stable topological reordering (dependencies-first,
// otherwise preserving input order) rather than the input slice
// itself. On any violation it returns the input slice unchanged
// alongside a non-nil error so the caller can reject the plan.
func ValidateAndOrderBatches(batches []model.Batch) ([]model.Batch, error) {
	byID := make(map[string]model.Batch, len(batches))
	for _, b := range batches {
		if _, dup := byID[b.ID]; dup {
			return batches, fmt.Errorf("duplicate batch id %q", b.ID)
		}
		byID[b.ID] = b
	}
	for _, b := range batches {
		for _, dep := range b.Dependencies {
			if _, ok := byID[dep]; !ok {
				return batches, fmt.Errorf("batch %q depends on unknown batch %q", b.ID, dep)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(batches))
	ordered := make([]model.Batch, 0, len(batches))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range byID[id].Dependencies {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle detected: %s -> %s", id, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		ordered = append(ordered, byID[id])
		return nil
	}

	for _, b := range batches {
		if color[b.ID] == white {
			if err := visit(b.ID); err != nil {
				return batches, err
			}
		}
	}

	return ordered, nil
}

func sortByRiskAscending(batches []model.Batch) {
	for i := 1; i < len(batches); i++ {
		for j := i; j > 0 && batches[j-1].RiskScore > batches[j].RiskScore; j-- {
			batches[j-1], batches[j] = batches[j], batches[j-1]
		}
	}
}

// RefineWithLLM calls the planner role of the agent driver to reorder,
// combine, split, or extend the naive plan. Per §4.6/§9, a malformed
// or out-of-cap response is discarded and the naive plan stands; this
// is an ordering optimization, not a safety boundary.
func (p *Planner) RefineWithLLM(ctx context.Context, driver *agent.Driver, naive model.Plan, architectureSnapshot string) model.Plan {
	builder := &contextpack.Builder{
		RepoPath: p.RepoPath,
		Config:   p.Config,
		Symbols:  p.Symbols,
		Deps:     p.Deps,
	}
	prompt := builder.BuildPlannerContext(naive, architectureSnapshot)

	resp := driver.CallPlanner(ctx, prompt)
	if !resp.Success || resp.StructuredOutput == nil {
		return naive
	}

	refined, ok := parseRefinedPlan(resp.StructuredOutput)
	if !ok {
		return naive
	}

	if len(refined.Batches) > p.Config.MaxBatches {
		return naive
	}
	for i := range refined.Batches {
		if refined.Batches[i].DiffBudgetLOC > p.Config.DiffBudgetLOC {
			return naive
		}
	}

	return refined
}

// parseRefinedPlan decodes the agent's planner-role response and
// enforces the precedence invariant on it: an unknown dependency
// reference or a cycle discards the refined plan entirely (the naive
// plan stands), per §4.6/§9 — refinement is an ordering optimization,
// not a safety boundary.
func parseRefinedPlan(structured map[string]any) (model.Plan, bool) {
	raw, err := json.Marshal(structured)
	if err != nil {
		return model.Plan{}, false
	}
	var plan model.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return model.Plan{}, false
	}
	if len(plan.Batches) == 0 {
		return model.Plan{}, false
	}
	for _, b := range plan.Batches {
		if b.ID == "" || b.DiffBudgetLOC <= 0 {
			return model.Plan{}, false
		}
	}

	ordered, err := ValidateAndOrderBatches(plan.Batches)
	if err != nil {
		return model.Plan{}, false
	}
	plan.Batches = ordered

	return plan, true
}
