// Package report generates the end-of-run JSON report described by
// §6, plus a colorized terminal summary for interactive use.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/GTWhalley/Refactorio/internal/ledger"
	"github.com/GTWhalley/Refactorio/internal/model"
	"github.com/GTWhalley/Refactorio/internal/security"
)

// BatchCounts summarizes how many batches landed in each terminal state.
type BatchCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Noop      int `json:"noop"`
}

// Changes summarizes the net diff produced across the whole run.
type Changes struct {
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`
	FilesTouched []string `json:"files_touched"`
}

// SecuritySection is the optional §6 addendum field, present only when
// a security pass ran.
type SecuritySection struct {
	OverallRisk security.OverallRisk `json:"overall_risk"`
	Summary     security.Summary    `json:"summary"`
	Findings    []security.Finding  `json:"findings"`
}

// Report is the end-of-run JSON document from §6.
type Report struct {
	RunID        string          `json:"run_id"`
	RepoPath     string          `json:"repo_path"`
	RepoName     string          `json:"repo_name"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	DurationS    float64         `json:"duration_s"`
	Batches      BatchCounts     `json:"batches"`
	Changes      Changes         `json:"changes"`
	BackupPath   string          `json:"backup_path"`
	WorktreePath string          `json:"worktree_path"`
	FinalCommit  string          `json:"final_commit,omitempty"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	Security     *SecuritySection `json:"security,omitempty"`
}

// Generator builds a Report from a run's ledger and plan.
type Generator struct {
	RunID    string
	RepoPath string
	RepoName string
	Ledger   *ledger.Ledger
	Plan     model.Plan
}

// Generate produces the final Report.
func (g *Generator) Generate(startedAt time.Time, backupPath, worktreePath, finalCommit, errMsg string) Report {
	completedAt := time.Now()
	stats := g.Ledger.Statistics()

	filesTouched := make(map[string]bool)
	for _, e := range g.Ledger.Entries() {
		if e.Status == ledger.StatusCompleted {
			for _, f := range e.FilesTouched {
				filesTouched[f] = true
			}
		}
	}
	sortedFiles := make([]string, 0, len(filesTouched))
	for f := range filesTouched {
		sortedFiles = append(sortedFiles, f)
	}
	sort.Strings(sortedFiles)

	total := len(g.Plan.Batches)
	if total == 0 {
		total = stats.TotalBatches
	}

	return Report{
		RunID:       g.RunID,
		RepoPath:    g.RepoPath,
		RepoName:    g.RepoName,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationS:   completedAt.Sub(startedAt).Seconds(),
		Batches: BatchCounts{
			Total:     total,
			Completed: stats.Completed,
			Failed:    stats.Failed,
			Skipped:   stats.Skipped,
			Noop:      stats.Noop,
		},
		Changes: Changes{
			LinesAdded:   stats.TotalLinesAdded,
			LinesRemoved: stats.TotalLinesRemoved,
			FilesTouched: sortedFiles,
		},
		BackupPath:   backupPath,
		WorktreePath: worktreePath,
		FinalCommit:  finalCommit,
		Success:      stats.Failed == 0 && errMsg == "",
		Error:        errMsg,
	}
}

// WithSecurity attaches a security section to a report.
func WithSecurity(r Report, result security.Result) Report {
	if result.Success {
		r.Security = &SecuritySection{
			OverallRisk: result.OverallRisk,
			Summary:     result.Summary,
			Findings:    result.Findings,
		}
	}
	return r
}

// Save persists the report as indented JSON.
func Save(r Report, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// PrintTerminal writes a colorized human-readable summary to stdout,
// generalizing the teacher's raw ANSI color constants into
// fatih/color-backed helpers.
func PrintTerminal(r Report) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Println(cyan("=== Refactoring Report ==="))
	fmt.Printf("Run ID:      %s\n", r.RunID)
	fmt.Printf("Repository:  %s\n", r.RepoName)
	fmt.Printf("Duration:    %.1fs\n", r.DurationS)
	fmt.Println()
	fmt.Printf("Batches:     total=%d %s=%d %s=%d skipped=%d noop=%d\n",
		r.Batches.Total, green("completed"), r.Batches.Completed,
		red("failed"), r.Batches.Failed, r.Batches.Skipped, r.Batches.Noop)
	fmt.Printf("Changes:     +%d / -%d across %d files\n",
		r.Changes.LinesAdded, r.Changes.LinesRemoved, len(r.Changes.FilesTouched))
	fmt.Printf("Backup:      %s\n", r.BackupPath)
	fmt.Printf("Worktree:    %s\n", r.WorktreePath)

	if r.Security != nil {
		fmt.Println()
		riskColor := yellow
		if r.Security.OverallRisk == security.RiskCritical || r.Security.OverallRisk == security.RiskHigh {
			riskColor = red
		} else if r.Security.OverallRisk == security.RiskNone || r.Security.OverallRisk == security.RiskLow {
			riskColor = green
		}
		fmt.Printf("Security:    risk=%s findings=%d (high=%d medium=%d low=%d info=%d)\n",
			riskColor(string(r.Security.OverallRisk)), r.Security.Summary.Total(),
			r.Security.Summary.High, r.Security.Summary.Medium, r.Security.Summary.Low, r.Security.Summary.Info)
	}

	fmt.Println()
	if r.Success {
		fmt.Println(green("STATUS: SUCCESS"))
	} else {
		fmt.Println(red("STATUS: FAILED"))
		if r.Error != "" {
			fmt.Printf("Error: %s\n", r.Error)
		}
	}
}

// Load reads a previously saved report.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}
