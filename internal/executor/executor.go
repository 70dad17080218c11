// Package executor drives the per-batch state machine that ties the
// workspace, agent driver, patch engine, verifier, and ledger together
// into a single run.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GTWhalley/Refactorio/internal/agent"
	"github.com/GTWhalley/Refactorio/internal/backup"
	"github.com/GTWhalley/Refactorio/internal/config"
	"github.com/GTWhalley/Refactorio/internal/contextpack"
	"github.com/GTWhalley/Refactorio/internal/ids"
	"github.com/GTWhalley/Refactorio/internal/indexer/deps"
	"github.com/GTWhalley/Refactorio/internal/indexer/symbols"
	"github.com/GTWhalley/Refactorio/internal/ledger"
	"github.com/GTWhalley/Refactorio/internal/model"
	"github.com/GTWhalley/Refactorio/internal/patch"
	"github.com/GTWhalley/Refactorio/internal/planner"
	"github.com/GTWhalley/Refactorio/internal/rerr"
	"github.com/GTWhalley/Refactorio/internal/runlog"
	"github.com/GTWhalley/Refactorio/internal/security"
	"github.com/GTWhalley/Refactorio/internal/verifier"
	"github.com/GTWhalley/Refactorio/internal/workspace"
)

// BatchObserver is notified as a batch moves through its lifecycle.
// Observers are advisory only; never use them to infer ledger ordering.
type BatchObserver func(batchID string, status model.BatchStatus, detail string)

// Executor runs an entire refactoring session against one repository.
type Executor struct {
	RepoPath   string
	HomeDir    string
	Config     *config.Config
	PromptsDir string
	SchemasDir string

	Observer    BatchObserver
	Activity    func(agent.Activity)
	SkipBackup  bool
	DryRun      bool

	runID     string
	repo      model.Repository
	ws        *workspace.Workspace
	ledger    *ledger.Ledger
	log       *runlog.Manager
	driver    *agent.Driver
	symbols   model.SymbolRegistry
	depGraph  model.DependencyGraph
	backupInfo backup.Info
	completed []model.Batch

	stopRequested bool
}

// Result is what the executor returns after a run completes, is
// cancelled, or aborts.
type Result struct {
	RunID        string
	Plan         model.Plan
	Ledger       *ledger.Ledger
	BackupPath   string
	WorktreePath string
	FinalCommit  string
	Security     *security.Result
	AbortError   error
}

// RequestStop sets the cooperative stop flag checked between batches.
// If an agent call is currently in flight, it is also cancelled.
func (e *Executor) RequestStop() {
	e.stopRequested = true
	if e.driver != nil {
		e.driver.Cancel()
	}
}

func (e *Executor) notify(batchID string, status model.BatchStatus, detail string) {
	if e.Observer != nil {
		e.Observer(batchID, status, detail)
	}
}

// record takes the error returned by a ledger write and logs (rather
// than propagates) it — a lost ledger write must never abort an
// in-flight batch, since the batch's own outcome has already been decided.
func (e *Executor) record(action string, err error) {
	if err != nil {
		e.log.Printf("ledger write failed (%s): %v", action, err)
	}
}

// Run executes the full pre-run sequence followed by every batch in
// the generated plan, per the per-batch state machine.
func (e *Executor) Run(ctx context.Context) (Result, error) {
	if errs := config.Validate(e.Config); len(errs) > 0 {
		return Result{}, rerr.Wrap(rerr.ConfigInvalid, "configuration failed validation", errs[0])
	}

	runID, err := ids.NewRunID(time.Now())
	if err != nil {
		return Result{}, rerr.Wrap(rerr.WorkspaceFailure, "generating run id", err)
	}
	e.runID = runID

	repoName := filepath.Base(filepath.Clean(e.RepoPath))
	e.repo = model.Repository{Path: e.RepoPath, Name: repoName, IsVCS: workspace.DetectVCS(e.RepoPath)}

	if !e.SkipBackup {
		mgr := backup.Manager{RepoPath: e.RepoPath, RunID: runID, BackupsDir: filepath.Join(e.HomeDir, "backups")}
		info, err := mgr.Create()
		if err != nil {
			return Result{}, rerr.Wrap(rerr.BackupFailure, "creating backup", err)
		}
		e.backupInfo = info
	}

	worktreeDir := filepath.Join(e.HomeDir, "worktrees", runID)
	e.ws = workspace.New(runID, e.RepoPath, worktreeDir, e.repo.IsVCS)
	if err := e.ws.Create(); err != nil {
		return Result{}, rerr.Wrap(rerr.WorkspaceFailure, "creating workspace", err)
	}

	e.log = runlog.New(e.ws.Dir())
	defer e.log.Close()

	e.log.Printf("run %s started for %s", runID, e.RepoPath)

	v := verifier.New(e.ws.Dir(), e.Config)
	baseline, err := v.RunBaseline(ctx)
	if err != nil {
		return Result{}, rerr.Wrap(rerr.WorkspaceFailure, "saving baseline verification", err)
	}
	if !baseline.Passed() {
		return Result{}, rerr.New(rerr.BaselineRed, "baseline verification failed; refusing to run against a red baseline")
	}

	symExtractor := symbols.NewExtractor(e.ws.Dir(), e.Config.ScopeExcludes)
	symReg, err := symExtractor.Index()
	if err != nil {
		return Result{}, rerr.Wrap(rerr.WorkspaceFailure, "indexing symbols", err)
	}
	e.symbols = symReg

	depAnalyzer := deps.NewAnalyzer(e.ws.Dir(), e.Config.ScopeExcludes)
	depGraph, err := depAnalyzer.Analyze()
	if err != nil {
		return Result{}, rerr.Wrap(rerr.WorkspaceFailure, "analyzing dependencies", err)
	}
	e.depGraph = depGraph

	if err := writeJSON(filepath.Join(e.ws.Dir(), ".refactor-bot", "SYMBOL_REGISTRY.json"), symReg); err != nil {
		e.log.Printf("warning: failed to persist symbol registry: %v", err)
	}
	if err := writeJSON(filepath.Join(e.ws.Dir(), ".refactor-bot", "DEPENDENCY_GRAPH.json"), depGraph); err != nil {
		e.log.Printf("warning: failed to persist dependency graph: %v", err)
	}

	ledgerPath := filepath.Join(e.ws.Dir(), ".refactor-bot", "TASK_LEDGER.jsonl")
	e.ledger, err = ledger.Open(ledgerPath)
	if err != nil {
		return Result{}, rerr.Wrap(rerr.WorkspaceFailure, "opening ledger", err)
	}

	e.driver = agent.New(e.Config.Agent, e.PromptsDir, e.SchemasDir, e.ws.Dir())
	e.driver.Observer = e.Activity

	plan := e.generatePlan(ctx)
	// generatePlan's planner already enforces the precedence invariant
	// (spec.md: "if b.dependencies references b', then b' precedes b")
	// on both the naive and any LLM-refined plan; re-check here too so
	// the invariant holds regardless of how plan came to be built.
	if ordered, err := planner.ValidateAndOrderBatches(plan.Batches); err != nil {
		e.log.Printf("warning: plan violates dependency precedence (%v); running in generated order", err)
	} else {
		plan.Batches = ordered
	}
	if err := writeJSON(filepath.Join(e.ws.Dir(), ".refactor-bot", "plan.json"), plan); err != nil {
		e.log.Printf("warning: failed to persist plan: %v", err)
	}

	if e.DryRun {
		e.log.Printf("dry run: stopping after plan generation (%d batches)", len(plan.Batches))
		return Result{
			RunID:        runID,
			Plan:         plan,
			Ledger:       e.ledger,
			BackupPath:   e.backupInfo.BackupPath,
			WorktreePath: e.ws.Dir(),
		}, nil
	}

	for i := range plan.Batches {
		if e.stopRequested {
			break
		}
		e.runBatch(ctx, &plan.Batches[i])
		if plan.Batches[i].Status == model.BatchCompleted {
			e.completed = append(e.completed, plan.Batches[i])
		}
	}

	result := Result{
		RunID:        runID,
		Plan:         plan,
		Ledger:       e.ledger,
		BackupPath:   e.backupInfo.BackupPath,
		WorktreePath: e.ws.Dir(),
		FinalCommit:  e.ledger.LastCheckpoint(),
	}

	if !e.stopRequested {
		secResult := e.runSecurityPass(ctx)
		result.Security = &secResult
	}

	return result, nil
}

func (e *Executor) generatePlan(ctx context.Context) model.Plan {
	p := &planner.Planner{
		RepoPath: e.ws.Dir(),
		Config:   e.Config,
		Symbols:  &e.symbols,
		Deps:     &e.depGraph,
	}
	naive := p.GenerateNaivePlan()
	if !e.Config.UseLLMPlanner {
		return naive
	}
	return p.RefineWithLLM(ctx, e.driver, naive, "")
}

// runBatch drives one batch through PENDING -> IN_PROGRESS -> terminal,
// retrying up to Config.RetryPerBatch times on FAILED.
func (e *Executor) runBatch(ctx context.Context, batch *model.Batch) {
	for retry := 0; ; retry++ {
		if e.stopRequested {
			batch.Status = model.BatchCancelled
			_, err := e.ledger.RecordCancelled(batch.ID, batch.Goal, "run stopped", 0, retry)
			e.record("cancelled", err)
			e.notify(batch.ID, model.BatchCancelled, "run stopped")
			return
		}

		batch.Status = model.BatchInProgress
		e.notify(batch.ID, model.BatchInProgress, "starting")
		_, startErr := e.ledger.RecordStart(batch.ID, batch.Goal, retry)
		e.record("start", startErr)
		started := time.Now()

		status, detail := e.attemptBatch(ctx, batch, started, retry)
		batch.Status = status
		e.notify(batch.ID, status, detail)

		if status != model.BatchFailed {
			return
		}
		if retry >= e.Config.RetryPerBatch {
			return
		}
		e.log.Printf("batch %s failed (%s), retrying (%d/%d)", batch.ID, detail, retry+1, e.Config.RetryPerBatch)
	}
}

func (e *Executor) attemptBatch(ctx context.Context, batch *model.Batch, started time.Time, retry int) (model.BatchStatus, string) {
	packer := &contextpack.Builder{
		RepoPath: e.ws.Dir(),
		Config:   e.Config,
		Symbols:  &e.symbols,
		Deps:     &e.depGraph,
		Ledger:   e.ledger,
	}
	prompt := packer.BuildPatcherContext(*batch, e.completed)

	resp := e.driver.CallPatcher(ctx, prompt)
	duration := time.Since(started)

	if !resp.Success {
		_, err := e.ledger.RecordFailure(batch.ID, batch.Goal, resp.ErrorMessage, duration, retry)
		e.record("failure", err)
		return model.BatchFailed, resp.ErrorMessage
	}

	status, _ := resp.StructuredOutput["status"].(string)
	switch status {
	case "noop":
		_, err := e.ledger.RecordNoop(batch.ID, batch.Goal, "agent reported no changes needed")
		e.record("noop", err)
		return model.BatchNoop, "noop"
	case "blocked":
		reason, _ := resp.StructuredOutput["reason"].(string)
		_, err := e.ledger.RecordSkipped(batch.ID, batch.Goal, reason)
		e.record("skipped", err)
		return model.BatchBlocked, reason
	}

	diff, _ := resp.StructuredOutput["patch"].(string)
	if diff == "" {
		_, err := e.ledger.RecordNoop(batch.ID, batch.Goal, "empty patch")
		e.record("noop", err)
		return model.BatchNoop, "empty patch"
	}

	validator := patch.Validator{
		RepoPath:      e.ws.Dir(),
		ScopeGlobs:    batch.ScopeGlobs,
		DiffBudgetLOC: batch.DiffBudgetLOC,
		AllowBinary:   e.Config.AllowLockfileChanges,
	}
	valid, reason, stats := validator.Validate(diff)
	if !valid {
		_, err := e.ledger.RecordFailure(batch.ID, batch.Goal, reason, time.Since(started), retry)
		e.record("failure", err)
		return model.BatchFailed, reason
	}

	applicator := patch.Applicator{RepoPath: e.ws.Dir()}
	applyResult := applicator.ApplyWithFallback(diff)
	if !applyResult.Success {
		_, err := e.ledger.RecordFailure(batch.ID, batch.Goal, applyResult.ErrorMessage, time.Since(started), retry)
		e.record("failure", err)
		return model.BatchFailed, applyResult.ErrorMessage
	}

	v := verifier.New(e.ws.Dir(), e.Config)
	verifyResult := v.RunLevel(ctx, batch.VerifierLevel)
	if err := v.SaveResult(verifyResult, batch.ID); err != nil {
		e.log.Printf("warning: failed to persist verification result for %s: %v", batch.ID, err)
	}
	if !verifyResult.Passed() {
		if err := e.ws.RevertToBaseline(); err != nil {
			e.log.Printf("warning: revert to baseline failed after %s: %v", batch.ID, err)
		}
		_, err := e.ledger.RecordFailure(batch.ID, batch.Goal, "verification failed after patch", time.Since(started), retry)
		e.record("failure", err)
		return model.BatchFailed, "verification failed"
	}

	checkpointID, err := e.ws.Checkpoint(batch.ID, batch.Goal)
	if err != nil {
		_, recErr := e.ledger.RecordFailure(batch.ID, batch.Goal, err.Error(), time.Since(started), retry)
		e.record("failure", recErr)
		return model.BatchFailed, err.Error()
	}

	_, err = e.ledger.RecordSuccess(batch.ID, batch.Goal, stats.FilesTouched, stats.LinesAdded, stats.LinesRemoved, checkpointID, time.Since(started), retry)
	e.record("success", err)
	return model.BatchCompleted, fmt.Sprintf("checkpoint %s", checkpointID)
}

// runSecurityPass reviews every file touched by completed batches,
// additive reporting only — it never reverts a checkpoint.
func (e *Executor) runSecurityPass(ctx context.Context) security.Result {
	filesTouched := make(map[string]bool)
	for _, entry := range e.ledger.Entries() {
		if entry.Status == ledger.StatusCompleted {
			for _, f := range entry.FilesTouched {
				filesTouched[f] = true
			}
		}
	}
	changed := make([]string, 0, len(filesTouched))
	for f := range filesTouched {
		changed = append(changed, f)
	}

	packer := &contextpack.Builder{
		RepoPath: e.ws.Dir(),
		Config:   e.Config,
		Symbols:  &e.symbols,
		Deps:     &e.depGraph,
		Ledger:   e.ledger,
	}
	return security.Review(ctx, e.driver, packer, changed, "post-run review of completed batches")
}

// writeJSON persists v as indented JSON at path, creating parent
// directories as needed.
func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
