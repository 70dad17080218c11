package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GTWhalley/Refactorio/internal/config"
	"github.com/GTWhalley/Refactorio/internal/model"
	"github.com/GTWhalley/Refactorio/internal/runlog"
	"github.com/GTWhalley/Refactorio/internal/workspace"
)

func TestRecordLogsWriteFailures(t *testing.T) {
	dir := t.TempDir()
	e := &Executor{log: runlog.New(dir)}
	defer e.log.Close()

	e.record("success", nil)
	e.record("failure", errTest{})

	path := e.log.BatchLogPath("") // sanity: method exists on the manager
	if path == "" {
		t.Fatalf("expected non-empty batch log path template")
	}

	data, err := os.ReadFile(filepath.Join(dir, ".refactor-bot", "run.log"))
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	if !strings.Contains(string(data), "ledger write failed (failure): boom") {
		t.Fatalf("run log does not record the write failure: %q", string(data))
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }

func TestNotifyCallsObserver(t *testing.T) {
	var gotID string
	var gotStatus model.BatchStatus
	e := &Executor{Observer: func(batchID string, status model.BatchStatus, detail string) {
		gotID = batchID
		gotStatus = status
	}}
	e.notify("batch-001", model.BatchCompleted, "checkpoint abc")

	if gotID != "batch-001" || gotStatus != model.BatchCompleted {
		t.Fatalf("observer not invoked with expected args: id=%s status=%s", gotID, gotStatus)
	}
}

func TestNotifyToleratesNilObserver(t *testing.T) {
	e := &Executor{}
	e.notify("batch-001", model.BatchFailed, "boom") // must not panic
}

func TestGeneratePlanWithoutLLMReturnsNaive(t *testing.T) {
	cfg := config.Defaults()
	cfg.UseLLMPlanner = false
	symbols := model.SymbolRegistry{}
	depGraph := model.DependencyGraph{Nodes: map[string]*model.DependencyNode{}}

	e := executorStub(t, cfg, &symbols, &depGraph)
	plan := e.generatePlan(context.Background())
	if len(plan.Batches) != 0 {
		t.Fatalf("expected no batches for an empty repository, got %d", len(plan.Batches))
	}
}

func executorStub(t *testing.T, cfg *config.Config, symbols *model.SymbolRegistry, depGraph *model.DependencyGraph) *Executor {
	t.Helper()
	dir := t.TempDir()
	e := &Executor{Config: cfg}
	e.symbols = *symbols
	e.depGraph = *depGraph
	e.ws = workspace.New("test-run", dir, dir, false)
	return e
}

func TestRequestStopSetsFlag(t *testing.T) {
	e := &Executor{}
	e.RequestStop()
	if !e.stopRequested {
		t.Fatalf("expected stopRequested to be true")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.FastVerifier = nil // invalid: fast_verifier is required

	e := &Executor{RepoPath: t.TempDir(), Config: cfg}
	_, err := e.Run(context.Background())
	if err == nil {
		t.Fatalf("expected validation error for missing fast_verifier")
	}
	if !strings.Contains(err.Error(), "config-invalid") {
		t.Fatalf("expected config-invalid error kind, got: %v", err)
	}
}
