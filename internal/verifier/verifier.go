// Package verifier runs a repository's configured command sequences
// (fast, fail-fast; full, exhaustive) and captures their outcomes,
// gating every batch per §4.10.
package verifier

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/GTWhalley/Refactorio/internal/config"
	"github.com/GTWhalley/Refactorio/internal/model"
)

// defaultCommandTimeout is the per-command ceiling from §5 unless the
// caller overrides it.
const defaultCommandTimeout = 5 * time.Minute

// Runner runs verification commands against a workspace.
type Runner struct {
	RepoPath       string
	Config         *config.Config
	CommandTimeout time.Duration
}

// New builds a Runner with the default per-command timeout.
func New(repoPath string, cfg *config.Config) *Runner {
	return &Runner{RepoPath: repoPath, Config: cfg, CommandTimeout: defaultCommandTimeout}
}

func (r *Runner) timeout() time.Duration {
	if r.CommandTimeout <= 0 {
		return defaultCommandTimeout
	}
	return r.CommandTimeout
}

// RunCommand runs a single shell command rooted at RepoPath, capturing
// stdout/stderr/wall-time. A command that exceeds the timeout is
// recorded with status "error", not "failed".
func (r *Runner) RunCommand(ctx context.Context, command string) model.CommandResult {
	startedAt := time.Now()

	cctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = r.RepoPath

	stdout, err := cmd.Output()
	duration := time.Since(startedAt).Seconds()

	var stderr string
	var exitCode int
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			stderr = string(exitErr.Stderr)
		} else {
			exitCode = -1
			stderr = err.Error()
		}
	}

	if cctx.Err() == context.DeadlineExceeded {
		return model.CommandResult{
			Command:   command,
			Status:    model.CommandError,
			ExitCode:  -1,
			Stderr:    "command timed out after " + r.timeout().String(),
			DurationS: duration,
			StartedAt: startedAt,
		}
	}

	status := model.CommandPassed
	if err != nil {
		status = model.CommandFailed
	}

	return model.CommandResult{
		Command:   command,
		Status:    status,
		ExitCode:  exitCode,
		Stdout:    string(stdout),
		Stderr:    stderr,
		DurationS: duration,
		StartedAt: startedAt,
	}
}

// RunFast runs fast_verifier sequentially, stopping at the first
// failure (fast-fail).
func (r *Runner) RunFast(ctx context.Context) model.VerificationResult {
	var result model.VerificationResult
	for _, command := range r.Config.FastVerifier {
		cr := r.RunCommand(ctx, command)
		result.Commands = append(result.Commands, cr)
		if cr.Status != model.CommandPassed {
			break
		}
	}
	return result
}

// RunFull runs full_verifier's independent commands concurrently via a
// bounded conc pool, collecting every outcome rather than short-circuiting
// — §4.10 only requires fast-fail semantics at the fast level.
func (r *Runner) RunFull(ctx context.Context) model.VerificationResult {
	commands := r.Config.FullVerifier
	if len(commands) == 0 {
		return model.VerificationResult{}
	}

	p := pool.NewWithResults[indexedResult]().WithMaxGoroutines(4)
	for i, command := range commands {
		i, command := i, command
		p.Go(func() indexedResult {
			return indexedResult{index: i, result: r.RunCommand(ctx, command)}
		})
	}

	results := p.Wait()
	ordered := make([]model.CommandResult, len(commands))
	for _, ir := range results {
		ordered[ir.index] = ir.result
	}

	return model.VerificationResult{Commands: ordered}
}

type indexedResult struct {
	index  int
	result model.CommandResult
}

// RunLevel dispatches to RunFast or RunFull by level.
func (r *Runner) RunLevel(ctx context.Context, level model.VerifierLevel) model.VerificationResult {
	if level == model.VerifierFast {
		return r.RunFast(ctx)
	}
	return r.RunFull(ctx)
}

// RunBaseline runs full verification and persists it as the run's
// baseline under <repoPath>/.refactor-bot/verification/baseline.json.
func (r *Runner) RunBaseline(ctx context.Context) (model.VerificationResult, error) {
	result := r.RunFull(ctx)
	if err := r.SaveResult(result, "baseline"); err != nil {
		return result, err
	}
	return result, nil
}

// SaveResult persists a verification result (plus per-command
// stdout/stderr sidecar files) under
// <repoPath>/.refactor-bot/verification/<name>*.
func (r *Runner) SaveResult(result model.VerificationResult, name string) error {
	dir := filepath.Join(r.RepoPath, ".refactor-bot", "verification")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(summarize(result), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0644); err != nil {
		return err
	}

	for i, cmd := range result.Commands {
		stdoutPath := filepath.Join(dir, name+"_"+strconv.Itoa(i)+"_stdout.txt")
		stderrPath := filepath.Join(dir, name+"_"+strconv.Itoa(i)+"_stderr.txt")
		if err := os.WriteFile(stdoutPath, []byte(cmd.Stdout), 0644); err != nil {
			return err
		}
		if err := os.WriteFile(stderrPath, []byte(cmd.Stderr), 0644); err != nil {
			return err
		}
	}
	return nil
}

type summary struct {
	Passed   bool                  `json:"passed"`
	Commands []model.CommandResult `json:"commands"`
}

func summarize(result model.VerificationResult) summary {
	return summary{Passed: result.Passed(), Commands: result.Commands}
}

// DetectCommands is a thin forward to config.DetectVerifiers, kept in
// this package so callers needing only verifier concerns don't import
// config directly for detection.
func DetectCommands(repoDir string) config.Detected {
	return config.DetectVerifiers(repoDir)
}
