package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/GTWhalley/Refactorio/internal/agent"
	"github.com/GTWhalley/Refactorio/internal/executor"
	"github.com/GTWhalley/Refactorio/internal/model"
	"github.com/GTWhalley/Refactorio/internal/report"
)

var (
	runSkipBackup bool
	runDryRun     bool
	runMaxBatches int
	runPromptsDir string
	runSchemasDir string
)

func init() {
	runCmd.Flags().BoolVar(&runSkipBackup, "skip-backup", false, "Skip the pre-run backup (not recommended)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Generate and persist the plan, then stop before running any batch")
	runCmd.Flags().IntVar(&runMaxBatches, "max-batches", 0, "Override config.max_batches for this run (0 = use config)")
	runCmd.Flags().StringVar(&runPromptsDir, "prompts-dir", "assets/prompts", "Directory holding <role>.system.txt files")
	runCmd.Flags().StringVar(&runSchemasDir, "schemas-dir", "assets/schemas", "Directory holding <role>.schema.json files")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Run a full refactoring session against a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := resolveRepo(firstArg(args))
		if err != nil {
			return err
		}
		cfg, err := resolveConfigPath(repoDir)
		if err != nil {
			return err
		}
		if runMaxBatches > 0 {
			cfg.MaxBatches = runMaxBatches
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		exec := &executor.Executor{
			RepoPath:   repoDir,
			HomeDir:    homeDir,
			Config:     cfg,
			PromptsDir: runPromptsDir,
			SchemasDir: runSchemasDir,
			SkipBackup: runSkipBackup,
			DryRun:     runDryRun,
		}

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("refactoring"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
		)
		var lastTotal int
		exec.Observer = func(batchID string, status model.BatchStatus, detail string) {
			if lastTotal == 0 {
				lastTotal = 1
			}
			fmt.Fprintf(os.Stderr, "\n%s: %s (%s)\n", batchID, status, detail)
			bar.Add(1)
		}
		exec.Activity = func(a agent.Activity) {
			bar.Describe(fmt.Sprintf("refactoring: %s (%.0fs)", a.Message, a.ElapsedSeconds))
		}

		go func() {
			select {
			case <-sigCh:
				fmt.Fprintln(os.Stderr, "\nreceived interrupt, stopping after the current batch...")
				exec.RequestStop()
				cancel()
			case <-ctx.Done():
			}
		}()

		startedAt := time.Now()
		result, runErr := exec.Run(ctx)
		bar.Finish()
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", runErr)
			return runErr
		}

		gen := report.Generator{
			RunID:    result.RunID,
			RepoPath: repoDir,
			RepoName: filepath.Base(repoDir),
			Ledger:   result.Ledger,
			Plan:     result.Plan,
		}
		rep := gen.Generate(startedAt, result.BackupPath, result.WorktreePath, result.FinalCommit, "")
		if result.Security != nil {
			rep = report.WithSecurity(rep, *result.Security)
		}

		reportPath := filepath.Join(result.WorktreePath, ".refactor-bot", "report.json")
		if err := report.Save(rep, reportPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save report: %s\n", err)
		}

		report.PrintTerminal(rep)

		if !rep.Success {
			return fmt.Errorf("run completed with failures")
		}
		if result.Security != nil && result.Security.HasBlockingIssues(false) {
			return fmt.Errorf("run completed but the security review flagged critical issues")
		}
		return nil
	},
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
