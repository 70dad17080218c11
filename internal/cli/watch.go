package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GTWhalley/Refactorio/internal/daemon"
	"github.com/GTWhalley/Refactorio/internal/executor"
	"github.com/GTWhalley/Refactorio/internal/report"
)

var watchOnce bool

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Run a single cycle instead of watching for new commits")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Re-run a refactoring session whenever a new commit lands on the watched branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, err := resolveRepo(firstArg(args))
		if err != nil {
			return err
		}

		run := func(ctx context.Context, repoDir string) error {
			cfg, err := resolveConfigPath(repoDir)
			if err != nil {
				return err
			}

			exec := &executor.Executor{
				RepoPath:   repoDir,
				HomeDir:    homeDir,
				Config:     cfg,
				PromptsDir: runPromptsDir,
				SchemasDir: runSchemasDir,
			}

			startedAt := time.Now()
			result, err := exec.Run(ctx)
			if err != nil {
				return err
			}

			gen := report.Generator{RunID: result.RunID, RepoPath: repoDir, RepoName: filepath.Base(repoDir), Ledger: result.Ledger, Plan: result.Plan}
			rep := gen.Generate(startedAt, result.BackupPath, result.WorktreePath, result.FinalCommit, "")
			if result.Security != nil {
				rep = report.WithSecurity(rep, *result.Security)
			}

			reportPath := filepath.Join(result.WorktreePath, ".refactor-bot", "report.json")
			if err := report.Save(rep, reportPath); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to save report: %s\n", err)
			}
			report.PrintTerminal(rep)
			return nil
		}

		if watchOnce {
			return daemon.RunOnce(context.Background(), repoDir, run)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "\nreceived interrupt, stopping watch loop...")
			cancel()
		}()

		return daemon.Loop(ctx, repoDir, run, func(err error) {
			fmt.Fprintf(os.Stderr, "run error: %s\n", err)
		})
	},
}
