package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GTWhalley/Refactorio/internal/indexer/deps"
	"github.com/GTWhalley/Refactorio/internal/indexer/symbols"
	"github.com/GTWhalley/Refactorio/internal/planner"
)

var planOutputPath string

func init() {
	planCmd.Flags().StringVarP(&planOutputPath, "output", "o", "", "Also persist the plan to this file")
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate and print a refactoring plan without running it",
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

		symReg, err := symbols.NewExtractor(repoDir, cfg.ScopeExcludes).Index()
		if err != nil {
			return fmt.Errorf("indexing symbols: %w", err)
		}
		depGraph, err := deps.NewAnalyzer(repoDir, cfg.ScopeExcludes).Analyze()
		if err != nil {
			return fmt.Errorf("analyzing dependencies: %w", err)
		}

		p := &planner.Planner{RepoPath: repoDir, Config: cfg, Symbols: &symReg, Deps: &depGraph}
		plan := p.GenerateNaivePlan()

		encoded, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding plan: %w", err)
		}
		if planOutputPath != "" {
			if err := os.WriteFile(planOutputPath, encoded, 0644); err != nil {
				return fmt.Errorf("writing plan to %s: %w", planOutputPath, err)
			}
		}
		fmt.Println(string(encoded))
		return nil
	},
}
