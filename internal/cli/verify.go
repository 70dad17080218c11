package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GTWhalley/Refactorio/internal/model"
	"github.com/GTWhalley/Refactorio/internal/verifier"
)

var verifyFull bool

func init() {
	verifyCmd.Flags().BoolVar(&verifyFull, "full", false, "Run the full verifier suite instead of the fast one")
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Run the configured verifier commands against a repository",
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

		level := model.VerifierFast
		if verifyFull {
			level = model.VerifierFull
		}

		v := verifier.New(repoDir, cfg)
		result := v.RunLevel(context.Background(), level)

		for _, c := range result.Commands {
			fmt.Printf("[%s] %s (%.1fs)\n", c.Status, c.Command, c.DurationS)
			if c.Status != model.CommandPassed && c.Stderr != "" {
				fmt.Println(c.Stderr)
			}
		}

		if !result.Passed() {
			return fmt.Errorf("verification failed")
		}
		fmt.Println("all checks passed")
		return nil
	},
}
