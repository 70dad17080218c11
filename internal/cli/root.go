// Package cli wires the cobra command surface onto the executor,
// planner, verifier, backup, and daemon packages.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configPath string
	homeDir    string
)

var rootCmd = &cobra.Command{
	Use:   "refactorctl",
	Short: "Drive an external coding agent through incremental, reversible refactoring batches",
	Long: `refactorctl orchestrates a whole-repository refactor as a sequence of small,
independently verified batches. Each batch is proposed by an external coding
agent, validated against a scope and diff budget, applied, verified, and
checkpointed before the next batch starts.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "refactor-bot.yaml", "Path to the orchestrator config file")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", defaultHomeDir(), "Directory holding backups and run workspaces")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("refactorctl %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
