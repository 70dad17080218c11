package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GTWhalley/Refactorio/internal/backup"
)

var rollbackArchive bool

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackArchive, "archive", false, "Force restore from the tar.gz archive instead of the git bundle")
	rootCmd.AddCommand(rollbackCmd)
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <run-id>",
	Short: "Restore a repository from a prior run's backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		backupsDir := filepath.Join(homeDir, "backups")

		restoredPath, err := backup.Rollback(backupsDir, runID, !rollbackArchive)
		if err != nil {
			return fmt.Errorf("rolling back run %s: %w", runID, err)
		}

		fmt.Printf("restored %s from run %s\n", restoredPath, runID)
		return nil
	},
}
