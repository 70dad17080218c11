package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GTWhalley/Refactorio/internal/backup"
)

var listBackupsRepo string

func init() {
	listBackupsCmd.Flags().StringVar(&listBackupsRepo, "repo", "", "Restrict to one repository name (default: every repository)")
	rootCmd.AddCommand(listBackupsCmd)
}

var listBackupsCmd = &cobra.Command{
	Use:   "list-backups",
	Short: "List recorded backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backupsDir := filepath.Join(homeDir, "backups")

		backups, err := backup.List(backupsDir, listBackupsRepo)
		if err != nil {
			return fmt.Errorf("listing backups: %w", err)
		}
		if len(backups) == 0 {
			fmt.Println("no backups found")
			return nil
		}

		for _, b := range backups {
			kind := "archive"
			if b.BundlePath != "" {
				kind = "bundle"
			}
			fmt.Printf("%-28s %-20s %s  (%s, %d bytes)\n", b.RunID, b.RepoName, b.CreatedAt.Format("2006-01-02 15:04:05"), kind, b.SizeBytes)
		}
		return nil
	},
}
