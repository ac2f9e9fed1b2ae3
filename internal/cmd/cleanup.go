package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/draftforge/draftforge/internal/retention"
)

var (
	cleanupKeepLast int
	cleanupDryRun   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal run directories",
	Long: `Cleanup deletes the output directories of terminal (done or error) runs,
oldest first, keeping the most recent --keep-last of them. Queued, running,
and paused runs are never touched. With --dry-run the partition is reported
without deleting anything.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupKeepLast, "keep-last", -1, "terminal runs to keep (default from config)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, st, log, err := openStore()
	if err != nil {
		return err
	}
	defer log.Close()

	keepLast := cleanupKeepLast
	if keepLast < 0 {
		keepLast = cfg.Retention.KeepLast
	}

	engine := retention.NewEngine(st, log)
	result, err := engine.CleanupTerminalRuns(keepLast, cleanupDryRun)
	if result != nil {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if encErr := enc.Encode(result); encErr != nil && err == nil {
			err = fmt.Errorf("encode cleanup report: %w", encErr)
		}
		enc.Close()
	}
	return err
}
