package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/draftforge/draftforge/internal/retention"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report run counts and disk usage by age",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// statsReport is the combined YAML document printed by the stats command.
type statsReport struct {
	Stats     retention.Stats      `yaml:"stats"`
	Analytics *retention.Analytics `yaml:"analytics"`
}

func runStats(cmd *cobra.Command, args []string) error {
	_, st, log, err := openStore()
	if err != nil {
		return err
	}
	defer log.Close()

	engine := retention.NewEngine(st, log)
	report := statsReport{
		Stats:     engine.Stats(),
		Analytics: engine.Analytics(time.Now()),
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode stats report: %w", err)
	}
	return nil
}
