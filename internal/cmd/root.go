// Package cmd implements the draftforge CLI: operational tooling over the
// orchestration core (run inspection, retention cleanup, gate decisions)
// plus the hidden child entry point used by the process isolation layer.
package cmd

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/event"
	"github.com/draftforge/draftforge/internal/logging"
	"github.com/draftforge/draftforge/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "draftforge",
	Short: "Orchestrator for multi-step content-generation runs",
	Long: `Draftforge runs long, multi-step content-generation jobs through a
concurrency-bounded scheduler with per-call process isolation, human-review
gates, and crash-recoverable on-disk run state.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/draftforge/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/draftforge")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DRAFTFORGE")
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer())

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// watchConfig reloads configuration on file changes for long-lived
// invocations.
func watchConfig(log *logging.Logger) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info("config file changed", "file", e.Name, "op", e.Op.String())
	})
	viper.WatchConfig()
}

// openStore loads config, builds the logger/bus/store stack, and hydrates
// the registry from disk. Shared by every command that inspects run state.
func openStore() (*config.Config, *store.Store, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logging.NewLogger(cfg.Paths.OutputRoot, cfg.Logging.Level)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.New(cfg.Paths.OutputRoot, event.NewBus(), log)
	if err != nil {
		log.Close()
		return nil, nil, nil, err
	}
	st.InitFromDisk()
	return cfg, st, log, nil
}
