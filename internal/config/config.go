// Package config defines the orchestrator configuration, loaded through
// viper from a YAML file with DRAFTFORGE_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete draftforge configuration.
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PathsConfig controls where run state lives on disk.
type PathsConfig struct {
	// OutputRoot is the directory holding one subdirectory per run.
	OutputRoot string `mapstructure:"output_root"`
}

// SchedulerConfig controls run admission.
type SchedulerConfig struct {
	// Concurrency bounds how many runs may execute simultaneously
	// system-wide. Must be at least 1.
	Concurrency int `mapstructure:"concurrency"`
}

// AgentConfig controls external agent invocations.
type AgentConfig struct {
	// Command is the agent CLI executed inside each isolated child.
	Command string `mapstructure:"command"`
	// Args are prepended to every agent command invocation.
	Args []string `mapstructure:"args"`
	// CallTimeoutMs is the per-call soft deadline enforced by the child.
	// The parent always holds a stricter hard ceiling on top of it.
	CallTimeoutMs int64 `mapstructure:"call_timeout_ms"`
	// MaxTurns is the default conversation turn budget per call.
	MaxTurns int `mapstructure:"max_turns"`
}

// CallTimeout returns the per-call soft deadline as a duration.
func (a AgentConfig) CallTimeout() time.Duration {
	return time.Duration(a.CallTimeoutMs) * time.Millisecond
}

// RetentionConfig controls terminal-run cleanup.
type RetentionConfig struct {
	// KeepLast is how many of the most recent terminal runs cleanup keeps.
	KeepLast int `mapstructure:"keep_last"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
}

// SetDefaults registers defaults with viper so they apply even without a
// config file.
func SetDefaults() {
	viper.SetDefault("paths.output_root", defaultOutputRoot())
	viper.SetDefault("scheduler.concurrency", 2)
	viper.SetDefault("agent.command", "")
	viper.SetDefault("agent.args", []string{})
	viper.SetDefault("agent.call_timeout_ms", 120_000)
	viper.SetDefault("agent.max_turns", 24)
	viper.SetDefault("retention.keep_last", 20)
	viper.SetDefault("logging.level", "INFO")
}

// Load unmarshals the effective viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

// normalize clamps out-of-range values to safe ones rather than failing:
// a misconfigured orchestrator should degrade, not refuse to recover runs.
func (c *Config) normalize() {
	if c.Scheduler.Concurrency < 1 {
		c.Scheduler.Concurrency = 1
	}
	if c.Agent.CallTimeoutMs < 1 {
		c.Agent.CallTimeoutMs = 120_000
	}
	if c.Agent.MaxTurns < 1 {
		c.Agent.MaxTurns = 24
	}
	if c.Retention.KeepLast < 0 {
		c.Retention.KeepLast = 0
	}
	if c.Paths.OutputRoot == "" {
		c.Paths.OutputRoot = defaultOutputRoot()
	}
}

// EnvKeyReplacer maps nested config keys to environment variable segments,
// e.g. scheduler.concurrency -> DRAFTFORGE_SCHEDULER_CONCURRENCY.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// ConfigDir returns the directory searched for config.yaml.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "draftforge")
}

// defaultOutputRoot places run output under the user's home directory.
func defaultOutputRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "draftforge-runs"
	}
	return filepath.Join(home, ".draftforge", "runs")
}
