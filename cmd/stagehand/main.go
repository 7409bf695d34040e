// Package main implements the stagehand CLI: worker execution for one
// feature run and read access to persisted run records.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stagehand-dev/stagehand/internal/ci"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stagehand:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "stagehand",
	Short:   "Feature-delivery orchestration driven by a coding agent",
	Long:    "stagehand drives a feature through analyze, requirements, research, plan, implement and merge, pausing at configured approval gates.",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to stagehand.yaml (defaults to ./stagehand.yaml when present)")
}

// Config is the worker's ambient configuration file. Everything here feeds
// explicit constructor arguments; nothing reads it from deep inside a phase.
type Config struct {
	Agent struct {
		Command  string   `json:"command" yaml:"command"`
		BaseArgs []string `json:"baseArgs" yaml:"baseArgs"`
	} `json:"agent" yaml:"agent"`

	// DataDir holds run records, checkpoints and logs. Individual
	// directories may be overridden.
	DataDir        string `json:"dataDir" yaml:"dataDir"`
	RunsDir        string `json:"runsDir" yaml:"runsDir"`
	CheckpointsDir string `json:"checkpointsDir" yaml:"checkpointsDir"`
	LogsDir        string `json:"logsDir" yaml:"logsDir"`

	// Postgres, when set, stores run records in Postgres instead of files.
	Postgres string `json:"postgres" yaml:"postgres"`

	GitHub *ci.GitHubConfig `json:"github" yaml:"github"`

	CIWatch struct {
		PollIntervalSeconds int `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
		TimeoutMinutes      int `json:"timeoutMinutes" yaml:"timeoutMinutes"`
		MaxFixAttempts      int `json:"maxFixAttempts" yaml:"maxFixAttempts"`
		LogBudget           int `json:"logBudget" yaml:"logBudget"`
	} `json:"ciWatch" yaml:"ciWatch"`

	Retry struct {
		MaxAttempts      int `json:"maxAttempts" yaml:"maxAttempts"`
		BaseDelaySeconds int `json:"baseDelaySeconds" yaml:"baseDelaySeconds"`
	} `json:"retry" yaml:"retry"`

	MaxFixAttempts    int `json:"maxFixAttempts" yaml:"maxFixAttempts"`
	MaxRepairAttempts int `json:"maxRepairAttempts" yaml:"maxRepairAttempts"`
}

func (c *Config) applyDefaults() {
	if c.Agent.Command == "" {
		c.Agent.Command = "claude"
	}
	if len(c.Agent.BaseArgs) == 0 {
		c.Agent.BaseArgs = []string{"--print"}
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".stagehand")
	}
	if c.RunsDir == "" {
		c.RunsDir = filepath.Join(c.DataDir, "runs")
	}
	if c.CheckpointsDir == "" {
		c.CheckpointsDir = filepath.Join(c.DataDir, "checkpoints")
	}
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(c.DataDir, "logs")
	}
}

func (c *Config) watchConfig() ci.WatchConfig {
	w := ci.WatchConfig{
		PollInterval:   time.Duration(c.CIWatch.PollIntervalSeconds) * time.Second,
		Timeout:        time.Duration(c.CIWatch.TimeoutMinutes) * time.Minute,
		MaxFixAttempts: c.CIWatch.MaxFixAttempts,
		LogBudget:      c.CIWatch.LogBudget,
	}
	w.ApplyDefaults()
	return w
}

func loadConfig() (Config, error) {
	var cfg Config
	path := configPath
	if path == "" {
		if _, err := os.Stat("stagehand.yaml"); err == nil {
			path = "stagehand.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}
