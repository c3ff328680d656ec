package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Agent         AgentConfig         `toml:"agent"`
	Health        HealthConfig        `toml:"health"`
	Recovery      RecoveryConfig      `toml:"recovery"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Daemon        DaemonConfig        `toml:"daemon"`
	Log           LogConfig           `toml:"log"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorkspaceRoot     string `toml:"workspace_root"`
	DatabasePath      string `toml:"database_path"`
	MaxConcurrentRuns int    `toml:"max_concurrent_runs"`
	PRDDir            string `toml:"prd_dir"`
}

// AgentConfig holds agent subprocess settings
type AgentConfig struct {
	Tool           string        `toml:"tool"`
	SilenceTimeout time.Duration `toml:"silence_timeout"`
	KillGrace      time.Duration `toml:"kill_grace"`
}

// HealthConfig holds health monitor thresholds
type HealthConfig struct {
	MinutesPerIteration int           `toml:"minutes_per_iteration"`
	WarningAfter        time.Duration `toml:"warning_after"`
	StuckAfter          time.Duration `toml:"stuck_after"`
	StuckRatio          float64       `toml:"stuck_ratio"`
	CrashAfter          time.Duration `toml:"crash_after"`
	DedupeWindow        time.Duration `toml:"dedupe_window"`
	AlertLogPath        string        `toml:"alert_log_path"`
}

// RecoveryConfig holds recovery manager settings
type RecoveryConfig struct {
	MaxAttempts    int           `toml:"max_attempts"`
	InitialBackoff time.Duration `toml:"initial_backoff"`
	Multiplier     float64       `toml:"multiplier"`
	MaxBackoff     time.Duration `toml:"max_backoff"`
}

// NotificationsConfig holds alert channel settings
type NotificationsConfig struct {
	Desktop    bool   `toml:"desktop"`
	WebhookURL string `toml:"webhook_url"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// DaemonConfig holds the cron expressions for the periodic cycles
type DaemonConfig struct {
	ScheduleCron string `toml:"schedule_cron"`
	HealthCron   string `toml:"health_cron"`
	RecoveryCron string `toml:"recovery_cron"`
}

// LogConfig holds structured logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorkspaceRoot:     filepath.Join(home, ".claude-fleet", "workspaces"),
			DatabasePath:      filepath.Join(home, ".claude-fleet", "fleet.db"),
			MaxConcurrentRuns: 3,
			PRDDir:            "docs/prds",
		},
		Agent: AgentConfig{
			Tool:           "claude",
			SilenceTimeout: 10 * time.Minute,
			KillGrace:      5 * time.Second,
		},
		Health: HealthConfig{
			MinutesPerIteration: 5,
			WarningAfter:        10 * time.Minute,
			StuckAfter:          30 * time.Minute,
			StuckRatio:          0.25,
			CrashAfter:          15 * time.Minute,
			DedupeWindow:        30 * time.Minute,
			AlertLogPath:        filepath.Join(home, ".claude-fleet", "alerts.log"),
		},
		Recovery: RecoveryConfig{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Minute,
			Multiplier:     2.0,
			MaxBackoff:     30 * time.Minute,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Daemon: DaemonConfig{
			ScheduleCron: "*/10 * * * *",
			HealthCron:   "*/5 * * * *",
			RecoveryCron: "*/5 * * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.WorkspaceRoot = ExpandPath(cfg.General.WorkspaceRoot)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Health.AlertLogPath = ExpandPath(cfg.Health.AlertLogPath)

	return cfg, nil
}

// Save writes the configuration back to a TOML file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "claude-fleet", "config.toml")
}
