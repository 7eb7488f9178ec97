package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global
// config, defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.chainsched/config.json
// Project: .chainsched/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	globalPath := filepath.Join(homeDir, ".chainsched", "config.json")
	projectPath := filepath.Join(".chainsched", "config.json")
	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into base.
// Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.ListenAddr != "" {
		base.ListenAddr = loaded.ListenAddr
	}
	if loaded.DBPath != "" {
		base.DBPath = loaded.DBPath
	}
	mergeScheduler(&base.Scheduler, loaded.Scheduler)
	mergeRetry(&base.Retry, loaded.Retry)
	if loaded.Gate != nil {
		base.Gate = loaded.Gate
	}
	for protocol, exec := range loaded.Executors {
		base.Executors[protocol] = exec
	}
	return nil
}

func mergeScheduler(base *SchedulerConfig, in SchedulerConfig) {
	if in.GlobalLimit > 0 {
		base.GlobalLimit = in.GlobalLimit
	}
	if in.ProtocolLimits != nil {
		base.ProtocolLimits = in.ProtocolLimits
	}
	if in.TickIntervalMS > 0 {
		base.TickIntervalMS = in.TickIntervalMS
	}
	if in.ExecTimeoutMS > 0 {
		base.ExecTimeoutMS = in.ExecTimeoutMS
	}
	if in.QueueWaitTimeoutMS > 0 {
		base.QueueWaitTimeoutMS = in.QueueWaitTimeoutMS
	}
	if in.DefaultMaxAttempts > 0 {
		base.DefaultMaxAttempts = in.DefaultMaxAttempts
	}
	if in.HistoryLimit > 0 {
		base.HistoryLimit = in.HistoryLimit
	}
}

func mergeRetry(base *RetryConfig, in RetryConfig) {
	if in.BaseDelayMS > 0 {
		base.BaseDelayMS = in.BaseDelayMS
	}
	if in.MaxIntervalMS > 0 {
		base.MaxIntervalMS = in.MaxIntervalMS
	}
	if in.Jitter > 0 {
		base.Jitter = in.Jitter
	}
}

// Save persists the configuration to a JSON file, creating parent
// directories if they don't exist.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
