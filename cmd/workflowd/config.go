package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all workflowd configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath                  string `json:"db_path"`
	LogLevel                string `json:"log_level"`
	WakeupPollSeconds       int    `json:"wakeup_poll_seconds"`
	TriggerTickSeconds      int    `json:"trigger_tick_seconds"`
	BreakerFailureThreshold int    `json:"breaker_failure_threshold"`
	BreakerCooldownSeconds  int    `json:"breaker_cooldown_seconds"`

	// BreakerOverrides tunes the circuit breaker per handler name, for
	// integrations that need tighter or looser failure handling than the
	// global settings.
	BreakerOverrides map[string]BreakerOverride `json:"breaker_overrides"`
}

// BreakerOverride is a per-handler circuit breaker tuning in settings.json.
type BreakerOverride struct {
	FailureThreshold int `json:"failure_threshold"`
	CooldownSeconds  int `json:"cooldown_seconds"`
}

func defaultConfig() Config {
	return Config{
		DBPath:                  filepath.Join(workflowdDir(), "workflowd.db"),
		LogLevel:                "info",
		WakeupPollSeconds:       1,
		TriggerTickSeconds:      60,
		BreakerFailureThreshold: 5,
		BreakerCooldownSeconds:  30,
	}
}

func workflowdDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".workflowd"
	}
	return filepath.Join(home, ".workflowd")
}

func settingsPath() string {
	return filepath.Join(workflowdDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WORKFLOWD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WORKFLOWD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WORKFLOWD_WAKEUP_POLL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WakeupPollSeconds = n
		}
	}
	if v := os.Getenv("WORKFLOWD_TRIGGER_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TriggerTickSeconds = n
		}
	}
	if v := os.Getenv("WORKFLOWD_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerFailureThreshold = n
		}
	}
	if v := os.Getenv("WORKFLOWD_BREAKER_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerCooldownSeconds = n
		}
	}

	return cfg
}

func (c Config) wakeupPollInterval() time.Duration {
	return time.Duration(c.WakeupPollSeconds) * time.Second
}

func (c Config) triggerTickInterval() time.Duration {
	return time.Duration(c.TriggerTickSeconds) * time.Second
}

func (c Config) breakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}
