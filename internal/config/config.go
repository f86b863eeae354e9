// Package config provides daemon configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/treewatch/treewatch/internal/validation"
)

// Config holds the daemon configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Server  ServerConfig
	State   StateConfig
	Journal JournalConfig
	Watch   WatchConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `env:"ENV" validate:"required,oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" validate:"required,loglevel"`
	// File, when set, receives a rotated copy of the log.
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" validate:"gt=0"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" validate:"gte=0"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" validate:"gte=0"`
}

// ServerConfig holds command API server configuration.
type ServerConfig struct {
	Addr         string        `env:"SERVER_ADDR" validate:"required,hostname_port"` // default: 127.0.0.1:7474
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" validate:"gt=0"`           // default: 15s
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" validate:"gte=0"`         // default: 0, long polls and streams
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" validate:"gt=0"`           // default: 60s
}

// StateConfig holds the persisted watch list location.
type StateConfig struct {
	// Path is the state database directory. Empty disables persistence.
	Path string `env:"STATE_PATH"`
}

// JournalConfig holds per-root history retention.
type JournalConfig struct {
	MaxAge        time.Duration `env:"JOURNAL_MAX_AGE" validate:"gte=0"`
	PruneInterval time.Duration `env:"PRUNE_INTERVAL" validate:"gt=0"`
}

// WatchConfig holds crawl, notification and query tunables.
type WatchConfig struct {
	SyncTimeout   time.Duration `env:"SYNC_TIMEOUT" validate:"gte=0"`
	SettleTimeout time.Duration `env:"SETTLE_TIMEOUT" validate:"gt=0"`
	RecrawlRate   float64       `env:"RECRAWL_RATE" validate:"gt=0"`
	RecrawlBurst  int           `env:"RECRAWL_BURST" validate:"gt=0"`
	Ignore        []string      `env:"IGNORE" validate:"dive,glob"`
	Backend       string        `env:"WATCH_BACKEND" validate:"oneof=auto inotify fsnotify"`
}

// LoadConfig loads configuration from the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("treewatchd", flag.ContinueOnError)

	// Define command-line flags.
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile := fs.String("log-file", "", "Also write logs to this file, rotated")
	addr := fs.String("addr", "", "Command API listen address (default: 127.0.0.1:7474)")
	statePath := fs.String("state-path", "", "State database directory (default: ~/.treewatch/state)")
	noState := fs.Bool("no-state", false, "Do not persist the watch list")
	maxAge := fs.String("journal-max-age", "", "How long change history is kept (default: 12h)")
	syncTimeout := fs.String("sync-timeout", "", "Default sync-to-now timeout for queries (default: 5s)")
	settleTimeout := fs.String("settle-timeout", "", "How long queries wait for a crawl to settle (default: 30s)")
	ignore := fs.String("ignore", "", "Comma separated globs of base names to ignore")
	backend := fs.String("watch-backend", "", "Notification backend (auto, inotify, fsnotify)")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:      getConfigValue(*logLevel, "LOG_LEVEL", "info"),
			File:       getConfigValue(*logFile, "LOG_FILE", ""),
			MaxSizeMB:  getIntConfigValue("", "LOG_MAX_SIZE_MB", 100),
			MaxBackups: getIntConfigValue("", "LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getIntConfigValue("", "LOG_MAX_AGE_DAYS", 28),
		},
		Server: ServerConfig{
			Addr: getConfigValue(*addr, "SERVER_ADDR", "127.0.0.1:7474"),
		},
		State: StateConfig{
			Path: getConfigValue(*statePath, "STATE_PATH", "~/.treewatch/state"),
		},
		Watch: WatchConfig{
			RecrawlRate:  getFloatConfigValue("", "RECRAWL_RATE", 1),
			RecrawlBurst: getIntConfigValue("", "RECRAWL_BURST", 2),
			Ignore:       splitList(getConfigValue(*ignore, "IGNORE", "")),
			Backend:      getConfigValue(*backend, "WATCH_BACKEND", "auto"),
		},
	}

	durations := []struct {
		dst      *time.Duration
		flag     string
		envKey   string
		fallback string
	}{
		{&cfg.Server.ReadTimeout, "", "SERVER_READ_TIMEOUT", "15s"},
		{&cfg.Server.WriteTimeout, "", "SERVER_WRITE_TIMEOUT", "0s"},
		{&cfg.Server.IdleTimeout, "", "SERVER_IDLE_TIMEOUT", "60s"},
		{&cfg.Journal.MaxAge, *maxAge, "JOURNAL_MAX_AGE", "12h"},
		{&cfg.Journal.PruneInterval, "", "PRUNE_INTERVAL", "5m"},
		{&cfg.Watch.SyncTimeout, *syncTimeout, "SYNC_TIMEOUT", "5s"},
		{&cfg.Watch.SettleTimeout, *settleTimeout, "SETTLE_TIMEOUT", "30s"},
	}
	for _, d := range durations {
		value := getConfigValue(d.flag, d.envKey, d.fallback)
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.envKey, value, err)
		}
		*d.dst = parsed
	}

	if *noState {
		cfg.State.Path = ""
	}
	if err := cfg.expandStatePath(); err != nil {
		return nil, fmt.Errorf("invalid state path: %w", err)
	}
	if cfg.Logger.File != "" {
		expanded, err := expandPath(cfg.Logger.File, "")
		if err != nil {
			return nil, fmt.Errorf("invalid log file: %w", err)
		}
		cfg.Logger.File = expanded
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all config values are present and valid.
func (c *Config) Validate() error {
	return validation.New().Validate(c)
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandStatePath expands ~ and makes the path absolute.
// An empty path stays empty: persistence is off.
func (c *Config) expandStatePath() error {
	if c.State.Path == "" {
		return nil
	}

	expanded, err := expandPath(c.State.Path, "")
	if err != nil {
		return err
	}
	c.State.Path = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return result
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
