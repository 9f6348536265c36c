// Package config loads the agent configuration at startup and hands out an
// immutable Config record. Components receive the record through their
// constructors; nothing reads configuration ambiently after load.
//
// Precedence: executable-directory attendd.yaml, then working-directory
// attendd.yaml, then ATTEND_* environment variables, then defaults.
// Out-of-range values are clamped with a warning; missing cloud credentials
// are fatal.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Duplicate policies.
const (
	DupWarn   = "warn"
	DupBlock  = "block"
	DupSilent = "silent"
)

var stationNameRe = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,50}$`)

// Config is the effective agent configuration. It is immutable after Load.
type Config struct {
	CloudURL    string
	CloudKey    string
	StationName string

	DataDir    string
	DBPath     string
	RosterPath string
	LogFile    string

	BatchSize     int
	UploadTimeout time.Duration
	RecentHistory int

	Health struct {
		Interval     time.Duration // 0 disables periodic probing
		Timeout      time.Duration
		InitialDelay time.Duration
		Hysteresis   int
	}

	AutoSync struct {
		Enabled           bool
		Idle              time.Duration
		CheckInterval     time.Duration
		MinPending        int
		ConnectionTimeout time.Duration
	}

	Retry struct {
		Enabled                bool
		MaxAttempts            int
		Backoff                time.Duration
		MaxConsecutiveFailures int
		Cooldown               time.Duration
	}

	Duplicate struct {
		Enabled bool
		Window  time.Duration
		Action  string
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cloud.url", "")
	v.SetDefault("cloud.key", "")
	v.SetDefault("station.name", "")

	v.SetDefault("data.dir", "")
	v.SetDefault("log.file", "")

	v.SetDefault("batch.size", 100)
	v.SetDefault("upload.timeout", "10s")
	v.SetDefault("history.recent", 10)

	v.SetDefault("health.interval", "60s")
	v.SetDefault("health.timeout", "1.5s")
	v.SetDefault("health.initial-delay", "15s")
	v.SetDefault("health.hysteresis", 2)

	v.SetDefault("autosync.enabled", true)
	v.SetDefault("autosync.idle", "30s")
	v.SetDefault("autosync.check-interval", "60s")
	v.SetDefault("autosync.min-pending", 1)
	v.SetDefault("autosync.connection-timeout", "5s")

	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.max-attempts", 3)
	v.SetDefault("retry.backoff", "5s")
	v.SetDefault("retry.max-consecutive-failures", 5)
	v.SetDefault("retry.cooldown", "300s")

	v.SetDefault("duplicate.enabled", true)
	v.SetDefault("duplicate.window", "60s")
	v.SetDefault("duplicate.action", DupWarn)
}

// Load reads configuration from file, environment, and defaults.
// The optional explicitFile overrides file discovery (used by --config).
func Load(log *slog.Logger, explicitFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
		configFileSet = true
	}

	// 1. Executable directory attendd.yaml
	if !configFileSet {
		if exe, err := os.Executable(); err == nil {
			path := filepath.Join(filepath.Dir(exe), "attendd.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// 2. Working directory attendd.yaml
	if !configFileSet {
		if cwd, err := os.Getwd(); err == nil {
			path := filepath.Join(cwd, "attendd.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// 3. Environment variables: ATTEND_CLOUD_URL maps to "cloud.url"
	v.SetEnvPrefix("ATTEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		log.Info("loaded config", "file", v.ConfigFileUsed())
	} else {
		log.Info("no config file found; using defaults and environment")
	}

	return build(v, log)
}

// build validates, clamps, and freezes the configuration.
func build(v *viper.Viper, log *slog.Logger) (*Config, error) {
	cfg := &Config{}

	cfg.CloudURL = strings.TrimRight(strings.TrimSpace(v.GetString("cloud.url")), "/")
	cfg.CloudKey = strings.TrimSpace(v.GetString("cloud.key"))
	if cfg.CloudURL == "" {
		return nil, fmt.Errorf("cloud.url is required (set ATTEND_CLOUD_URL or attendd.yaml)")
	}
	if cfg.CloudKey == "" {
		return nil, fmt.Errorf("cloud.key is required (set ATTEND_CLOUD_KEY or attendd.yaml)")
	}

	cfg.StationName = strings.TrimSpace(v.GetString("station.name"))
	if cfg.StationName != "" && !stationNameRe.MatchString(cfg.StationName) {
		return nil, fmt.Errorf("station.name %q is invalid: 1-50 characters from [A-Za-z0-9 _-]", cfg.StationName)
	}

	cfg.DataDir = v.GetString("data.dir")
	if cfg.DataDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.DataDir = filepath.Join(dir, "attendd")
		} else {
			cfg.DataDir = ".attendd"
		}
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "attendd.db")
	cfg.RosterPath = filepath.Join(cfg.DataDir, "roster.json")
	cfg.LogFile = v.GetString("log.file")
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "attendd.log")
	}

	cfg.BatchSize = clampInt(log, "batch.size", v.GetInt("batch.size"), 1, 1000)
	cfg.UploadTimeout = clampDur(log, "upload.timeout", v.GetDuration("upload.timeout"), time.Second, 2*time.Minute)
	cfg.RecentHistory = clampInt(log, "history.recent", v.GetInt("history.recent"), 1, 100)

	cfg.Health.Interval = v.GetDuration("health.interval")
	if cfg.Health.Interval < 0 {
		log.Warn("clamping config value", "key", "health.interval", "from", cfg.Health.Interval, "to", time.Duration(0))
		cfg.Health.Interval = 0 // 0 disables polling; manual probing still works
	}
	cfg.Health.Timeout = clampDur(log, "health.timeout", v.GetDuration("health.timeout"), 500*time.Millisecond, 30*time.Second)
	cfg.Health.InitialDelay = v.GetDuration("health.initial-delay")
	if cfg.Health.InitialDelay < 0 {
		log.Warn("clamping config value", "key", "health.initial-delay", "from", cfg.Health.InitialDelay, "to", time.Duration(0))
		cfg.Health.InitialDelay = 0
	}
	cfg.Health.Hysteresis = clampInt(log, "health.hysteresis", v.GetInt("health.hysteresis"), 1, 100)

	cfg.AutoSync.Enabled = v.GetBool("autosync.enabled")
	cfg.AutoSync.Idle = clampDur(log, "autosync.idle", v.GetDuration("autosync.idle"), 5*time.Second, 3600*time.Second)
	cfg.AutoSync.CheckInterval = clampDur(log, "autosync.check-interval", v.GetDuration("autosync.check-interval"), 10*time.Second, 3600*time.Second)
	cfg.AutoSync.MinPending = clampInt(log, "autosync.min-pending", v.GetInt("autosync.min-pending"), 1, 10000)
	cfg.AutoSync.ConnectionTimeout = clampDur(log, "autosync.connection-timeout", v.GetDuration("autosync.connection-timeout"), time.Second, 30*time.Second)

	cfg.Retry.Enabled = v.GetBool("retry.enabled")
	cfg.Retry.MaxAttempts = clampInt(log, "retry.max-attempts", v.GetInt("retry.max-attempts"), 1, 10)
	cfg.Retry.Backoff = clampDur(log, "retry.backoff", v.GetDuration("retry.backoff"), time.Second, 60*time.Second)
	cfg.Retry.MaxConsecutiveFailures = clampInt(log, "retry.max-consecutive-failures", v.GetInt("retry.max-consecutive-failures"), 1, 100)
	cfg.Retry.Cooldown = clampDur(log, "retry.cooldown", v.GetDuration("retry.cooldown"), 30*time.Second, 3600*time.Second)

	cfg.Duplicate.Enabled = v.GetBool("duplicate.enabled")
	cfg.Duplicate.Window = clampDur(log, "duplicate.window", v.GetDuration("duplicate.window"), time.Second, 3600*time.Second)
	cfg.Duplicate.Action = strings.ToLower(strings.TrimSpace(v.GetString("duplicate.action")))
	switch cfg.Duplicate.Action {
	case DupWarn, DupBlock, DupSilent:
	default:
		log.Warn("invalid duplicate.action, using warn", "value", cfg.Duplicate.Action)
		cfg.Duplicate.Action = DupWarn
	}

	return cfg, nil
}

// ValidStationName reports whether name satisfies the station constraints
// (1-50 characters from [A-Za-z0-9 _-]).
func ValidStationName(name string) bool {
	return stationNameRe.MatchString(name)
}

// Echo returns a redacted string map of the effective configuration for
// collaborator snapshots. The cloud key is never echoed.
func (c *Config) Echo() map[string]string {
	return map[string]string{
		"cloud.url":          c.CloudURL,
		"station.name":       c.StationName,
		"batch.size":         fmt.Sprintf("%d", c.BatchSize),
		"autosync.enabled":   fmt.Sprintf("%t", c.AutoSync.Enabled),
		"duplicate.enabled":  fmt.Sprintf("%t", c.Duplicate.Enabled),
		"duplicate.action":   c.Duplicate.Action,
		"duplicate.window":   c.Duplicate.Window.String(),
		"health.interval":    c.Health.Interval.String(),
		"retry.max-attempts": fmt.Sprintf("%d", c.Retry.MaxAttempts),
	}
}

func clampInt(log *slog.Logger, key string, val, min, max int) int {
	if val < min {
		log.Warn("clamping config value", "key", key, "from", val, "to", min)
		return min
	}
	if val > max {
		log.Warn("clamping config value", "key", key, "from", val, "to", max)
		return max
	}
	return val
}

func clampDur(log *slog.Logger, key string, val, min, max time.Duration) time.Duration {
	if val < min {
		log.Warn("clamping config value", "key", key, "from", val, "to", min)
		return min
	}
	if val > max {
		log.Warn("clamping config value", "key", key, "from", val, "to", max)
		return max
	}
	return val
}
