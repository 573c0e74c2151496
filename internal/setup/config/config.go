package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.1.0"

// Current version of the config file.
const (
	CurrentCommonVersion = 1
	CurrentBotVersion    = 1
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Bot    BotConfig
}

// CommonConfig contains configuration shared by every command.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Retry      Retry      `koanf:"retry"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Metrics    Metrics    `koanf:"metrics"`
}

// BotConfig contains Discord bot specific configuration.
type BotConfig struct {
	// Version of the bot config.
	Version int `koanf:"version"`
	// Request timeout in milliseconds.
	RequestTimeout int        `koanf:"request_timeout"`
	Discord        Discord    `koanf:"discord"`
	Roles          Roles      `koanf:"roles"`
	Channels       Channels   `koanf:"channels"`
	Moderation     Moderation `koanf:"moderation"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
}

// Retry contains retry configuration for platform calls.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial retry delay in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum time spent retrying in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
	// Require TLS when connecting.
	RequireTLS bool `koanf:"require_tls"`
	// Attach the OpenTelemetry query hook.
	EnableTracing bool `koanf:"enable_tracing"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
	// Disable client side caching for servers without CLIENT TRACKING.
	DisableCache bool `koanf:"disable_cache"`
}

// Metrics contains the Prometheus endpoint configuration.
type Metrics struct {
	// Serve /metrics when enabled.
	Enabled bool `koanf:"enabled"`
	// Listen address, e.g. ":9100".
	Addr string `koanf:"addr"`
}

// Discord contains Discord bot configuration.
type Discord struct {
	// Discord bot token for authentication.
	Token string `koanf:"token"`
	// Guild the bot moderates.
	GuildID uint64 `koanf:"guild_id"`
	// Register slash commands on start.
	SyncCommands bool `koanf:"sync_commands"`
}

// Roles contains the role ids the moderation kinds act on.
type Roles struct {
	// Role given to muted members.
	Muted uint64 `koanf:"muted"`
	// Role that grants voice access.
	Voice uint64 `koanf:"voice"`
	// Members holding any of these roles cannot be moderated.
	Protected []uint64 `koanf:"protected"`
	// Members holding any of these roles may use moderation commands.
	Moderators []uint64 `koanf:"moderators"`
}

// Channels contains the log channel ids.
type Channels struct {
	// Staff log receiving every case change.
	StaffActionLog uint64 `koanf:"staff_action_log"`
	// Public log for bans, kicks and mutes. Zero disables it.
	PublicActionLog uint64 `koanf:"public_action_log"`
}

// Moderation contains the moderation engine configuration.
type Moderation struct {
	// Seconds between reconciliation passes.
	ReconcileInterval int `koanf:"reconcile_interval"`
	// Maximum subjects probed at once.
	ProbeConcurrency int `koanf:"probe_concurrency"`
	// Seconds during which a repeated once-off case is rejected.
	DuplicateWindow int `koanf:"duplicate_window"`
	// Seconds between refreshes of the case gauges.
	StatsRefreshInterval int `koanf:"stats_refresh_interval"`
	// Send direct messages to moderated members.
	NotifySubjects bool `koanf:"notify_subjects"`
	// Days of messages removed by a softban.
	SoftbanDeleteDays int `koanf:"softban_delete_days"`
	// Users that can never be moderated.
	ProtectedUsers []uint64 `koanf:"protected_users"`
}

// ReconcileEvery returns the reconciliation interval.
func (m Moderation) ReconcileEvery() time.Duration {
	return secondsOr(m.ReconcileInterval, 5*time.Minute)
}

// DuplicateWindowDuration returns the duplicate window.
func (m Moderation) DuplicateWindowDuration() time.Duration {
	return secondsOr(m.DuplicateWindow, 5*time.Minute)
}

// StatsRefreshEvery returns the gauge refresh interval.
func (m Moderation) StatsRefreshEvery() time.Duration {
	return secondsOr(m.StatsRefreshInterval, time.Minute)
}

// SoftbanDeleteWindow returns how much message history a softban removes.
func (m Moderation) SoftbanDeleteWindow() time.Duration {
	if m.SoftbanDeleteDays <= 0 {
		return 24 * time.Hour
	}

	return time.Duration(m.SoftbanDeleteDays) * 24 * time.Hour
}

// LoadConfig loads the configuration from the default search paths.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadConfigFrom(
		".warden",
		homeDir+"/.warden/config",
		"/etc/warden/config",
		"/app/config",
		"config",
		".",
	)
}

// LoadConfigFrom loads common.toml and bot.toml from the first of configPaths
// containing each file.
func LoadConfigFrom(configPaths ...string) (*Config, string, error) {
	k := koanf.New(".")

	var usedConfigPath string

	configFiles := []string{"common", "bot"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("bot", config.Bot.Version, CurrentBotVersion); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/warden/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}

	return time.Duration(seconds) * time.Second
}
