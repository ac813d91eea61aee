package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/betledger/internal/models"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Seed       SeedConfig       `mapstructure:"seed"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// EngineConfig holds the deploying identity
type EngineConfig struct {
	Owner string `mapstructure:"owner"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxEvents int    `mapstructure:"max_events"` // 0 = keep every event
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SettlementConfig holds the house share and finalize retry policy
type SettlementConfig struct {
	HouseSharePercent     int           `mapstructure:"house_share_percent"`
	FinalizeRetryInterval time.Duration `mapstructure:"finalize_retry_interval"`
	FinalizeMaxAttempts   int           `mapstructure:"finalize_max_attempts"`
}

// SeedConfig describes the event and roster created by the seed command
type SeedConfig struct {
	Event        SeedEvent         `mapstructure:"event"`
	Participants []SeedParticipant `mapstructure:"participants"`
}

// SeedEvent holds the seeded event header
type SeedEvent struct {
	Name             string        `mapstructure:"name"`
	Description      string        `mapstructure:"description"`
	BettingDuration  time.Duration `mapstructure:"betting_duration"`
	SettlingDuration time.Duration `mapstructure:"settling_duration"`
}

// SeedParticipant is one roster entry; BaseValue is a decimal integer string
type SeedParticipant struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	BaseValue   string `mapstructure:"base_value"`
}

// TelegramConfig holds Telegram operator channel configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig toggles the prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// BETLEDGER_ENGINE_OWNER overrides engine.owner
	v.SetEnvPrefix("BETLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.owner", "")

	v.SetDefault("storage.db_path", "./data/betledger.db")
	v.SetDefault("storage.max_events", 100)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("settlement.house_share_percent", 40)
	v.SetDefault("settlement.finalize_retry_interval", "10s")
	v.SetDefault("settlement.finalize_max_attempts", 30)

	v.SetDefault("seed.event.name", "Event")
	v.SetDefault("seed.event.description", "")
	v.SetDefault("seed.event.betting_duration", "1m")
	v.SetDefault("seed.event.settling_duration", "2m")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.Owner) == "" {
		return fmt.Errorf("engine.owner is required")
	}

	if c.Storage.MaxEvents < 0 {
		return fmt.Errorf("storage.max_events must not be negative")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ShutdownTimeout < time.Second {
		return fmt.Errorf("server.shutdown_timeout must be at least 1 second")
	}

	if c.Settlement.HouseSharePercent < 0 || c.Settlement.HouseSharePercent > 100 {
		return fmt.Errorf("settlement.house_share_percent must be between 0 and 100")
	}
	if c.Settlement.FinalizeRetryInterval < time.Second {
		return fmt.Errorf("settlement.finalize_retry_interval must be at least 1 second")
	}
	if c.Settlement.FinalizeMaxAttempts < 1 {
		return fmt.Errorf("settlement.finalize_max_attempts must be at least 1")
	}

	if c.Seed.Event.BettingDuration < 0 || c.Seed.Event.SettlingDuration < 0 {
		return fmt.Errorf("seed.event durations must not be negative")
	}
	seen := make(map[string]bool, len(c.Seed.Participants))
	for i, p := range c.Seed.Participants {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("seed.participants[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("seed.participants[%d].name %q is duplicated", i, name)
		}
		seen[name] = true
		if _, err := models.ParseAmount(p.BaseValue); err != nil {
			return fmt.Errorf("seed.participants[%d].base_value: %w", i, err)
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.MaxRetries < 0 {
		return fmt.Errorf("telegram.max_retries must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// SeedParticipants converts the configured roster into domain participants.
// Call Validate first; unparseable base values become zero.
func (c *Config) SeedParticipants() []models.Participant {
	out := make([]models.Participant, 0, len(c.Seed.Participants))
	for _, p := range c.Seed.Participants {
		base, _ := models.ParseAmount(p.BaseValue)
		out = append(out, models.Participant{
			Name:        p.Name,
			Description: p.Description,
			BaseValue:   base,
		})
	}
	return out
}

// OwnerIdentity returns engine.owner as an identity
func (c *Config) OwnerIdentity() models.Identity {
	return models.Identity(strings.TrimSpace(c.Engine.Owner))
}
