package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full application configuration. Values load from an optional
// config.json, then environment variables override the file.
type Config struct {
	ServerConfig       ServerConfig       `json:"server"`
	FeedConfig         FeedConfig         `json:"feed"`
	EngineConfig       EngineConfig       `json:"engine"`
	RiskConfig         RiskConfig         `json:"risk"`
	LifecycleConfig    LifecycleConfig    `json:"lifecycle"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	NotificationConfig NotificationConfig `json:"notification"`
	RedisConfig        RedisConfig        `json:"redis"`
	PostgresConfig     PostgresConfig     `json:"postgres"`
}

// ServerConfig holds the HTTP status API settings.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

// FeedConfig holds the price feed connection settings.
type FeedConfig struct {
	URL            string        `json:"url"`
	Symbols        []string      `json:"symbols"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
}

// EngineConfig holds the per-instrument analysis settings shared by all
// engines.
type EngineConfig struct {
	BufferCapacity     int     `json:"buffer_capacity"`
	SwingLookback      int     `json:"swing_lookback"`
	MinPatternStrength int     `json:"min_pattern_strength"`
	BaseConfluence     int     `json:"base_confluence"`
	ATRPeriod          int     `json:"atr_period"`
	StartingBalance    float64 `json:"starting_balance"`
}

// RiskConfig holds trade construction settings.
type RiskConfig struct {
	BaseRiskPercent   float64 `json:"base_risk_percent"`
	StrongRiskPercent float64 `json:"strong_risk_percent"`
	MaxRiskPercent    float64 `json:"max_risk_percent"`
	MaxPositionSize   float64 `json:"max_position_size"`
	MaxExposure       float64 `json:"max_exposure"`
}

// LifecycleConfig holds trade management settings.
type LifecycleConfig struct {
	BreakevenR      float64       `json:"breakeven_r"`
	TrailStartR     float64       `json:"trail_start_r"`
	PyramidEnabled  bool          `json:"pyramid_enabled"`
	PyramidMaxLevel int           `json:"pyramid_max_level"`
	ReentryMinDelay time.Duration `json:"reentry_min_delay"`
	ReentryExpiry   time.Duration `json:"reentry_expiry"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // console output instead of JSON
}

// NotificationConfig holds the outbound alert settings. Both providers are
// optional and off by default.
type NotificationConfig struct {
	Enabled           bool   `json:"enabled"`
	TelegramBotToken  string `json:"telegram_bot_token"`
	TelegramChatID    string `json:"telegram_chat_id"`
	DiscordWebhookURL string `json:"discord_webhook_url"`
}

// RedisConfig holds the trade snapshot store settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PostgresConfig holds the performance store settings. When disabled the
// in-memory store is used.
type PostgresConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

// Load reads config.json when present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the application cannot start with.
func (c *Config) Validate() error {
	if c.FeedConfig.URL == "" {
		return fmt.Errorf("feed url is required (FEED_URL)")
	}
	if len(c.FeedConfig.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required (FEED_SYMBOLS)")
	}
	if c.EngineConfig.StartingBalance <= 0 {
		return fmt.Errorf("starting balance must be positive")
	}
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerConfig.Port)
	}
	if c.RiskConfig.MaxRiskPercent > 10 {
		return fmt.Errorf("max risk percent %.1f exceeds the 10%% ceiling", c.RiskConfig.MaxRiskPercent)
	}
	if c.PostgresConfig.Enabled && c.PostgresConfig.DSN == "" {
		return fmt.Errorf("postgres enabled without a DSN")
	}
	if c.RedisConfig.Enabled && c.RedisConfig.Address == "" {
		return fmt.Errorf("redis enabled without an address")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolString(cfg.ServerConfig.ProductionMode)) == "true"

	cfg.FeedConfig.URL = getEnvOrDefault("FEED_URL", cfg.FeedConfig.URL)
	if symbols := os.Getenv("FEED_SYMBOLS"); symbols != "" {
		cfg.FeedConfig.Symbols = splitSymbols(symbols)
	}
	cfg.FeedConfig.ReconnectDelay = getEnvDurationOrDefault("FEED_RECONNECT_DELAY", cfg.FeedConfig.ReconnectDelay)

	cfg.EngineConfig.BufferCapacity = getEnvIntOrDefault("ENGINE_BUFFER_CAPACITY", cfg.EngineConfig.BufferCapacity)
	cfg.EngineConfig.SwingLookback = getEnvIntOrDefault("ENGINE_SWING_LOOKBACK", cfg.EngineConfig.SwingLookback)
	cfg.EngineConfig.MinPatternStrength = getEnvIntOrDefault("ENGINE_MIN_PATTERN_STRENGTH", cfg.EngineConfig.MinPatternStrength)
	cfg.EngineConfig.BaseConfluence = getEnvIntOrDefault("ENGINE_BASE_CONFLUENCE", cfg.EngineConfig.BaseConfluence)
	cfg.EngineConfig.ATRPeriod = getEnvIntOrDefault("ENGINE_ATR_PERIOD", cfg.EngineConfig.ATRPeriod)
	cfg.EngineConfig.StartingBalance = getEnvFloatOrDefault("ENGINE_STARTING_BALANCE", cfg.EngineConfig.StartingBalance)

	cfg.RiskConfig.BaseRiskPercent = getEnvFloatOrDefault("RISK_BASE_PERCENT", cfg.RiskConfig.BaseRiskPercent)
	cfg.RiskConfig.StrongRiskPercent = getEnvFloatOrDefault("RISK_STRONG_PERCENT", cfg.RiskConfig.StrongRiskPercent)
	cfg.RiskConfig.MaxRiskPercent = getEnvFloatOrDefault("RISK_MAX_PERCENT", cfg.RiskConfig.MaxRiskPercent)
	cfg.RiskConfig.MaxPositionSize = getEnvFloatOrDefault("RISK_MAX_POSITION_SIZE", cfg.RiskConfig.MaxPositionSize)
	cfg.RiskConfig.MaxExposure = getEnvFloatOrDefault("RISK_MAX_EXPOSURE", cfg.RiskConfig.MaxExposure)

	cfg.LifecycleConfig.BreakevenR = getEnvFloatOrDefault("LIFECYCLE_BREAKEVEN_R", cfg.LifecycleConfig.BreakevenR)
	cfg.LifecycleConfig.TrailStartR = getEnvFloatOrDefault("LIFECYCLE_TRAIL_START_R", cfg.LifecycleConfig.TrailStartR)
	cfg.LifecycleConfig.PyramidEnabled = getEnvOrDefault("LIFECYCLE_PYRAMID_ENABLED", boolString(cfg.LifecycleConfig.PyramidEnabled)) == "true"
	cfg.LifecycleConfig.PyramidMaxLevel = getEnvIntOrDefault("LIFECYCLE_PYRAMID_MAX_LEVEL", cfg.LifecycleConfig.PyramidMaxLevel)
	cfg.LifecycleConfig.ReentryMinDelay = getEnvDurationOrDefault("LIFECYCLE_REENTRY_MIN_DELAY", cfg.LifecycleConfig.ReentryMinDelay)
	cfg.LifecycleConfig.ReentryExpiry = getEnvDurationOrDefault("LIFECYCLE_REENTRY_EXPIRY", cfg.LifecycleConfig.ReentryExpiry)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Pretty = getEnvOrDefault("LOG_PRETTY", boolString(cfg.LoggingConfig.Pretty)) == "true"

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolString(cfg.NotificationConfig.Enabled)) == "true"
	cfg.NotificationConfig.TelegramBotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.TelegramBotToken)
	cfg.NotificationConfig.TelegramChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.TelegramChatID)
	cfg.NotificationConfig.DiscordWebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.DiscordWebhookURL)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.PostgresConfig.Enabled = getEnvOrDefault("POSTGRES_ENABLED", boolString(cfg.PostgresConfig.Enabled)) == "true"
	cfg.PostgresConfig.DSN = getEnvOrDefault("POSTGRES_DSN", cfg.PostgresConfig.DSN)
}

func applyDefaults(cfg *Config) {
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.Port == 0 {
		cfg.ServerConfig.Port = 8080
	}
	if cfg.EngineConfig.StartingBalance == 0 {
		cfg.EngineConfig.StartingBalance = 10000
	}
	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "info"
	}
	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
