package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Kite      KiteConfig      `mapstructure:"kite"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AutoTrade AutoTradeConfig `mapstructure:"auto_trade"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// KiteConfig holds broker API configuration
type KiteConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	AccessToken    string        `mapstructure:"access_token"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// EngineConfig holds polling and alert behavior configuration.
// Thresholds are fractions: 0.05 means 5%.
type EngineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	BatchSize          int           `mapstructure:"batch_size"`
	BatchParallelism   int           `mapstructure:"batch_parallelism"`
	SpikeThreshold     float64       `mapstructure:"spike_threshold"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	StabilityThreshold float64       `mapstructure:"stability_threshold"`
	StabilityDuration  time.Duration `mapstructure:"stability_duration"`
	MarketOpen         string        `mapstructure:"market_open"`
	MarketClose        string        `mapstructure:"market_close"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// AutoTradeConfig holds automated order placement configuration.
// LTPPercent is a fraction of last price used as the limit offset.
type AutoTradeConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	BudgetCap  float64 `mapstructure:"budget_cap"`
	LTPPercent float64 `mapstructure:"ltp_percent"`
	Quantity   int64   `mapstructure:"quantity"`
	OrderType  string  `mapstructure:"order_type"`
	Product    string  `mapstructure:"product"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
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

	v.SetEnvPrefix("TBQWATCH")
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
	// Broker defaults
	v.SetDefault("kite.api_url", "https://api.kite.trade")
	v.SetDefault("kite.timeout", "10s")
	v.SetDefault("kite.max_retries", 3)
	v.SetDefault("kite.retry_delay_base", "1s")

	// Engine defaults
	v.SetDefault("engine.poll_interval", "5s")
	v.SetDefault("engine.batch_size", 50)
	v.SetDefault("engine.batch_parallelism", 2)
	v.SetDefault("engine.spike_threshold", 0.05)
	v.SetDefault("engine.cooldown", "300s")
	v.SetDefault("engine.stability_threshold", 0.02)
	v.SetDefault("engine.stability_duration", "60s")
	v.SetDefault("engine.market_open", "09:00:00")
	v.SetDefault("engine.market_close", "15:30:00")

	// Auto-trade defaults
	v.SetDefault("auto_trade.enabled", false)
	v.SetDefault("auto_trade.quantity", 1)
	v.SetDefault("auto_trade.order_type", "LIMIT")
	v.SetDefault("auto_trade.product", "MIS")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/tbqwatch.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate broker config
	if c.Kite.APIURL == "" {
		return fmt.Errorf("kite.api_url is required")
	}
	if c.Kite.APIKey == "" {
		return fmt.Errorf("kite.api_key is required")
	}
	if c.Kite.Timeout < time.Second {
		return fmt.Errorf("kite.timeout must be at least 1 second")
	}

	// Validate engine config
	if c.Engine.PollInterval < time.Second {
		return fmt.Errorf("engine.poll_interval must be at least 1 second")
	}
	if c.Engine.BatchSize < 1 || c.Engine.BatchSize > 500 {
		return fmt.Errorf("engine.batch_size must be between 1 and 500")
	}
	if c.Engine.BatchParallelism < 1 {
		return fmt.Errorf("engine.batch_parallelism must be at least 1")
	}
	if c.Engine.SpikeThreshold < 0 {
		return fmt.Errorf("engine.spike_threshold must not be negative")
	}
	if c.Engine.Cooldown < 0 {
		return fmt.Errorf("engine.cooldown must not be negative")
	}
	if c.Engine.StabilityThreshold < 0 {
		return fmt.Errorf("engine.stability_threshold must not be negative")
	}
	if c.Engine.StabilityDuration < 0 {
		return fmt.Errorf("engine.stability_duration must not be negative")
	}
	openT, err := time.Parse("15:04:05", c.Engine.MarketOpen)
	if err != nil {
		return fmt.Errorf("engine.market_open must be HH:MM:SS: %w", err)
	}
	closeT, err := time.Parse("15:04:05", c.Engine.MarketClose)
	if err != nil {
		return fmt.Errorf("engine.market_close must be HH:MM:SS: %w", err)
	}
	if !openT.Before(closeT) {
		return fmt.Errorf("engine.market_open must be before engine.market_close")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate auto-trade config
	if c.AutoTrade.Enabled {
		if c.AutoTrade.Quantity < 1 {
			return fmt.Errorf("auto_trade.quantity must be at least 1")
		}
		if c.AutoTrade.LTPPercent < 0 || c.AutoTrade.LTPPercent > 1 {
			return fmt.Errorf("auto_trade.ltp_percent must be between 0 and 1")
		}
		if c.AutoTrade.BudgetCap < 0 {
			return fmt.Errorf("auto_trade.budget_cap must not be negative")
		}
		switch c.AutoTrade.OrderType {
		case "MARKET", "LIMIT":
		default:
			return fmt.Errorf("auto_trade.order_type must be MARKET or LIMIT")
		}
		switch c.AutoTrade.Product {
		case "MIS", "CNC", "NRML":
		default:
			return fmt.Errorf("auto_trade.product must be one of: MIS, CNC, NRML")
		}
	}

	// Validate storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Validate logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, console")
	}

	return nil
}
