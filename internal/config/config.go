// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	API         APIConfig         `yaml:"api"`
	Stream      StreamConfig      `yaml:"stream"`
	Filters     FiltersConfig     `yaml:"filters"`
	AutoBuy     AutoBuyConfig     `yaml:"auto_buy"`
	Cache       CacheConfig       `yaml:"cache"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

// APIConfig contains marketplace API credentials and endpoints
type APIConfig struct {
	BaseURL      string `yaml:"base_url"`
	Key          string `yaml:"key" validate:"required"`
	SteamPartner string `yaml:"steam_partner" validate:"required"`
	SteamToken   string `yaml:"steam_token" validate:"required"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

// StreamConfig contains websocket connection settings
type StreamConfig struct {
	URL                  string `yaml:"url"`
	TokenURL             string `yaml:"token_url"`
	Channel              string `yaml:"channel"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" validate:"min=1,max=100"`
	ReconnectDelaySec    int    `yaml:"reconnect_delay_sec" validate:"min=1,max=60"`
	HeartbeatIntervalSec int    `yaml:"heartbeat_interval_sec" validate:"min=1,max=600"`
	NoEventsTimeoutSec   int    `yaml:"no_events_timeout_sec" validate:"min=1,max=3600"`
}

// FloatRange is one inclusive [min, max] wear interval. Order in the
// config file is significant: the first matching range wins.
type FloatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// FiltersConfig contains the notification criteria
type FiltersConfig struct {
	GameID            int          `yaml:"game_id"`
	FloatRanges       []FloatRange `yaml:"float_ranges"`
	StickerKeywords   []string     `yaml:"sticker_keywords"`
	CharmKeywords     []string     `yaml:"charm_keywords"`
	HighlightKeywords []string     `yaml:"highlight_keywords"`
}

// AutoBuyConfig contains the automatic purchase sub-policy thresholds
type AutoBuyConfig struct {
	Enabled          bool     `yaml:"enabled"`
	FloatThreshold   float64  `yaml:"float_threshold" validate:"min=0,max=1"`
	MaxPrice         float64  `yaml:"max_price" validate:"min=0"`
	ExcludedKeywords []string `yaml:"excluded_keywords"`
}

// CacheConfig contains dedup cache timing settings (seconds)
type CacheConfig struct {
	CleanupIntervalSec      int `yaml:"cleanup_interval_sec" validate:"min=1"`
	ItemTTLSec              int `yaml:"item_ttl_sec" validate:"min=1"`
	DuplicateCheckWindowSec int `yaml:"duplicate_check_window_sec" validate:"min=1"`
	// TrackedItemTTLSec bounds the active-item table. 0 keeps the
	// reference behavior: tracked items live until their deleted event.
	TrackedItemTTLSec int `yaml:"tracked_item_ttl_sec"`
}

// TelegramConfig contains chat front-end settings
type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token" validate:"required"`
	ChatID         string  `yaml:"chat_id" validate:"required"`
	PollTimeoutSec int     `yaml:"poll_timeout_sec"`
	SendRatePerSec float64 `yaml:"send_rate_per_sec"`
}

// AlertsConfig contains operational alert channel settings
type AlertsConfig struct {
	TelegramEnabled bool   `yaml:"telegram_enabled"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	NotifyPoolSize     int `yaml:"notify_pool_size" validate:"min=1,max=100"`
	NotifyPoolBuffer   int `yaml:"notify_pool_buffer" validate:"min=1,max=10000"`
	PurchasePoolSize   int `yaml:"purchase_pool_size" validate:"min=1,max=100"`
	PurchasePoolBuffer int `yaml:"purchase_pool_buffer" validate:"min=1,max=10000"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAPIConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStreamConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateFiltersConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateAutoBuyConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateCacheConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTelegramConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAPIConfig() error {
	if c.API.Key == "" {
		return ValidationError{
			Field:   "api.key",
			Message: "marketplace API key is required",
		}
	}
	if c.API.SteamPartner == "" || c.API.SteamToken == "" {
		return ValidationError{
			Field:   "api.steam_partner",
			Message: "steam partner and token are required for purchases",
		}
	}
	return nil
}

func (c *Config) validateStreamConfig() error {
	if c.Stream.URL == "" || c.Stream.TokenURL == "" {
		return ValidationError{
			Field:   "stream.url",
			Message: "stream url and token url are required",
		}
	}
	if c.Stream.Channel == "" {
		return ValidationError{
			Field:   "stream.channel",
			Message: "subscription channel is required",
		}
	}
	if c.Stream.MaxReconnectAttempts < 1 {
		return ValidationError{
			Field:   "stream.max_reconnect_attempts",
			Value:   c.Stream.MaxReconnectAttempts,
			Message: "must be at least 1",
		}
	}
	if c.Stream.ReconnectDelaySec < 1 {
		return ValidationError{
			Field:   "stream.reconnect_delay_sec",
			Value:   c.Stream.ReconnectDelaySec,
			Message: "must be at least 1 second",
		}
	}
	if c.Stream.NoEventsTimeoutSec <= c.Stream.HeartbeatIntervalSec {
		return ValidationError{
			Field:   "stream.no_events_timeout_sec",
			Value:   c.Stream.NoEventsTimeoutSec,
			Message: "must exceed heartbeat_interval_sec",
		}
	}
	return nil
}

func (c *Config) validateFiltersConfig() error {
	for i, r := range c.Filters.FloatRanges {
		if r.Min > r.Max {
			return ValidationError{
				Field:   fmt.Sprintf("filters.float_ranges[%d]", i),
				Value:   r,
				Message: "min must not exceed max",
			}
		}
		if r.Min < 0 || r.Max > 1 {
			return ValidationError{
				Field:   fmt.Sprintf("filters.float_ranges[%d]", i),
				Value:   r,
				Message: "bounds must stay within [0, 1]",
			}
		}
	}
	return nil
}

func (c *Config) validateAutoBuyConfig() error {
	if !c.AutoBuy.Enabled {
		return nil
	}
	if c.AutoBuy.FloatThreshold <= 0 || c.AutoBuy.FloatThreshold > 1 {
		return ValidationError{
			Field:   "auto_buy.float_threshold",
			Value:   c.AutoBuy.FloatThreshold,
			Message: "must be in (0, 1]",
		}
	}
	if c.AutoBuy.MaxPrice <= 0 {
		return ValidationError{
			Field:   "auto_buy.max_price",
			Value:   c.AutoBuy.MaxPrice,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateCacheConfig() error {
	if c.Cache.ItemTTLSec < c.Cache.DuplicateCheckWindowSec {
		return ValidationError{
			Field:   "cache.item_ttl_sec",
			Value:   c.Cache.ItemTTLSec,
			Message: "must not be shorter than duplicate_check_window_sec",
		}
	}
	if c.Cache.CleanupIntervalSec < 1 {
		return ValidationError{
			Field:   "cache.cleanup_interval_sec",
			Value:   c.Cache.CleanupIntervalSec,
			Message: "must be at least 1 second",
		}
	}
	return nil
}

func (c *Config) validateTelegramConfig() error {
	if c.Telegram.BotToken == "" {
		return ValidationError{
			Field:   "telegram.bot_token",
			Message: "bot token is required",
		}
	}
	if c.Telegram.ChatID == "" {
		return ValidationError{
			Field:   "telegram.chat_id",
			Message: "chat id is required",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// OverlappingFloatRanges reports index pairs of configured ranges that
// intersect. Overlaps are tolerated (first match wins) but worth a
// startup warning.
func (c *Config) OverlappingFloatRanges() [][2]int {
	var overlaps [][2]int
	ranges := c.Filters.FloatRanges
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i].Min <= ranges[j].Max && ranges[j].Min <= ranges[i].Max {
				overlaps = append(overlaps, [2]int{i, j})
			}
		}
	}
	return overlaps
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.API.Key = maskString(c.API.Key)
	configCopy.API.SteamToken = maskString(c.API.SteamToken)
	configCopy.Telegram.BotToken = maskString(c.Telegram.BotToken)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the reference configuration. Credentials are
// intentionally empty and come from the config file or environment.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.lis-skins.com/v1",
			TimeoutSec: 15,
		},
		Stream: StreamConfig{
			URL:                  "wss://ws.lis-skins.com/connection/websocket",
			TokenURL:             "https://api.lis-skins.com/v1/user/get-ws-token",
			Channel:              "public:obtained-skins",
			MaxReconnectAttempts: 10,
			ReconnectDelaySec:    5,
			HeartbeatIntervalSec: 60,
			NoEventsTimeoutSec:   300,
		},
		Filters: FiltersConfig{
			GameID: 1,
			FloatRanges: []FloatRange{
				{Min: 0.00, Max: 0.01},
				{Min: 0.07, Max: 0.071},
				{Min: 0.99, Max: 1.00},
			},
			StickerKeywords: []string{
				"2013",
				"Katowice 2014",
				"Cologne 2016",
				"Atlanta 2017",
				"Boston 2018",
				"Katowice 2019",
			},
			CharmKeywords: []string{
				"Howling Dawn",
				"Windged Defuser",
				"Crown (Foil)",
				"2013",
				"Katowice 2014",
				"Katowice 2015",
				"(Holo) | Cologne 2016",
				"(Foil) | Cologne 2016",
				"(Holo) | Atlanta 2017",
				"(Foil) | Atlanta 2017",
				"(Holo) | Boston 2018",
				"(Foil) | Boston 2018",
			},
			HighlightKeywords: []string{
				"Hightlight",
			},
		},
		AutoBuy: AutoBuyConfig{
			Enabled:          true,
			FloatThreshold:   0.001,
			MaxPrice:         50,
			ExcludedKeywords: []string{"Souvenir", "StatTrak"},
		},
		Cache: CacheConfig{
			CleanupIntervalSec:      3600,
			ItemTTLSec:              7200,
			DuplicateCheckWindowSec: 1800,
			TrackedItemTTLSec:       0,
		},
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
			SendRatePerSec: 1,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9091,
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			NotifyPoolSize:     4,
			NotifyPoolBuffer:   256,
			PurchasePoolSize:   2,
			PurchasePoolBuffer: 64,
		},
	}
}
