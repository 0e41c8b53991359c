package bootstrap

import (
	"fmt"

	"skin_tracker/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	// Buying needs the Steam trade credentials; a watch-only setup
	// passes schema validation but cannot complete a purchase.
	if cfg.AutoBuy.Enabled {
		if cfg.API.SteamPartner == "" || cfg.API.SteamToken == "" {
			return fmt.Errorf("steam_partner and steam_token are required when auto_buy is enabled")
		}
	}

	if cfg.Alerts.TelegramEnabled && cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot_token is required when telegram alerts are enabled")
	}

	return nil
}
