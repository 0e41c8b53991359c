package bootstrap

import (
	"skin_tracker/internal/core"
	"skin_tracker/pkg/logging"
)

// InitLogger builds the process-wide zap logger from configuration
// and installs it as the global logger.
func InitLogger(cfg *Config) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}

	logging.SetGlobalLogger(logger)
	return logger, nil
}
