// Package providers contains dependency injection providers for the treewatch daemon.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/treewatch/treewatch/internal/config"
	"github.com/treewatch/treewatch/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(_ do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
		File: logger.FileConfig{
			Path:       cfg.Logger.File,
			MaxSizeMB:  cfg.Logger.MaxSizeMB,
			MaxBackups: cfg.Logger.MaxBackups,
			MaxAgeDays: cfg.Logger.MaxAgeDays,
		},
	})

	log.Info("Starting treewatch daemon",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"addr", cfg.Server.Addr,
		"state_path", cfg.State.Path,
		"watch_backend", cfg.Watch.Backend,
	)

	return log, nil
}
