// Package logger builds slog loggers and provides attribute helpers.
//
// # Basic Usage
//
//	log := logger.New(
//		logger.WithDevelopment("fanout"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("relay started",
//		logger.Component("relay"),
//		logger.Topic("ws.*"),
//	)
//
// ForEnv picks a preset from the APP_ENV value. Production and staging write
// JSON at info level; anything else writes text at debug level. Every preset
// tags records with the service name and the environment.
//
// # Attributes
//
// Helpers return an empty slog.Attr for nil or empty input, which slog
// drops, so call sites stay free of nil checks:
//
//	log.Warn("publish failed", logger.Channel(name), logger.Error(err))
//
// Components accept an optional logger and fall back to Discard.
package logger
