package main

import (
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/fanout/core/logger"
	"github.com/dmitrymomot/fanout/core/relay"
	"github.com/dmitrymomot/fanout/core/server"
	"github.com/dmitrymomot/fanout/integration/database/redis"
)

const (
	busDriverRedis  = "redis"
	busDriverMemory = "memory"
)

// Config is the process configuration.
type Config struct {
	AppName  string `env:"APP_NAME" envDefault:"fanout"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// redis, or memory for a single instance without a backplane.
	BusDriver string `env:"BUS_DRIVER" envDefault:"redis"`

	Redis  redis.Config
	Relay  relay.Config
	Server server.Config
}

func newLogger(cfg Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}

	return logger.New(
		logger.ForEnv(cfg.AppEnv, cfg.AppName),
		logger.WithLevel(level),
	), nil
}
