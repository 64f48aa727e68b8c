// Package config loads environment variables into typed structs using
// caarlos0/env. Each configuration type is parsed once and cached.
//
// A .env file in the working directory is loaded on first use when present.
// SetEnvFiles replaces that default before the first Load.
//
//	type RedisConfig struct {
//		URL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
//	}
//
//	var cfg RedisConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
