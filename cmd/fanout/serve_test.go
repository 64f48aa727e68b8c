package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/fanout/core/bus"
	"github.com/dmitrymomot/fanout/core/logger"
	"github.com/dmitrymomot/fanout/core/relay"
	"github.com/dmitrymomot/fanout/core/server"
	"github.com/dmitrymomot/fanout/integration/database/redis"
)

func testConfig(driver, redisURL string) Config {
	return Config{
		AppName:   "fanout",
		AppEnv:    "development",
		LogLevel:  "debug",
		BusDriver: driver,
		Redis: redis.Config{
			ConnectionURL:  redisURL,
			RetryAttempts:  1,
			RetryInterval:  10 * time.Millisecond,
			ConnectTimeout: time.Second,
		},
		Relay: relay.Config{
			TopicPrefix:  "ws.",
			PollInterval: 20 * time.Millisecond,
			LossPolicy:   "exit",
		},
		Server: server.Config{Addr: "127.0.0.1:0"},
	}
}

func TestOpenBus(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()

		b, err := openBus(context.Background(), testConfig(busDriverMemory, ""))
		require.NoError(t, err)
		assert.IsType(t, &bus.MemoryBus{}, b)
	})

	t.Run("redis", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		b, err := openBus(context.Background(), testConfig(busDriverRedis, "redis://"+mr.Addr()))
		require.NoError(t, err)
		defer b.Close()
		assert.NoError(t, b.Ping(context.Background()))
	})

	t.Run("unknown_driver", func(t *testing.T) {
		t.Parallel()

		_, err := openBus(context.Background(), testConfig("kafka", ""))
		assert.ErrorIs(t, err, errUnknownBusDriver)
	})
}

func TestServe(t *testing.T) {
	t.Parallel()

	t.Run("unreachable_bus_fails_before_serving", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		err := serve(context.Background(), testConfig(busDriverRedis, "redis://"+addr), logger.Discard())
		assert.ErrorIs(t, err, redis.ErrRedisNotReady)
	})

	t.Run("stops_cleanly_on_cancel", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- serve(ctx, testConfig(busDriverMemory, ""), logger.Discard()) }()

		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("serve did not stop")
		}
	})

	t.Run("invalid_loss_policy", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(busDriverMemory, "")
		cfg.Relay.LossPolicy = "retry"
		assert.Error(t, serve(context.Background(), cfg, logger.Discard()))
	})
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	_, err := newLogger(testConfig(busDriverMemory, ""))
	assert.NoError(t, err)

	cfg := testConfig(busDriverMemory, "")
	cfg.LogLevel = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}
