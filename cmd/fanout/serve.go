package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/fanout/core/bus"
	"github.com/dmitrymomot/fanout/core/config"
	"github.com/dmitrymomot/fanout/core/logger"
	"github.com/dmitrymomot/fanout/core/relay"
	"github.com/dmitrymomot/fanout/core/server"
	"github.com/dmitrymomot/fanout/integration/database/redis"
)

var errUnknownBusDriver = errors.New("unknown bus driver")

func runServe(cmd *cobra.Command, _ []string) error {
	if envFile != "" {
		config.SetEnvFiles(envFile)
	}

	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("fanout stopped", logger.Error(err))
		return err
	}
	log.Info("fanout stopped")
	return nil
}

// serve connects the bus, starts the relay and serves HTTP until ctx is
// cancelled or a component fails.
func serve(ctx context.Context, cfg Config, log *slog.Logger) error {
	b, err := openBus(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	rl, err := relay.NewFromConfig(b, cfg.Relay, relay.WithLogger(log))
	if err != nil {
		_ = b.Close()
		return err
	}

	if err := rl.Start(ctx); err != nil {
		return errors.Join(err, rl.Shutdown(context.WithoutCancel(ctx)))
	}

	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log.With(logger.Component("http"))))
	if err != nil {
		return errors.Join(err, rl.Shutdown(context.WithoutCancel(ctx)))
	}

	log.InfoContext(ctx, "fanout starting",
		logger.Key("addr", cfg.Server.Addr),
		logger.Key("bus", cfg.BusDriver),
		logger.Instance(rl.Bridge().InstanceID()),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Run(ctx, rl.Handler()))
	g.Go(rl.Run(ctx))
	return g.Wait()
}

func openBus(ctx context.Context, cfg Config) (bus.Bus, error) {
	switch cfg.BusDriver {
	case busDriverRedis, "":
		return redis.NewBusFromConfig(ctx, cfg.Redis)
	case busDriverMemory:
		return bus.NewMemoryBus(0), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBusDriver, cfg.BusDriver)
	}
}
