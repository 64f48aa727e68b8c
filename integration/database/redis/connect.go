package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Connect creates a Redis client and waits until it answers a ping,
// retrying with exponential backoff up to cfg.RetryAttempts times within
// cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	if !strings.HasPrefix(cfg.ConnectionURL, "redis://") && !strings.HasPrefix(cfg.ConnectionURL, "rediss://") {
		return nil, errors.Join(ErrFailedToParseRedisConnString, errors.New("scheme must be redis:// or rediss://"))
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client := redis.NewClient(opts)

	eb := backoff.NewExponentialBackOff()
	if cfg.RetryInterval > 0 {
		eb.InitialInterval = cfg.RetryInterval
	}
	eb.MaxElapsedTime = 0

	retries := uint64(0)
	if cfg.RetryAttempts > 1 {
		retries = uint64(cfg.RetryAttempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)

	if err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, policy); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrRedisNotReady, err)
	}

	return client, nil
}

// Healthcheck returns a function that pings Redis.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
