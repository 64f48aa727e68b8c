// Package redis connects to Redis and adapts it to the relay bus.
//
// Connect parses a redis:// or rediss:// URL, retries the initial ping with
// exponential backoff and returns a ready client. NewBus wraps that client
// as a bus.Bus using PUBLISH and PSUBSCRIBE; the bus takes ownership of the
// client and closes it on Close.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	b := redis.NewBus(client)
//
// Healthcheck returns a ping function suitable for readiness checks.
package redis
