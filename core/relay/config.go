package relay

import (
	"time"

	"github.com/dmitrymomot/fanout/core/bus"
	"github.com/dmitrymomot/fanout/core/wsconn"
)

const (
	DefaultBridgeStopTimeout = 5 * time.Second
	DefaultCloseConcurrency  = 64

	ShutdownCloseReason = "Server shutdown"
)

// Config holds relay settings with environment variable support.
type Config struct {
	TopicPrefix  string        `env:"BUS_TOPIC_PREFIX" envDefault:"ws."`
	PollInterval time.Duration `env:"BUS_POLL_INTERVAL" envDefault:"1s"`

	// exit or degrade.
	LossPolicy string `env:"BUS_LOSS_POLICY" envDefault:"exit"`

	BridgeStopTimeout time.Duration `env:"BRIDGE_STOP_TIMEOUT" envDefault:"5s"`
	CloseConcurrency  int           `env:"SHUTDOWN_CLOSE_CONCURRENCY" envDefault:"64"`
	MetricsNamespace  string        `env:"METRICS_NAMESPACE" envDefault:"fanout"`

	WebSocket wsconn.Config
}

// NewFromConfig creates a Relay from configuration.
// Additional options override config values.
func NewFromConfig(b bus.Bus, cfg Config, opts ...Option) (*Relay, error) {
	policy, err := bus.ParseLossPolicy(cfg.LossPolicy)
	if err != nil {
		return nil, err
	}

	configOpts := []Option{
		WithBridgeOptions(
			bus.WithTopicPrefix(cfg.TopicPrefix),
			bus.WithPollInterval(cfg.PollInterval),
			bus.WithLossPolicy(policy),
		),
		WithBridgeStopTimeout(cfg.BridgeStopTimeout),
		WithCloseConcurrency(cfg.CloseConcurrency),
		WithMetricsNamespace(cfg.MetricsNamespace),
		WithUpgraderOptions(wsconn.OptionsFromConfig(cfg.WebSocket)...),
	}
	return New(b, append(configOpts, opts...)...)
}
