package wsconn

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/fanout/core/logger"
)

const (
	DefaultPingInterval   = 55 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultSendQueueSize  = 64
	DefaultMaxMessageSize = 64 << 10 // 64 KiB
)

// Config holds websocket settings with environment variable support.
type Config struct {
	PingInterval   time.Duration `env:"WS_PING_INTERVAL" envDefault:"55s"`
	PongWait       time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	WriteTimeout   time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	SendQueueSize  int           `env:"WS_SEND_QUEUE_SIZE" envDefault:"64"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`

	// Empty means any origin is accepted.
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

type config struct {
	pingInterval   time.Duration
	pongWait       time.Duration
	writeTimeout   time.Duration
	sendQueueSize  int
	maxMessageSize int64
	logger         *slog.Logger
}

// Upgrader turns HTTP requests into channel connections.
type Upgrader struct {
	upgrader websocket.Upgrader
	cfg      config
}

// Option configures an Upgrader.
type Option func(*Upgrader)

func WithReadBuffer(size int) Option {
	return func(u *Upgrader) {
		u.upgrader.ReadBufferSize = size
	}
}

func WithWriteBuffer(size int) Option {
	return func(u *Upgrader) {
		u.upgrader.WriteBufferSize = size
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(u *Upgrader) {
		u.upgrader.HandshakeTimeout = timeout
	}
}

func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(u *Upgrader) {
		u.upgrader.CheckOrigin = fn
	}
}

// WithAllowedOrigins accepts only the listed origins, compared
// case-insensitively on scheme and host. An empty list accepts any origin.
func WithAllowedOrigins(origins ...string) Option {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, strings.ToLower(strings.TrimSuffix(o, "/")))
		}
	}

	return func(u *Upgrader) {
		if len(allowed) == 0 {
			u.upgrader.CheckOrigin = allowAnyOrigin
			return
		}
		u.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.Contains(allowed, strings.ToLower(parsed.Scheme+"://"+parsed.Host))
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(u *Upgrader) {
		if d > 0 {
			u.cfg.pingInterval = d
		}
	}
}

// WithPongWait sets how long the connection stays open without any frame
// from the peer. It is raised above the ping interval when needed.
func WithPongWait(d time.Duration) Option {
	return func(u *Upgrader) {
		if d > 0 {
			u.cfg.pongWait = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(u *Upgrader) {
		if d > 0 {
			u.cfg.writeTimeout = d
		}
	}
}

// WithSendQueueSize bounds the messages waiting for a slow peer.
func WithSendQueueSize(n int) Option {
	return func(u *Upgrader) {
		if n > 0 {
			u.cfg.sendQueueSize = n
		}
	}
}

func WithMaxMessageSize(n int64) Option {
	return func(u *Upgrader) {
		if n > 0 {
			u.cfg.maxMessageSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(u *Upgrader) {
		if l != nil {
			u.cfg.logger = l
		}
	}
}

// NewUpgrader creates an Upgrader. Any origin is accepted unless an origin
// option says otherwise.
func NewUpgrader(opts ...Option) *Upgrader {
	u := &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     allowAnyOrigin,
		},
		cfg: config{
			pingInterval:   DefaultPingInterval,
			pongWait:       DefaultPongWait,
			writeTimeout:   DefaultWriteTimeout,
			sendQueueSize:  DefaultSendQueueSize,
			maxMessageSize: DefaultMaxMessageSize,
			logger:         logger.Discard(),
		},
	}

	for _, opt := range opts {
		opt(u)
	}

	if u.cfg.pongWait <= u.cfg.pingInterval {
		u.cfg.pongWait = u.cfg.pingInterval + u.cfg.pingInterval/10
	}

	return u
}

// NewUpgraderFromConfig creates an Upgrader from configuration.
// Additional options override config values.
func NewUpgraderFromConfig(cfg Config, opts ...Option) *Upgrader {
	return NewUpgrader(append(OptionsFromConfig(cfg), opts...)...)
}

// OptionsFromConfig converts cfg into options. Zero values keep defaults.
func OptionsFromConfig(cfg Config) []Option {
	return []Option{
		WithPingInterval(cfg.PingInterval),
		WithPongWait(cfg.PongWait),
		WithWriteTimeout(cfg.WriteTimeout),
		WithSendQueueSize(cfg.SendQueueSize),
		WithMaxMessageSize(cfg.MaxMessageSize),
		WithAllowedOrigins(cfg.AllowedOrigins...),
	}
}

// Upgrade completes the websocket handshake and binds the connection to
// channelName. On failure the upgrader has already replied to the client.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, channelName string) (*Conn, error) {
	ws, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(ws, channelName, u.cfg), nil
}

func allowAnyOrigin(*http.Request) bool { return true }
