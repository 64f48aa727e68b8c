package logger

import (
	"io"
	"log/slog"
	"os"
)

type config struct {
	level   slog.Level
	json    bool
	output  io.Writer
	attrs   []slog.Attr
	options *slog.HandlerOptions
}

// Option configures a logger built by New.
type Option func(*config)

// New builds a *slog.Logger. Without options it writes text at info level
// to stdout.
func New(opts ...Option) *slog.Logger {
	cfg := &config{
		level:  slog.LevelInfo,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	hopts := &slog.HandlerOptions{}
	if cfg.options != nil {
		o := *cfg.options
		hopts = &o
	}
	hopts.Level = cfg.level

	var h slog.Handler
	if cfg.json {
		h = slog.NewJSONHandler(cfg.output, hopts)
	} else {
		h = slog.NewTextHandler(cfg.output, hopts)
	}
	if len(cfg.attrs) > 0 {
		h = h.WithAttrs(cfg.attrs)
	}

	return slog.New(h)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithDevelopment: text output at debug level, tagged with the service name.
func WithDevelopment(service string) Option {
	return preset(service, "development", slog.LevelDebug, false)
}

// WithStaging: JSON output at info level, tagged with the service name.
func WithStaging(service string) Option {
	return preset(service, "staging", slog.LevelInfo, true)
}

// WithProduction: JSON output at info level, tagged with the service name.
func WithProduction(service string) Option {
	return preset(service, "production", slog.LevelInfo, true)
}

func preset(service, env string, level slog.Level, json bool) Option {
	return func(c *config) {
		c.level = level
		c.json = json
		c.attrs = append(c.attrs, slog.String("service", service), slog.String("env", env))
	}
}

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithJSONFormatter switches the handler to JSON.
func WithJSONFormatter() Option {
	return func(c *config) {
		c.json = true
	}
}

// WithTextFormatter switches the handler to text.
func WithTextFormatter() Option {
	return func(c *config) {
		c.json = false
	}
}

// WithOutput sets the destination writer.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithAttr adds attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// WithHandlerOptions sets custom handler options. The level is always taken
// from WithLevel or the environment preset.
func WithHandlerOptions(opts *slog.HandlerOptions) Option {
	return func(c *config) {
		c.options = opts
	}
}

// ForEnv picks the preset matching env. Unknown values get development
// output.
func ForEnv(env, service string) Option {
	switch env {
	case "production":
		return WithProduction(service)
	case "staging":
		return WithStaging(service)
	default:
		return WithDevelopment(service)
	}
}
