// Package natsclient manages the NATS connection telemetry publishes over.
package natsclient

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/pkg/retry"
)

// Config holds connection settings.
type Config struct {
	URLs     []string
	Username string
	Password string
	Token    string
	// Name identifies this client to the server (default "gpukit").
	Name string
	// ReconnectWait between reconnection attempts (default 2s).
	ReconnectWait time.Duration
	// MaxReconnects before giving up, -1 for unlimited (default -1).
	MaxReconnects int
	// ConnectTimeout bounds each dial attempt (default 5s).
	ConnectTimeout time.Duration
}

// DefaultConfig returns connection defaults for the given URLs.
func DefaultConfig(urls ...string) Config {
	return Config{
		URLs:           urls,
		Name:           "gpukit",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if len(c.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "natsclient", "Validate",
			"at least one URL required")
	}
	return nil
}

// Client wraps a NATS connection with logging reconnect handlers. It exists
// so the rest of the process never touches raw connection options.
type Client struct {
	cfg    Config
	logger *slog.Logger
	conn   *nats.Conn
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client. Connect must be called before the connection is
// usable.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "gpukit"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	c := &Client{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the server with exponential backoff. The returned error is
// transient: the caller may retry Connect later or run without telemetry.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}
	switch {
	case c.cfg.Token != "":
		opts = append(opts, nats.Token(c.cfg.Token))
	case c.cfg.Username != "":
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}

	url := strings.Join(c.cfg.URLs, ",")
	conn, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*nats.Conn, error) {
		return nats.Connect(url, opts...)
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Connect", "dial "+url)
	}

	c.conn = conn
	c.logger.Info("NATS connected", "url", conn.ConnectedUrl(), "name", c.cfg.Name)
	return nil
}

// Conn returns the underlying connection, nil before Connect.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("NATS drain failed, closing hard", "error", err)
		c.conn.Close()
	}
	c.conn = nil
}
