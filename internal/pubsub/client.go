// Package pubsub connects video pipelines to the real-time messaging
// service. Channels map to NATS subjects; the analysis, debug, metadata and
// control flows of one bot share a channel prefix and are told apart by a
// fixed suffix.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"vidbot/internal/packet"
)

// Channel suffixes are part of the external contract: operators and
// downstream consumers address these subchannels by name.
const (
	MetadataSuffix = "/metadata"
	AnalysisSuffix = "/analysis"
	DebugSuffix    = "/debug"
	ControlSuffix  = "/control"
)

// Config holds connection settings for the messaging service.
type Config struct {
	// URLs lists server endpoints, comma-joined for the client.
	URLs []string `yaml:"urls"`
	// Name identifies this connection to the server.
	Name string `yaml:"name"`
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URLs:           []string{nats.DefaultURL},
		Name:           "vidbot",
		ConnectTimeout: 10 * time.Second,
	}
}

// Subscription is the cancellable handle returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
}

// rawConn is the connection surface the client needs. It exists so tests
// can inject a fake in place of a live NATS connection.
type rawConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, h func(data []byte)) (Subscription, error)
	Flush() error
	Close()
	ConnectedUrl() string
}

// natsAdapter bridges rawConn onto *nats.Conn.
type natsAdapter struct {
	nc *nats.Conn
}

func (a natsAdapter) Publish(subject string, data []byte) error {
	return a.nc.Publish(subject, data)
}

func (a natsAdapter) Subscribe(subject string, h func([]byte)) (Subscription, error) {
	return a.nc.Subscribe(subject, func(msg *nats.Msg) { h(msg.Data) })
}

func (a natsAdapter) Flush() error        { return a.nc.Flush() }
func (a natsAdapter) Close()              { a.nc.Close() }
func (a natsAdapter) ConnectedUrl() string { return a.nc.ConnectedUrl() }

// natsConnectFunc allows test injection.
var natsConnectFunc = nats.Connect

// Client is a thin wrapper over a messaging connection speaking wire
// records.
type Client struct {
	conn   rawConn
	logger *slog.Logger
}

// Connect establishes a connection to the messaging service. A connection
// failure is a stream initialization error: the runtime refuses to start
// without its transport. A dropped connection is logged and reconnected; a
// connection that closes with an error is fatal by policy — the
// orchestrator restarts the process rather than letting it limp along.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger, onFatal func(error)) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pubsub")

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ConnectTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(timeout),
		nats.RetryOnFailedConnect(false),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil && onFatal != nil {
				onFatal(fmt.Errorf("pubsub connection closed: %w", err))
			}
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("pubsub disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("pubsub reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := natsConnectFunc(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %v: %v",
			packet.ErrStreamInitialization, cfg.URLs, err)
	}

	logger.Info("connected to pubsub", "url", nc.ConnectedUrl(), "name", cfg.Name)
	return &Client{conn: natsAdapter{nc: nc}, logger: logger}, nil
}

// Publish sends one wire record to a channel.
func (c *Client) Publish(channel string, data []byte) error {
	if err := c.conn.Publish(subject(channel), data); err != nil {
		return fmt.Errorf("publishing to %q: %w", channel, err)
	}
	return nil
}

// Subscribe delivers every record published on a channel to h.
func (c *Client) Subscribe(channel string, h func(data []byte)) (Subscription, error) {
	sub, err := c.conn.Subscribe(subject(channel), h)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribing to %q: %v",
			packet.ErrStreamInitialization, channel, err)
	}
	return sub, nil
}

// Close flushes pending publishes and drops the connection.
func (c *Client) Close() {
	if err := c.conn.Flush(); err != nil {
		c.logger.Warn("flush on close", "error", err)
	}
	c.conn.Close()
	c.logger.Info("pubsub client stopped")
}

// subject maps a channel name onto the NATS subject hierarchy.
func subject(channel string) string {
	return strings.ReplaceAll(channel, "/", ".")
}
