// Package hermes connects antiphon to the swarm's NATS bus.
package hermes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Option adjusts how Connect dials the bus.
type Option func(*settings)

type settings struct {
	name          string
	token         string
	maxReconnects int
	reconnectWait time.Duration
}

func defaults() settings {
	return settings{
		name:          "antiphon",
		maxReconnects: 60,
		reconnectWait: 2 * time.Second,
	}
}

// WithToken authenticates with a bearer token. Empty means no auth.
func WithToken(token string) Option {
	return func(s *settings) { s.token = token }
}

// WithName sets the connection name shown in server monitoring.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithReconnect bounds reconnect attempts and the pause between them.
func WithReconnect(max int, wait time.Duration) Option {
	return func(s *settings) {
		s.maxReconnects = max
		s.reconnectWait = wait
	}
}

func (s settings) natsOptions(logger *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(s.name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(s.maxReconnects),
		nats.ReconnectWait(s.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if s.token != "" {
		opts = append(opts, nats.Token(s.token))
	}
	return opts
}

// Client publishes JSON events and dispatches subscribed messages.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func Connect(url string, logger *slog.Logger, opts ...Option) (*Client, error) {
	s := defaults()
	for _, o := range opts {
		o(&s)
	}
	nc, err := nats.Connect(url, s.natsOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: logger.With("nats_name", s.name)}, nil
}

// Publish sends data as a JSON message.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: payload, Header: nats.Header{}}
	msg.Header.Set("Content-Type", "application/json")
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every message on subject to handler.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	return c.QueueSubscribe(subject, "", handler)
}

// QueueSubscribe delivers each message on subject to one member of queue.
// An empty queue is a plain subscription.
func (c *Client) QueueSubscribe(subject, queue string, handler func(subject string, data []byte)) error {
	cb := func(msg *nats.Msg) { handler(msg.Subject, msg.Data) }
	var err error
	if queue == "" {
		_, err = c.conn.Subscribe(subject, cb)
	} else {
		_, err = c.conn.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return nil
}

// Close drains subscriptions so in-flight handlers finish, then closes.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
}
