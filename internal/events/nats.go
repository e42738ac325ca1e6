package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "aero.signaling"

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events as JSON on core NATS subjects of the form
// <prefix>.<event type>, e.g. aero.signaling.peer.joined.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	// Name is reported to the server as the client connection name.
	Name   string
	Logger *slog.Logger
}

// ConnectNATS dials the server and returns a publisher. The connection
// reconnects indefinitely in the background; publishes issued while
// disconnected are buffered by the client library.
func ConnectNATS(cfg NATSConfig) (*NATSPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSPublisher(conn, cfg.SubjectPrefix), nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event of the given type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
