// Package events publishes committed timeline events to NATS for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/miradorstack/mirador-ir/internal/models"
)

const (
	// DefaultSubjectPrefix is prepended to the event type to form the subject.
	DefaultSubjectPrefix = "ir.timeline"
	// ConnectTimeout bounds the initial dial.
	ConnectTimeout = 10 * time.Second
	// ReconnectWait is the pause between reconnect attempts.
	ReconnectWait = 5 * time.Second
	// MaxReconnectAttempts caps reconnects before the connection is closed.
	MaxReconnectAttempts = 10
	// PublishTimeout bounds a single publish.
	PublishTimeout = 5 * time.Second
)

// Header names carried by every message.
const (
	HeaderIncidentID = "x-incident-id"
	HeaderEventID    = "x-event-id"
	HeaderEventType  = "x-event-type"
)

// msgPublisher is the subset of *nats.Conn used for publishing.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher writes timeline events to subjects "<prefix>.<event_type>".
type Publisher struct {
	conn   msgPublisher
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect dials natsURL and returns a publisher. The client reconnects on its own.
func Connect(natsURL, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(natsURL,
		nats.Name("mirador-ir"),
		nats.Timeout(ConnectTimeout),
		nats.ReconnectWait(ReconnectWait),
		nats.MaxReconnects(MaxReconnectAttempts),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", natsURL, err)
	}
	p := newPublisher(nc, prefix, logger)
	p.nc = nc
	logger.Info("nats publisher initialized", slog.String("url", natsURL), slog.String("prefix", p.prefix))
	return p, nil
}

func newPublisher(conn msgPublisher, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject an event of eventType is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// NewMessage encodes ev as a JSON message with identifying headers.
func (p *Publisher) NewMessage(ev models.TimelineEvent) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal timeline event: %w", err)
	}
	msg := nats.NewMsg(p.Subject(ev.EventType))
	msg.Data = data
	msg.Header.Set(HeaderIncidentID, ev.IncidentID)
	msg.Header.Set(HeaderEventID, ev.ID)
	msg.Header.Set(HeaderEventType, ev.EventType)
	return msg, nil
}

// Publish sends ev unless ctx is already done.
func (p *Publisher) Publish(ctx context.Context, ev models.TimelineEvent) error {
	msg, err := p.NewMessage(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return fmt.Errorf("publish timeout: %w", ctx.Err())
	default:
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	p.logger.Debug("timeline event published", slog.String("event_id", ev.ID), slog.String("subject", msg.Subject))
	return nil
}

// IsReady reports whether the underlying connection is up.
func (p *Publisher) IsReady() bool {
	if p.nc == nil {
		return p.conn != nil
	}
	return p.nc.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.logger.Info("nats publisher closed")
	return err
}
