package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// NATSSink publishes every event as JSON on <prefix>.<event type>, e.g.
// miniaws.events.instance.running.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink connects to url. The connection reconnects forever in the background.
func NewNATSSink(url, subjectPrefix string) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("mini-aws-control-plane"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &NATSSink{nc: nc, prefix: subjectPrefix}, nil
}

// Subject returns the subject an event of the given type is published on.
func (s *NATSSink) Subject(eventType string) string {
	if s.prefix == "" {
		return eventType
	}
	return s.prefix + "." + eventType
}

// Ship publishes ev.
func (s *NATSSink) Ship(_ context.Context, ev *models.Event) error {
	if s.nc == nil || s.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.nc.Publish(s.Subject(ev.Type), data)
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	s.nc.Close()
	return err
}
