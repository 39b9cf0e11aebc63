// Package events delivers resource lifecycle events to any number of sinks.
//
// Domain services call Publisher.Publish, which never blocks and never fails:
// delivery happens on a single dispatcher goroutine so sinks observe events in
// publish order, and a slow or broken sink only costs its own timeout. Sink
// errors are logged and counted, never returned to the request path.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
	"github.com/PoyrazK/Mini-AWS/internal/safego"
	"github.com/PoyrazK/Mini-AWS/internal/telemetry"
)

// Sink defines the interface for event delivery
type Sink interface {
	// Ship sends an event to the destination
	Ship(ctx context.Context, ev *models.Event) error
	// Close cleans up any resources
	Close() error
}

// Publisher is the producer-side view used by domain services.
type Publisher interface {
	Publish(ev *models.Event)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(*models.Event) {}

// New builds an event stamped with a fresh id and the current time.
func New(accountID, eventType, resourceType, resourceID, message string) *models.Event {
	return &models.Event{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Type:         eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}
}

// BusOptions tunes a Bus.
type BusOptions struct {
	// QueueSize bounds the number of undelivered events. When full, new events are dropped.
	QueueSize int
	// ShipTimeout bounds each Sink.Ship call.
	ShipTimeout time.Duration
}

// Bus fans events out to its sinks.
type Bus struct {
	sinks   []Sink
	timeout time.Duration
	queue   chan *models.Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewBus starts a Bus delivering to sinks.
func NewBus(opts BusOptions, sinks ...Sink) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.ShipTimeout <= 0 {
		opts.ShipTimeout = 5 * time.Second
	}
	b := &Bus{
		sinks:   sinks,
		timeout: opts.ShipTimeout,
		queue:   make(chan *models.Event, opts.QueueSize),
		done:    make(chan struct{}),
	}
	safego.Go("events.dispatch", b.dispatch)
	return b
}

// Publish enqueues ev for delivery. It never blocks.
func (b *Bus) Publish(ev *models.Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- ev:
	default:
		telemetry.EventsDroppedTotal.Inc()
		slog.Warn("event queue full, dropping event", "type", ev.Type, "resource_id", ev.ResourceID)
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for ev := range b.queue {
		for _, sink := range b.sinks {
			b.ship(sink, ev)
		}
	}
}

func (b *Bus) ship(sink Sink, ev *models.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event sink panicked", "type", ev.Type, "panic", r)
		}
	}()
	if err := sink.Ship(ctx, ev); err != nil {
		telemetry.EventSinkErrorsTotal.Inc()
		slog.Warn("event sink failed", "type", ev.Type, "resource_id", ev.ResourceID, "error", err)
	}
}

// Close stops accepting events, drains the queue, and closes every sink.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done

	var errs []error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
