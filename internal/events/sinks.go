package events

import (
	"context"
	"log/slog"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// Store persists events. repositories.EventRepository implements it.
type Store interface {
	CreateEvent(ctx context.Context, ev *models.Event) error
}

// RepositorySink writes events to durable storage.
type RepositorySink struct {
	store Store
}

// NewRepositorySink creates a RepositorySink.
func NewRepositorySink(store Store) *RepositorySink {
	return &RepositorySink{store: store}
}

// Ship implements Sink.
func (s *RepositorySink) Ship(ctx context.Context, ev *models.Event) error {
	return s.store.CreateEvent(ctx, ev)
}

// Close implements Sink. The underlying connection is owned by the caller.
func (s *RepositorySink) Close() error { return nil }

// LogSink writes events to the structured application log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default at ship time.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Ship implements Sink.
func (s *LogSink) Ship(ctx context.Context, ev *models.Event) error {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "lifecycle event",
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.String("account_id", ev.AccountID),
		slog.String("resource_type", ev.ResourceType),
		slog.String("resource_id", ev.ResourceID),
		slog.String("message", ev.Message),
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
