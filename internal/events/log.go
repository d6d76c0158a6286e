package events

import (
	"context"
	"encoding/json"
	"log/slog"
)

// LogBackend writes each event as a structured log line. The default backend
// when no external bus is configured.
type LogBackend struct {
	logger *slog.Logger
}

// NewLogBackend creates a backend logging at info level.
func NewLogBackend(logger *slog.Logger) *LogBackend {
	return &LogBackend{logger: logger.With("component", "event-log")}
}

func (b *LogBackend) Name() string { return "log" }

func (b *LogBackend) Handle(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.logger.InfoContext(ctx, "catalog event",
		"kind", ev.Kind(), "entity", ev.EntityID(), "payload", json.RawMessage(payload))
	return nil
}

func (b *LogBackend) HealthCheck(ctx context.Context) error { return nil }
