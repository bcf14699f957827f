package events

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

type logSink struct {
	logger *slog.Logger
}

// NewLogSink writes one structured log line per event.
func NewLogSink(logger *slog.Logger) knowledge.EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return adapter{logSink{logger: logger.With("component", "events")}}
}

func (s logSink) publish(ctx context.Context, eventType string, p Payload) error {
	attrs := []any{
		"type", eventType,
		"package_id", p.ID,
		"name", p.Name,
		"status", p.Status,
	}
	if p.Direction != "" {
		attrs = append(attrs, "direction", p.Direction)
	}
	s.logger.InfoContext(ctx, "Package event", attrs...)
	return nil
}
