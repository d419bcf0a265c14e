package saga

import (
	"context"
	"log/slog"
)

// NewMultiSink fans an audit event out to every sink. Individual sink
// failures are logged and do not stop delivery to the others.
func NewMultiSink(logger *slog.Logger, sinks ...AuditSink) *MultiSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiSink{sinks: sinks, logger: logger}
}

// MultiSink is a fan-out AuditSink.
type MultiSink struct {
	sinks  []AuditSink
	logger *slog.Logger
}

func (m *MultiSink) Publish(ctx context.Context, event AuditEvent) error {
	for _, sink := range m.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			m.logger.WarnContext(ctx, "audit sink failed", "event", event.Type, "error", err)
		}
	}
	return nil
}

// NewLogSink constructs a sink that writes audit events to the logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// LogSink writes audit events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func (s *LogSink) Publish(ctx context.Context, event AuditEvent) error {
	s.logger.InfoContext(ctx, "audit event",
		"type", event.Type,
		"transaction_id", event.TransactionID,
		"order_id", event.OrderID,
		"detail", event.Detail,
	)
	return nil
}
