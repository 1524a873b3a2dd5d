package audit

import (
	"context"
	"log/slog"

	"sysaccess.org/internal/obs"
)

// LogSink writes audit entries as structured log lines of type "audit".
type LogSink struct{}

func (LogSink) Write(ctx context.Context, e Entry) error {
	actor := ""
	if e.ActorID != nil {
		actor = *e.ActorID
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("audit_id", e.ID),
		slog.String("event", e.Action),
		slog.String("target", e.Target),
		slog.String("actor_id", actor),
		slog.String("outcome", string(e.Outcome)),
		slog.Time("occurred_at", e.OccurredAt),
	}
	if e.SourceIP != "" {
		attrs = append(attrs, slog.String("source_ip", e.SourceIP))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("fields", e.Details))
	}
	obs.Logger().LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
