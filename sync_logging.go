package toolsync

import (
	"context"
	"log/slog"
	"time"
)

// SyncLogEvent describes one reconciliation step for logging.
type SyncLogEvent struct {
	DigestID    string
	Slot        int
	Action      string
	Key         string
	PreviousKey string
	Pass        int
	Duration    time.Duration
	Err         error
}

// SyncLogger records reconciliation steps.
type SyncLogger interface {
	LogSync(SyncLogEvent)
}

// SyncLoggerFunc adapts a function to SyncLogger.
type SyncLoggerFunc func(SyncLogEvent)

// LogSync implements SyncLogger.
func (f SyncLoggerFunc) LogSync(event SyncLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopSyncLogger struct{}

func (noopSyncLogger) LogSync(SyncLogEvent) {}

type slogSyncLogger struct {
	logger *slog.Logger
}

// NewSlogLogger writes reconciliation steps to logger. Failed steps are logged
// at warn level, everything else at debug.
func NewSlogLogger(logger *slog.Logger) SyncLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogSyncLogger{logger: logger.With("component", "toolsync")}
}

func (l slogSyncLogger) LogSync(event SyncLogEvent) {
	attrs := []slog.Attr{
		slog.String("action", event.Action),
		slog.Int("slot", event.Slot),
	}
	if event.DigestID != "" {
		attrs = append(attrs, slog.String("digest_id", event.DigestID))
	}
	if event.Key != "" {
		attrs = append(attrs, slog.String("key", event.Key))
	}
	if event.PreviousKey != "" {
		attrs = append(attrs, slog.String("previous_key", event.PreviousKey))
	}
	if event.Pass > 0 {
		attrs = append(attrs, slog.Int("pass", event.Pass))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	level := slog.LevelDebug
	if event.Err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", event.Err.Error()))
	}
	l.logger.LogAttrs(context.Background(), level, "toolsync "+event.Action, attrs...)
}
