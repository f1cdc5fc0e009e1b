package hoard

import (
	"log/slog"
	"os"
	"time"
)

// EventLogger emits the store's diagnostic events through slog. It is a
// write-only collaborator: no store behavior depends on what it does
// with an event.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger builds an event logger over the given slog handler.
// A nil handler logs text to stderr at Info level.
func NewEventLogger(handler slog.Handler) *EventLogger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &EventLogger{logger: slog.New(handler)}
}

// NoopEventLogger discards every event.
func NoopEventLogger() *EventLogger {
	return &EventLogger{logger: slog.New(slog.DiscardHandler)}
}

// LogOpen records the outcome of opening a store directory.
func (l *EventLogger) LogOpen(engine, dir string, err error) {
	if err != nil {
		l.logger.Error("store open failed", "engine", engine, "dir", dir, "error", err)
		return
	}
	l.logger.Info("store opened", "engine", engine, "dir", dir)
}

// LogClose records the outcome of closing a store.
func (l *EventLogger) LogClose(dir string, err error) {
	if err != nil {
		l.logger.Error("store close failed", "dir", dir, "error", err)
		return
	}
	l.logger.Info("store closed", "dir", dir)
}

// LogCorruptObject records a failed integrity check. Fires once per
// detection, not once per damaged object.
func (l *EventLogger) LogCorruptObject(kind ObjectKind, key ObjectKey, reason string) {
	l.logger.Error("corrupt object detected", "kind", kind.String(), "key", key.String(), "reason", reason)
}

// LogBatchRead records a batched read that came back incomplete.
func (l *EventLogger) LogBatchRead(kind ObjectKind, requested, missing, failed int) {
	l.logger.Warn("batch read incomplete",
		"kind", kind.String(), "requested", requested, "missing", missing, "failed", failed)
}

// LogCompactionStart records the beginning of a compaction run.
func (l *EventLogger) LogCompactionStart(dir string) {
	l.logger.Info("compaction started", "dir", dir)
}

// LogCompactionDone records the end of a compaction run.
func (l *EventLogger) LogCompactionDone(dir string, elapsed time.Duration, err error) {
	if err != nil {
		l.logger.Error("compaction failed", "dir", dir, "elapsed", elapsed, "error", err)
		return
	}
	l.logger.Info("compaction finished", "dir", dir, "elapsed", elapsed)
}

// LogGCBatch records one committed deletion batch.
func (l *EventLogger) LogGCBatch(kind ObjectKind, deleted int) {
	l.logger.Info("gc batch deleted", "kind", kind.String(), "count", deleted)
}
