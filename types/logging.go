package types

import "log/slog"

const (
	LevelTrace = slog.Level(slog.LevelDebug - 1)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// SeqKey is the attribute key under which sequence numbers get logged so
// that handlers can render them split into instance and counter.
const SeqKey = "seq"

// NewLogger returns a logger tagged for the given component, or one that
// throws everything away when enabled is false.
func NewLogger(component string, enabled bool) *slog.Logger {
	if !enabled {
		return slog.New(slog.DiscardHandler)
	}
	return slog.Default().With("t", component)
}
