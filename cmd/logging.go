package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/greearb/xorp.ct-sub013/types"
)

var logLevelMap = map[string]slog.Level{
	"trace": types.LevelTrace,
	"debug": types.LevelDebug,
	"info":  types.LevelInfo,
	"warn":  types.LevelWarn,
	"error": types.LevelError,
}

func logReplacements(groups []string, a slog.Attr) slog.Attr {
	// Remove time.
	if a.Key == slog.TimeKey && len(groups) == 0 && !logTimeFlag {
		return slog.Attr{}
	}

	// Remove the directory from the source's filename.
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
	}

	// Name the level we added ourselves.
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if level, ok := a.Value.Any().(slog.Level); ok && level == types.LevelTrace {
			return slog.String(a.Key, "TRACE")
		}
	}

	// Split sequence numbers into the socket instance and its counter.
	if a.Key == types.SeqKey && a.Value.Kind() == slog.KindUint64 {
		return slog.String(a.Key, formatSeq(uint32(a.Value.Uint64())))
	}

	return a
}

func formatSeq(seq uint32) string {
	return fmt.Sprintf("%#010x(inst=%d,ctr=%d)", seq, seq>>16, seq&0xffff)
}

func setupLogging() error {
	level, ok := logLevelMap[logLevelFlag]
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevelFlag)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: logReplacements,
	}))
	slog.SetDefault(logger)

	return nil
}
