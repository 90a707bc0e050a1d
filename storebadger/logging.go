package storebadger

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// badgerLoggerAdapter adapts *slog.Logger to badger.Logger. Badger calls
// all four methods unconditionally regardless of its own WithLoggingLevel
// setting, so the adapter re-derives and applies the slog.Level threshold
// itself rather than trusting badger to have already filtered.
type badgerLoggerAdapter struct {
	slogger  *slog.Logger
	minLevel slog.Level
}

func (b *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	b.log(slog.LevelError, format, args)
}

func (b *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	b.log(slog.LevelWarn, format, args)
}

func (b *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	b.log(slog.LevelInfo, format, args)
}

func (b *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	b.log(slog.LevelDebug, format, args)
}

func (b *badgerLoggerAdapter) log(level slog.Level, format string, args []interface{}) {
	if level < b.minLevel {
		return
	}
	msg := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
	b.slogger.Log(nil, level, msg)
}

// newBadgerLogger builds a badger.Logger that writes through slogger under
// a "badger" component field, filtered to minLevel and above. Open still
// passes badger its own WithLoggingLevel so the two filters agree, but
// this adapter no longer trusts that to be sufficient on its own.
func newBadgerLogger(slogger *slog.Logger, minLevel slog.Level) badger.Logger {
	return &badgerLoggerAdapter{
		slogger:  slogger.With("component", "badger"),
		minLevel: minLevel,
	}
}
