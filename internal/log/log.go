// Package log configures the process-wide slog logger.
//
// The level lives in a slog.LevelVar so operators can raise verbosity on a
// running sentry without a restart.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	level slog.LevelVar

	mu     sync.Mutex
	global *slog.Logger
)

// ParseLevel maps debug, info, warn (or warning) and error, in any case,
// to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Init installs the global logger on stdout and makes it the slog default.
// An empty format means text, or JSON when GO_ENV=production. Unknown
// levels fall back to info; config validation rejects them earlier.
func Init(lvl, format string) *slog.Logger {
	l, _ := ParseLevel(lvl)
	level.Set(l)

	mu.Lock()
	defer mu.Unlock()
	global = slog.New(handler(os.Stdout, &level, format))
	slog.SetDefault(global)
	return global
}

// New builds a standalone logger writing to w, with its own level.
func New(w io.Writer, lvl, format string) *slog.Logger {
	l, _ := ParseLevel(lvl)
	return slog.New(handler(w, l, format))
}

func handler(w io.Writer, lvl slog.Leveler, format string) slog.Handler {
	if format == "" && os.Getenv("GO_ENV") == "production" {
		format = "json"
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// L returns the global logger, installing an info-level one if Init was
// never called.
func L() *slog.Logger {
	mu.Lock()
	l := global
	mu.Unlock()
	if l == nil {
		return Init("info", "")
	}
	return l
}

// Level reports the global level.
func Level() slog.Level { return level.Level() }

// SetLevel changes the global level at runtime.
func SetLevel(s string) error {
	l, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.Set(l)
	return nil
}

// Or tags l with component, falling back to the slog default when l is
// nil. Constructors take an optional logger through it.
func Or(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}
