package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the handler built by New.
type Config struct {
	Level  string    // debug, info, warn or error; anything else means info
	Format string    // json (default) or text
	Output io.Writer // os.Stderr when nil

	// Service, when set, is attached to every record as "service".
	Service string
	// AddSource records the calling file and line.
	AddSource bool
}

// level is shared by every logger built with New so SetLevel affects all
// of them at once.
var level slog.LevelVar

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New builds a logger for cfg and makes cfg.Level the process-wide level.
// Attributes that look like secrets are redacted.
func New(cfg Config) *slog.Logger {
	SetLevel(cfg.Level)

	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     &level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactSensitive(a)
		},
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if f := strings.ToLower(cfg.Format); f == "text" || f == "console" {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	if cfg.Service != "" {
		l = l.With("service", cfg.Service)
	}
	return l
}

// ValidLevel reports whether s names a level.
func ValidLevel(s string) bool {
	_, ok := levelNames[strings.ToLower(s)]
	return ok
}

// SetLevel changes the level of every logger built with New. Unknown names
// select info.
func SetLevel(s string) {
	l, ok := levelNames[strings.ToLower(s)]
	if !ok {
		l = slog.LevelInfo
	}
	level.Set(l)
}

// GetLevel returns the current level name.
func GetLevel() string {
	switch l := level.Level(); {
	case l <= slog.LevelDebug:
		return "debug"
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	}
	return "info"
}

// Discard returns a logger that drops everything. Components constructed
// without a logger use it.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
