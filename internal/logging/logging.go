// Package logging wires slog to rotating log files.
//
// Every record goes to app.log; records at error level or above are also
// written to error.log. A console handler can be attached for interactive use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dohr-michael/storybook/internal/config"
)

// Options controls Setup.
type Options struct {
	Console      io.Writer  // nil disables console output
	ConsoleLevel slog.Level // minimum level printed to Console
}

// Setup builds the process logger from cfg, installs it as slog's default,
// and returns a closer that flushes the rotating files.
func Setup(cfg config.LogConfig, opts Options) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	app := rotating(filepath.Join(cfg.Dir, "app.log"), cfg)
	errs := rotating(filepath.Join(cfg.Dir, "error.log"), cfg)

	handlers := []slog.Handler{
		slog.NewTextHandler(app, &slog.HandlerOptions{Level: level}),
		slog.NewTextHandler(errs, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, &slog.HandlerOptions{Level: opts.ConsoleLevel}))
	}

	logger := slog.New(Fanout(handlers...))
	slog.SetDefault(logger)
	return logger, closers{app, errs}, nil
}

func rotating(path string, cfg config.LogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
}

// ParseLevel maps a config level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fanout dispatches each record to every handler that accepts its level.
type fanout []slog.Handler

// Fanout returns a handler that forwards records to all of hs.
func Fanout(hs ...slog.Handler) slog.Handler {
	return fanout(hs)
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
