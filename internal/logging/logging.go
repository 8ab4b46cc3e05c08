// Package logging builds the application's slog handlers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and destinations of the logger.
type Options struct {
	// Out receives coloured console output. Defaults to os.Stderr.
	Out     io.Writer
	Verbose bool
	Debug   bool
	// File, when set, also writes plain text records to a rotated log file.
	File string
}

// Level maps the verbosity switches to a slog level.
func (o Options) Level() slog.Level {
	switch {
	case o.Debug:
		return slog.LevelDebug
	case o.Verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// New returns a logger and a function closing the log file, if any.
func New(opts Options) (*slog.Logger, func() error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	level := opts.Level()

	console := tint.NewHandler(out, &tint.Options{
		AddSource:   opts.Debug,
		Level:       level,
		ReplaceAttr: highlightErrors,
		TimeFormat:  time.RFC3339,
		NoColor:     !colors(out),
	})
	if opts.File == "" {
		return slog.New(console), func() error { return nil }
	}

	rotated := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    10,
		MaxBackups: 3,
	}
	file := slog.NewTextHandler(rotated, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(console, file)), rotated.Close
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func highlightErrors(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := attr.Value.Any().(error); attr.Key == "err" || ok {
		return tint.Attr(9, attr)
	}
	return attr
}

func colors(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}
