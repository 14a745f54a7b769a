// Package logging builds the zerolog logger and the helpers that keep
// mailbox addresses and credentials out of log output.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options select level, encoding and PII handling.
type Options struct {
	Level     string // trace, debug, info, warn, error
	Format    string // json, console
	Sanitized bool
}

// New returns a logger writing to w (stderr when nil).
func New(opts Options, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = l
	}
	switch opts.Format {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// TraceWriter returns an io.Writer that logs IMAP wire data at trace
// level, one event per write.
func TraceWriter(log zerolog.Logger) io.Writer {
	return &traceWriter{log: log}
}

type traceWriter struct {
	log zerolog.Logger
}

func (w *traceWriter) Write(p []byte) (int, error) {
	w.log.Trace().Str("imap_data", strings.TrimRight(string(p), "\r\n")).Msg("imap wire")
	return len(p), nil
}
