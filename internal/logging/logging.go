// Package logging builds the zerolog loggers shared by the server and the
// maintenance commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stdout and any extra writers. Development
// output uses the console writer; production output is JSON.
func New(service string, production bool, level string, extra ...io.Writer) zerolog.Logger {
	var out io.Writer = os.Stdout
	if !production {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	writers := append([]io.Writer{out}, extra...)
	var w io.Writer = out
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
}

// OpenRunLog creates dir if needed and opens a fresh log file named
// <name>-<timestamp>.log inside it.
func OpenRunLog(dir, name string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", name, now.UTC().Format("20060102-150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return f, nil
}
