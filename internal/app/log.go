package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// newLogger creates a logger that writes console-formatted lines to both
// logDir/aperture.log and stderr. It returns the open log file for cleanup.
func newLogger(logDir, level string) (*zerologAdapter, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "aperture.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	w := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
		zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339},
	)
	return newZerologAdapter(w, lvl), f, nil
}

// zerologAdapter satisfies aperture.Logger on top of zerolog.
// Args are alternating key/value pairs.
type zerologAdapter struct {
	l zerolog.Logger
}

func newZerologAdapter(w io.Writer, level zerolog.Level) *zerologAdapter {
	return &zerologAdapter{l: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

func (a *zerologAdapter) Debug(msg string, args ...any) { a.l.Debug().Fields(args).Msg(msg) }
func (a *zerologAdapter) Info(msg string, args ...any)  { a.l.Info().Fields(args).Msg(msg) }
func (a *zerologAdapter) Warn(msg string, args ...any)  { a.l.Warn().Fields(args).Msg(msg) }
func (a *zerologAdapter) Error(msg string, args ...any) { a.l.Error().Fields(args).Msg(msg) }
