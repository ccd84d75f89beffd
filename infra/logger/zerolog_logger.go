package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the process-wide log output.
type Config struct {
	// Level is the minimum level emitted: debug, info, warn or error.
	Level string `json:"level"`
	// Format selects json (machine ingestion) or console (operator terminal).
	Format string `json:"format"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

var (
	rootMu sync.RWMutex
	root   = newRoot(Config{})
)

func newRoot(cfg Config) zerolog.Logger {
	cfg.SetDefaults()
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var z zerolog.Logger
	if cfg.Format == "console" {
		z = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		z = zerolog.New(os.Stdout)
	}
	return z.Level(level).With().Timestamp().Logger()
}

// Configure replaces the root logger. Loggers created by New afterwards
// inherit the configured level and format.
func Configure(cfg Config) {
	rootMu.Lock()
	root = newRoot(cfg)
	rootMu.Unlock()
}

// New returns a Logger whose entries carry the component field, so the
// interleaved output of the coordinator, tracker, outbound manager and mesh
// gateway stays attributable.
func New(component string) Logger {
	rootMu.RLock()
	z := root.With().Str("component", component).Logger()
	rootMu.RUnlock()
	return &zerologLogger{log: z}
}

type zerologLogger struct {
	log zerolog.Logger
}

func (l *zerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *zerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *zerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *zerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *zerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
