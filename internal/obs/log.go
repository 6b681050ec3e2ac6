package obs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var loggerMu sync.RWMutex

// Setup configures the process-wide logger. format is "json" or "console".
func Setup(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	log.Logger = zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "authserver").Logger()
	return nil
}

// Logger returns the shared structured logger.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := log.Logger
	return &l
}

// SetLogger swaps the shared logger and returns a function restoring the
// previous one.
func SetLogger(l zerolog.Logger) (restore func()) {
	loggerMu.Lock()
	prev := log.Logger
	log.Logger = l
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		log.Logger = prev
		loggerMu.Unlock()
	}
}
