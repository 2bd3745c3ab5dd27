package observability

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// InitLogger configures the process-wide logger. Unknown levels fall back to
// info. pretty switches from JSON lines to a human console format.
func InitLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	} else {
		l = zerolog.New(os.Stderr)
	}
	l = l.With().Timestamp().Str("service", "clawdesk").Logger()

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return l
}

// Logger returns the process-wide logger. Before InitLogger it writes JSON
// to stderr at every level.
func Logger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// WithSession returns a child of base tagged with the session id.
func WithSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().Str("session_id", sessionID).Logger()
}
