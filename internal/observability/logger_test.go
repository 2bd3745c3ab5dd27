package observability

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLoggerLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	InitLogger("debug", false)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("GlobalLevel() = %v, want debug", zerolog.GlobalLevel())
	}
	InitLogger("nonsense", true)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("GlobalLevel() = %v, want info fallback", zerolog.GlobalLevel())
	}
}

func TestLoggerReturnsInitialisedLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := InitLogger("warn", false)
	if Logger().GetLevel() != l.GetLevel() {
		t.Fatalf("Logger() level = %v, want %v", Logger().GetLevel(), l.GetLevel())
	}
	child := WithSession(l, "abc")
	if child.GetLevel() != l.GetLevel() {
		t.Fatalf("WithSession() changed the level")
	}
}
