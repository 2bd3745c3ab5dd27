package speech

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewExecSpeakerRejectsBadCommands(t *testing.T) {
	if _, err := NewExecSpeaker("", zerolog.Nop()); err == nil {
		t.Fatalf("NewExecSpeaker(empty) expected error")
	}
	if _, err := NewExecSpeaker(`espeak "unterminated`, zerolog.Nop()); err == nil {
		t.Fatalf("NewExecSpeaker(unbalanced quotes) expected error")
	}
	if _, err := NewExecSpeaker("/definitely/missing/speaker --stdin", zerolog.Nop()); err == nil {
		t.Fatalf("NewExecSpeaker(missing binary) expected error")
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	var r Recorder
	r.Speak("one")
	r.Speak("two")
	got := r.Spoken()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("Spoken() = %q", got)
	}
}

func TestExecSpeakerCloseDropsUtterances(t *testing.T) {
	sp, err := NewExecSpeaker("sh -c 'cat >/dev/null'", zerolog.Nop())
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}
	if err := sp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	sp.Speak("after close")
	if err := sp.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestExecSpeakerSpeaksCleanedText(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spoken.txt")
	sp, err := NewExecSpeaker(`sh -c "cat >> '`+out+`'"`, zerolog.Nop())
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}
	defer sp.Close()

	sp.Speak("**Hello** 😊 see [the docs](https://example.com/docs)")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(out)
		if got := strings.TrimSpace(string(data)); got != "" {
			if got != "Hello see the docs" {
				t.Fatalf("spoken = %q, want %q", got, "Hello see the docs")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("nothing spoken within deadline")
}
