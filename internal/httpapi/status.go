package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

const probeTimeout = 250 * time.Millisecond

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	BackendMode    string        `json:"backend_mode"`
	MicMode        string        `json:"mic_mode"`
	SpeechMode     string        `json:"speech_mode"`
	StreamDefault  bool          `json:"stream_default"`
	ActiveSessions int           `json:"active_sessions"`
	Checks         []statusCheck `json:"checks"`
}

// handleStatus reports how the service is wired and whether its external
// dependencies look usable from here.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]statusCheck, 0, 4)
	checks = append(checks, s.backendChecks()...)
	checks = append(checks, s.speechChecks()...)
	checks = append(checks, statusCheck{
		ID:     "microphone",
		Status: "ok",
		Label:  "Microphone",
		Detail: s.cfg.MicMode,
	})

	respondJSON(w, http.StatusOK, statusResponse{
		BackendMode:    s.cfg.BackendMode,
		MicMode:        s.cfg.MicMode,
		SpeechMode:     s.cfg.SpeechMode,
		StreamDefault:  s.cfg.StreamDefault,
		ActiveSessions: s.sessions.ActiveCount(),
		Checks:         checks,
	})
}

func (s *Server) backendChecks() []statusCheck {
	mode := s.cfg.BackendMode
	base := strings.TrimSpace(s.cfg.BackendBaseURL)
	if mode == "mock" || (mode == "auto" && base == "") {
		return []statusCheck{{
			ID:     "backend",
			Status: "warn",
			Label:  "Chat backend",
			Detail: "mock replies",
			Fix:    "Set BACKEND_BASE_URL to the dashboard API, e.g. http://127.0.0.1:8000/api.",
		}}
	}
	if err := probeTCP(base); err != nil {
		return []statusCheck{{
			ID:     "backend",
			Status: "error",
			Label:  "Chat backend",
			Detail: fmt.Sprintf("%s unreachable: %v", base, err),
			Fix:    "Start the dashboard backend or correct BACKEND_BASE_URL.",
		}}
	}
	return []statusCheck{{
		ID:     "backend",
		Status: "ok",
		Label:  "Chat backend",
		Detail: base,
	}}
}

func (s *Server) speechChecks() []statusCheck {
	if s.cfg.SpeechMode != "exec" {
		return []statusCheck{{
			ID:     "speech",
			Status: "warn",
			Label:  "Speech output",
			Detail: "replies are logged, not spoken",
			Fix:    "Set SPEECH_MODE=exec and SPEECH_COMMAND to a TTS command such as espeak.",
		}}
	}
	args, err := shellwords.Parse(s.cfg.SpeechCommand)
	if err != nil || len(args) == 0 {
		return []statusCheck{{ID: "speech", Status: "error", Label: "Speech output", Detail: "SPEECH_COMMAND cannot be parsed"}}
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return []statusCheck{{
			ID:     "speech",
			Status: "error",
			Label:  "Speech output",
			Detail: fmt.Sprintf("%s not found", args[0]),
			Fix:    "Install it or point SPEECH_COMMAND at another TTS command.",
		}}
	}
	return []statusCheck{{ID: "speech", Status: "ok", Label: "Speech output", Detail: args[0]}}
}

func probeTCP(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return err
	}
	return c.Close()
}
