package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/config"
	"github.com/ent0n29/clawdesk/internal/session"
)

func mockConfig() config.Config {
	return config.Config{
		BindAddr:                 "127.0.0.1:0",
		ShutdownTimeout:          time.Second,
		SessionInactivityTimeout: time.Minute,
		MetricsNamespace:         "apptest",
		LogLevel:                 "info",
		BackendMode:              "mock",
		BackendTimeout:           time.Second,
		StreamDefault:            true,
		SessionGreeting:          "Hello!",
		MicMode:                  "mock",
		MicSampleRate:            16000,
		SpeechMode:               "log",
	}
}

func TestBuildMockStackServesVoiceTurn(t *testing.T) {
	res, err := Build(context.Background(), mockConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	srv := httptest.NewServer(res.API.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	var info session.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || info.SessionID == "" {
		t.Fatalf("create status = %d, info = %+v", resp.StatusCode, info)
	}

	for _, step := range []string{"start", "stop"} {
		resp, err := http.Post(srv.URL+"/v1/sessions/"+info.SessionID+"/voice/"+step, "application/json", nil)
		if err != nil {
			t.Fatalf("voice %s: %v", step, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			t.Fatalf("voice %s status = %d", step, resp.StatusCode)
		}
	}

	sess, err := res.Sessions.Get(info.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	history := sess.Transcript().History()
	if len(history) != 2 || history[0].Content != "simulated voice input" {
		t.Fatalf("history = %+v", history)
	}
	if !strings.HasPrefix(history[1].Content, "I heard you: simulated voice input") {
		t.Fatalf("reply = %q", history[1].Content)
	}
}

func TestBuildCleanupEndsSessions(t *testing.T) {
	res, err := Build(context.Background(), mockConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	sess := res.Sessions.Create(nil)
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if sess.Info(false).Status != session.StatusEnded {
		t.Fatalf("Status = %q, want ended", sess.Info(false).Status)
	}
	if res.Sessions.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", res.Sessions.ActiveCount())
	}
}

func TestResolveDevicesRejectsUnknownModes(t *testing.T) {
	cfg := mockConfig()
	cfg.MicMode = "bluetooth"
	if _, err := resolveDevices(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("resolveDevices(bad mic) expected error")
	}
	cfg = mockConfig()
	cfg.SpeechMode = "cloud"
	if _, err := resolveDevices(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("resolveDevices(bad speech) expected error")
	}
}
