package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.BackendMode != "auto" || cfg.BackendBaseURL != "http://127.0.0.1:8000/api" {
		t.Fatalf("backend = %q %q", cfg.BackendMode, cfg.BackendBaseURL)
	}
	if cfg.SessionInactivityTimeout != 10*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v", cfg.SessionInactivityTimeout)
	}
	if !cfg.StreamDefault {
		t.Fatalf("StreamDefault = false, want true")
	}
	if cfg.MicSampleRate != 16000 || cfg.SpeechMode != "log" {
		t.Fatalf("MicSampleRate = %d, SpeechMode = %q", cfg.MicSampleRate, cfg.SpeechMode)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_BIND_ADDR", "127.0.0.1:9191")
	t.Setenv("BACKEND_MODE", " HTTP ")
	t.Setenv("BACKEND_BASE_URL", "http://localhost:7777/custom")
	t.Setenv("BACKEND_TIMEOUT", "5s")
	t.Setenv("STREAM_DEFAULT", "false")
	t.Setenv("SPEECH_MODE", "exec")
	t.Setenv("SPEECH_COMMAND", "say -v Samantha")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.BackendMode != "http" || cfg.BackendBaseURL != "http://localhost:7777/custom" {
		t.Fatalf("backend = %q %q", cfg.BackendMode, cfg.BackendBaseURL)
	}
	if cfg.BackendTimeout != 5*time.Second || cfg.StreamDefault {
		t.Fatalf("BackendTimeout = %v, StreamDefault = %v", cfg.BackendTimeout, cfg.StreamDefault)
	}
	if cfg.SpeechCommand != "say -v Samantha" {
		t.Fatalf("SpeechCommand = %q", cfg.SpeechCommand)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":     {"APP_SHUTDOWN_TIMEOUT": "soon"},
		"short inactivity": {"APP_SESSION_INACTIVITY_TIMEOUT": "1s"},
		"bad bind addr":    {"APP_BIND_ADDR": "8080"},
		"bad backend mode": {"BACKEND_MODE": "grpc"},
		"http without url": {"BACKEND_MODE": "http", "BACKEND_BASE_URL": ""},
		"relative url":     {"BACKEND_BASE_URL": "/api"},
		"bad mic mode":     {"MIC_MODE": "portaudio"},
		"bad sample rate":  {"MIC_SAMPLE_RATE": "100"},
		"exec w/o command": {"SPEECH_MODE": "exec", "SPEECH_COMMAND": ""},
		"bad bool":         {"LOG_PRETTY": "maybe"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() expected error for %v", env)
			}
		})
	}
}

func TestEmptyBaseURLSelectsMockInAutoMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("BACKEND_BASE_URL", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.BackendBaseURL != "" {
		t.Fatalf("BackendBaseURL = %q, want empty", cfg.BackendBaseURL)
	}
}

// clearEnv unsets every variable Config reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		for _, prefix := range []string{"APP_", "LOG_", "BACKEND_", "STREAM_", "SESSION_", "MIC_", "SPEECH_"} {
			if strings.HasPrefix(key, prefix) {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
		}
	}
}
