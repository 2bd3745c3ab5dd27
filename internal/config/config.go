package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config contains all runtime settings for the chat and voice service.
type Config struct {
	BindAddr                 string        `envconfig:"APP_BIND_ADDR" default:":8080"`
	ShutdownTimeout          time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"15s"`
	SessionInactivityTimeout time.Duration `envconfig:"APP_SESSION_INACTIVITY_TIMEOUT" default:"10m"`
	MetricsNamespace         string        `envconfig:"APP_METRICS_NAMESPACE" default:"clawdesk"`
	AllowAnyOrigin           bool          `envconfig:"APP_ALLOW_ANY_ORIGIN" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	// BackendMode is auto, http or mock. Auto picks http when a base URL is
	// configured.
	BackendMode    string        `envconfig:"BACKEND_MODE" default:"auto"`
	BackendBaseURL string        `envconfig:"BACKEND_BASE_URL" default:"http://127.0.0.1:8000/api"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"60s"`

	StreamDefault   bool   `envconfig:"STREAM_DEFAULT" default:"true"`
	SessionGreeting string `envconfig:"SESSION_GREETING" default:"Hello! I can chat and transcribe voice."`

	MicMode       string `envconfig:"MIC_MODE" default:"miniaudio"`
	MicSampleRate int    `envconfig:"MIC_SAMPLE_RATE" default:"16000"`

	SpeechMode    string `envconfig:"SPEECH_MODE" default:"log"`
	SpeechCommand string `envconfig:"SPEECH_COMMAND" default:"espeak"`
}

// Load reads an optional .env file, then the environment, and validates the
// result. Variables already present in the environment win over .env.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads only the process environment.
func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.BindAddr = strings.TrimSpace(c.BindAddr)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.BackendMode = strings.ToLower(strings.TrimSpace(c.BackendMode))
	c.BackendBaseURL = strings.TrimSpace(c.BackendBaseURL)
	c.MicMode = strings.ToLower(strings.TrimSpace(c.MicMode))
	c.SpeechMode = strings.ToLower(strings.TrimSpace(c.SpeechMode))
	c.SpeechCommand = strings.TrimSpace(c.SpeechCommand)
	c.SessionGreeting = strings.TrimSpace(c.SessionGreeting)
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		return fmt.Errorf("APP_BIND_ADDR %q: %w", c.BindAddr, err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}

	switch c.BackendMode {
	case "auto", "mock":
	case "http":
		if c.BackendBaseURL == "" {
			return fmt.Errorf("BACKEND_BASE_URL is required when BACKEND_MODE=http")
		}
	default:
		return fmt.Errorf("BACKEND_MODE %q: want auto, http or mock", c.BackendMode)
	}
	if c.BackendBaseURL != "" {
		u, err := url.Parse(c.BackendBaseURL)
		if err != nil {
			return fmt.Errorf("BACKEND_BASE_URL parse error: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("BACKEND_BASE_URL %q: want an absolute http(s) URL", c.BackendBaseURL)
		}
	}

	switch c.MicMode {
	case "miniaudio", "mock":
	default:
		return fmt.Errorf("MIC_MODE %q: want miniaudio or mock", c.MicMode)
	}
	if c.MicSampleRate < 8000 || c.MicSampleRate > 48000 {
		return fmt.Errorf("MIC_SAMPLE_RATE must be between 8000 and 48000")
	}

	switch c.SpeechMode {
	case "log":
	case "exec":
		if c.SpeechCommand == "" {
			return fmt.Errorf("SPEECH_COMMAND is required when SPEECH_MODE=exec")
		}
	default:
		return fmt.Errorf("SPEECH_MODE %q: want exec or log", c.SpeechMode)
	}
	return nil
}
