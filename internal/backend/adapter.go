package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/clawdesk/internal/audio"
	"github.com/ent0n29/clawdesk/internal/stream"
	"github.com/ent0n29/clawdesk/internal/transcript"
)

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Message string                      `json:"message"`
	History []transcript.HistoryMessage `json:"history"`
}

// ChatResponse is the non-streaming chat reply envelope.
type ChatResponse struct {
	OK     bool   `json:"ok"`
	Reply  string `json:"reply,omitempty"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// TranscriptionResponse is the speech-to-text reply envelope.
type TranscriptionResponse struct {
	OK     bool   `json:"ok"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Client is the dashboard backend as seen by the session engine. Transport
// failures and ok:false replies both come back as *reliability.Error.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	ChatStream(ctx context.Context, req ChatRequest) (*stream.Stream, error)
	Transcribe(ctx context.Context, blob audio.Blob) (string, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	BaseURL string
	Timeout time.Duration
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.BaseURL) != "" {
			return NewHTTPClient(cfg.BaseURL, cfg.Timeout), nil
		}
		return NewMock(), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("backend base url is required for http mode")
		}
		return NewHTTPClient(cfg.BaseURL, cfg.Timeout), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}
