package session

import (
	"errors"
	"time"

	"github.com/ent0n29/clawdesk/internal/transcript"
	"github.com/ent0n29/clawdesk/internal/voice"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session is busy")
	ErrEnded    = errors.New("session has ended")
)

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	Stream *bool `json:"stream,omitempty"`
}

// Info is a point-in-time view of a session.
type Info struct {
	SessionID       string            `json:"session_id"`
	Status          Status            `json:"status"`
	Stream          bool              `json:"stream"`
	Busy            bool              `json:"busy"`
	VoiceState      voice.State       `json:"voice_state"`
	VoiceOutcome    voice.Outcome     `json:"voice_outcome,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	InactivityTTLMS int64             `json:"inactivity_ttl_ms"`
	Turns           []transcript.Turn `json:"turns,omitempty"`
}
