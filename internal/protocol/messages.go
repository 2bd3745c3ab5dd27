package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/clawdesk/internal/transcript"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSend    MessageType = "client_send"
	TypeClientControl MessageType = "client_control"

	TypeTranscriptSnapshot MessageType = "transcript_snapshot"
	TypeTurnUpdate         MessageType = "turn_update"
	TypeVoiceResult        MessageType = "voice_result"
	TypeSystemEvent        MessageType = "system_event"
	TypeErrorEvent         MessageType = "error_event"
)

// Control actions carried by ClientControl.
const (
	ActionVoiceStart = "voice_start"
	ActionVoiceStop  = "voice_stop"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientSend submits text. A nil Stream uses the session default.
type ClientSend struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Stream    *bool       `json:"stream,omitempty"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type TranscriptSnapshot struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id"`
	Turns     []transcript.Turn `json:"turns"`
}

type TurnUpdate struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Index     int             `json:"index"`
	Turn      transcript.Turn `json:"turn"`
}

type VoiceResult struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Outcome    string      `json:"outcome"`
	Transcript string      `json:"transcript,omitempty"`
	Reply      string      `json:"reply,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSend:
		var msg ClientSend
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_send")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionVoiceStart, ActionVoiceStop:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the message type of any protocol value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientSend:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case TranscriptSnapshot:
		return m.Type, true
	case TurnUpdate:
		return m.Type, true
	case VoiceResult:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
