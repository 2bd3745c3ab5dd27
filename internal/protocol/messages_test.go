package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageSend(t *testing.T) {
	raw := []byte(`{"type":"client_send","session_id":"s1","text":"hello","stream":false}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	send, ok := msg.(ClientSend)
	if !ok {
		t.Fatalf("message type = %T, want ClientSend", msg)
	}
	if send.SessionID != "s1" || send.Text != "hello" {
		t.Fatalf("unexpected send: %+v", send)
	}
	if send.Stream == nil || *send.Stream {
		t.Fatalf("Stream = %v, want explicit false", send.Stream)
	}
}

func TestParseClientMessageSendWithoutStreamUsesDefault(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_send","session_id":"s1","text":"hi"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg.(ClientSend).Stream != nil {
		t.Fatalf("Stream should be nil when omitted")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"voice_stop"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionVoiceStop {
		t.Fatalf("unexpected client control: %+v", control)
	}
	if mt, ok := TypeOf(control); !ok || mt != TypeClientControl {
		t.Fatalf("TypeOf() = %q, %v", mt, ok)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"client_send","session_id":"s1","text":"   "}`,
		`{"type":"client_send","text":"hi"}`,
		`{"type":"client_control","session_id":"s1","action":"dance"}`,
		`{"type":"client_control","action":"voice_start"}`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error", raw)
		}
	}
}
