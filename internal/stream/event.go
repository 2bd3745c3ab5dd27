package stream

import "fmt"

// EventType tags the variants a chat stream can produce.
type EventType string

const (
	EventToken     EventType = "token"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventKeepalive EventType = "keepalive"
)

// Event is one semantic unit decoded from the stream. Text holds the token
// for EventToken and the failure message for EventError.
type Event struct {
	Type EventType
	Text string
}

func Token(text string) Event    { return Event{Type: EventToken, Text: text} }
func Done() Event                { return Event{Type: EventDone} }
func Error(message string) Event { return Event{Type: EventError, Text: message} }
func Keepalive() Event           { return Event{Type: EventKeepalive} }

func (e Event) String() string {
	switch e.Type {
	case EventToken, EventError:
		return fmt.Sprintf("%s(%q)", e.Type, e.Text)
	default:
		return string(e.Type)
	}
}
