package reliability

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups failures by how the session engine reacts to them.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindProtocol    Kind = "protocol"
	KindApplication Kind = "application"
	KindDevice      Kind = "device"
	KindEmptyResult Kind = "empty_result"
)

// Error is the single error type surfaced by the engine's collaborators.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Transport(op string, status int, message string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Status: status, Message: strings.TrimSpace(message), Err: err}
}

func Protocol(op, message string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: strings.TrimSpace(message)}
}

func Application(op, message string) *Error {
	return &Error{Kind: KindApplication, Op: op, Message: strings.TrimSpace(message)}
}

func Device(op string, err error) *Error {
	return &Error{Kind: KindDevice, Op: op, Err: err}
}

func EmptyResult(op, message string) *Error {
	return &Error{Kind: KindEmptyResult, Op: op, Message: message}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// Message returns the best user-visible description of err: the message
// carried by the collaborator when there is one, then the wrapped cause,
// then fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			if msg := strings.TrimSpace(e.Err.Error()); msg != "" {
				return msg
			}
		}
		return fallback
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}
