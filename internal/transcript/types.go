package transcript

import (
	"errors"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

var ErrEmptyText = errors.New("text is empty")

// Turn is one message of the conversation. Content only changes while
// Complete is false.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryMessage is the shape the chat backend expects for prior turns.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Update describes a single transcript mutation. Turn is a copy of the turn
// at Index after the change.
type Update struct {
	Index int  `json:"index"`
	Turn  Turn `json:"turn"`
}

// Listener observes mutations. It runs while the transcript lock is held, so
// it must not block or call back into the transcript.
type Listener func(Update)
