package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const noOpenTurn = -1

// Transcript is the append-only conversation history. At most one turn is
// incomplete at a time and it is always the last one.
type Transcript struct {
	mu       sync.RWMutex
	turns    []Turn
	open     int
	listener Listener
}

func New() *Transcript {
	return &Transcript{open: noOpenTurn}
}

func (t *Transcript) SetListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listener = l
}

// AppendUserTurn records a complete user turn. Blank text is rejected.
func (t *Transcript) AppendUserTurn(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(RoleUser, text, true)
	return nil
}

// BeginAssistantTurn opens an empty assistant turn. Calling it while a turn
// is already open is a programming error and panics.
func (t *Transcript) BeginAssistantTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open != noOpenTurn {
		panic(fmt.Sprintf("transcript: BeginAssistantTurn with turn %d still open", t.open))
	}
	t.appendLocked(RoleAssistant, "", false)
}

// ExtendAssistantTurn appends token to the open assistant turn, opening one
// first if a token arrives before BeginAssistantTurn ran.
func (t *Transcript) ExtendAssistantTurn(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == noOpenTurn {
		t.appendLocked(RoleAssistant, "", false)
	}
	t.turns[t.open].Content += token
	t.notifyLocked(t.open)
}

// CompleteAssistantTurn seals the open turn. Without one it does nothing.
func (t *Transcript) CompleteAssistantTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealLocked()
}

// AppendSystemNotice records a user-visible diagnostic. System turns never
// reach the outbound history.
func (t *Transcript) AppendSystemNotice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(RoleSystem, text, true)
}

// AppendAssistantReply records a whole, non-streamed assistant reply.
func (t *Transcript) AppendAssistantReply(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(RoleAssistant, text, true)
}

// Turns returns a copy of every turn in order.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// OpenTurn returns the incomplete turn, if any.
func (t *Transcript) OpenTurn() (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.open == noOpenTurn {
		return Turn{}, false
	}
	return t.turns[t.open], true
}

// History returns the conversation as sent to the chat backend: system turns
// dropped, only role and content kept, original order preserved.
func (t *Transcript) History() []HistoryMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]HistoryMessage, 0, len(t.turns))
	for _, turn := range t.turns {
		if turn.Role == RoleSystem {
			continue
		}
		out = append(out, HistoryMessage{Role: turn.Role, Content: turn.Content})
	}
	return out
}

// appendLocked adds a turn. Appending a complete turn seals any open
// assistant turn first so the open turn stays the last one.
func (t *Transcript) appendLocked(role Role, content string, complete bool) {
	t.sealLocked()
	t.turns = append(t.turns, Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Complete:  complete,
		CreatedAt: time.Now().UTC(),
	})
	idx := len(t.turns) - 1
	if !complete {
		t.open = idx
	}
	t.notifyLocked(idx)
}

func (t *Transcript) sealLocked() {
	if t.open == noOpenTurn {
		return
	}
	idx := t.open
	t.turns[idx].Complete = true
	t.open = noOpenTurn
	t.notifyLocked(idx)
}

func (t *Transcript) notifyLocked(idx int) {
	if t.listener == nil {
		return
	}
	t.listener(Update{Index: idx, Turn: t.turns[idx]})
}
