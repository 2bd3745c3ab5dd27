package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ent0n29/clawdesk/internal/transcript"
)

// renderer prints the transcript as a scrolling log. A streaming turn is
// written incrementally; finished turns are never reprinted.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[int]int
	done    map[int]bool
	open    int
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:     out,
		printed: make(map[int]int),
		done:    make(map[int]bool),
		open:    -1,
	}
}

func (r *renderer) apply(index int, turn transcript.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done[index] {
		return
	}

	var b strings.Builder
	if r.open != -1 && r.open != index {
		b.WriteString("\n")
		r.open = -1
	}
	n, seen := r.printed[index]
	if !seen {
		b.WriteString(label(turn.Role))
	}
	if n > len(turn.Content) {
		n = len(turn.Content)
	}
	b.WriteString(turn.Content[n:])
	r.printed[index] = len(turn.Content)

	if turn.Complete {
		b.WriteString("\n")
		r.done[index] = true
		r.open = -1
	} else {
		r.open = index
	}
	fmt.Fprint(r.out, b.String())
}

func (r *renderer) notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open != -1 {
		fmt.Fprintln(r.out)
		r.open = -1
	}
	fmt.Fprintf(r.out, "-- %s\n", text)
}

func label(role transcript.Role) string {
	switch role {
	case transcript.RoleUser:
		return "you> "
	case transcript.RoleAssistant:
		return "assistant> "
	default:
		return "* "
	}
}
