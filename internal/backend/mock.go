package backend

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/ent0n29/clawdesk/internal/audio"
	"github.com/ent0n29/clawdesk/internal/reliability"
	"github.com/ent0n29/clawdesk/internal/stream"
)

const mockTranscript = "simulated voice input"

// Mock provides deterministic local replies when no backend is configured.
// Streamed replies are delivered one frame per read.
type Mock struct {
	mu       sync.Mutex
	requests []ChatRequest
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", reliability.Transport(chatOp, 0, "", err)
	}
	m.record(req)
	return buildMockReply(req), nil
}

func (m *Mock) ChatStream(ctx context.Context, req ChatRequest) (*stream.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, reliability.Transport(chatStreamOp, 0, "", err)
	}
	m.record(req)

	frames := []string{"data: " + stream.KeepaliveToken + "\n\n"}
	for _, piece := range streamPieces(buildMockReply(req)) {
		frames = append(frames, "data: "+piece+"\n\n")
	}
	frames = append(frames, "data: "+stream.SentinelDone+"\n\n")
	return stream.New(&frameReader{frames: frames}, "text/event-stream; charset=utf-8"), nil
}

func (m *Mock) Transcribe(ctx context.Context, blob audio.Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", reliability.Transport(sttOp, 0, "", err)
	}
	if blob.Empty() {
		return "", nil
	}
	return mockTranscript, nil
}

// Requests returns every chat request received so far.
func (m *Mock) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *Mock) record(req ChatRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func buildMockReply(req ChatRequest) string {
	base := strings.TrimSpace(req.Message)
	if base == "" {
		base = "I am listening."
	}
	prior := len(req.History)
	if prior > 0 {
		// The current message is the last history entry.
		prior--
	}
	if prior == 0 {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s (after %d earlier messages)", base, prior)
}

// streamPieces cuts text into stream tokens. Payloads lose surrounding
// whitespace, so every cut falls between two non-space runes: after the
// first rune of each word that follows a space.
func streamPieces(text string) []string {
	var pieces []string
	start := 0
	sawSpace := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			sawSpace = true
			continue
		}
		if !sawSpace {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next >= len(text) {
			break
		}
		if nr, _ := utf8.DecodeRuneInString(text[next:]); unicode.IsSpace(nr) {
			continue
		}
		pieces = append(pieces, text[start:next])
		start = next
		sawSpace = false
	}
	if start < len(text) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

type frameReader struct {
	frames []string
	closed bool
}

func (r *frameReader) Read(p []byte) (int, error) {
	if r.closed || len(r.frames) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.frames[0])
	r.frames[0] = r.frames[0][n:]
	if r.frames[0] == "" {
		r.frames = r.frames[1:]
	}
	return n, nil
}

func (r *frameReader) Close() error {
	r.closed = true
	return nil
}
