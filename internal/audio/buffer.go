package audio

import "sync"

// Buffer accumulates captured audio. Device callbacks write from their own
// goroutine while the owner drains it once capture stops.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// Write copies p into the buffer. Writes after Close are dropped.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return len(p), nil
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// Close stops buffering and returns everything captured so far.
func (b *Buffer) Close() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	out := b.data
	b.data = nil
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
