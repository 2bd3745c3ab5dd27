package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ent0n29/clawdesk/internal/audio"
)

var ErrMicrophoneBusy = errors.New("microphone already acquired")

// MockMicrophone is an in-process microphone used in mock mode and tests. It
// records every acquisition and release so callers can verify ownership.
type MockMicrophone struct {
	// PCM is returned, wrapped as WAV, by every capture's Stop.
	PCM        []byte
	SampleRate int
	AcquireErr error
	StopErr    error

	mu       sync.Mutex
	held     bool
	acquires atomic.Int32
	releases atomic.Int32
}

func NewMockMicrophone(pcm []byte) *MockMicrophone {
	return &MockMicrophone{PCM: pcm, SampleRate: audio.DefaultSampleRate}
}

func (m *MockMicrophone) Acquire(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return nil, ErrMicrophoneBusy
	}
	m.held = true
	m.acquires.Add(1)
	return &mockCapture{mic: m}, nil
}

// Acquires reports how many captures were handed out.
func (m *MockMicrophone) Acquires() int { return int(m.acquires.Load()) }

// Releases reports how many times a capture was released, including
// erroneous repeated releases.
func (m *MockMicrophone) Releases() int { return int(m.releases.Load()) }

// Held reports whether a capture is currently outstanding.
func (m *MockMicrophone) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

type mockCapture struct {
	mic     *MockMicrophone
	stopped bool
}

func (c *mockCapture) Stop(_ context.Context) (audio.Blob, error) {
	if c.stopped {
		return audio.Blob{}, errors.New("capture already stopped")
	}
	c.stopped = true
	if c.mic.StopErr != nil {
		return audio.Blob{}, c.mic.StopErr
	}
	return audio.NewWAVBlob(c.mic.PCM, c.mic.SampleRate, 1), nil
}

func (c *mockCapture) Release() error {
	c.mic.releases.Add(1)
	c.mic.mu.Lock()
	defer c.mic.mu.Unlock()
	c.mic.held = false
	return nil
}
