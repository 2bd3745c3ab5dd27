package device

import (
	"context"

	"github.com/ent0n29/clawdesk/internal/audio"
)

// Microphone hands out exclusive capture handles.
type Microphone interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Capture is an acquired microphone that is buffering audio.
type Capture interface {
	// Stop ends buffering and returns the recording assembled into one blob.
	Stop(ctx context.Context) (audio.Blob, error)
	// Release frees the device. The owner calls it exactly once.
	Release() error
}
