package device

import (
	"context"
	"errors"
	"testing"
)

func TestMockMicrophoneSingleHolder(t *testing.T) {
	mic := NewMockMicrophone([]byte{1, 0, 2, 0})
	capture, err := mic.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := mic.Acquire(context.Background()); !errors.Is(err, ErrMicrophoneBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrMicrophoneBusy", err)
	}

	blob, err := capture.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if blob.Empty() {
		t.Fatalf("Stop() returned an empty blob")
	}
	if _, err := capture.Stop(context.Background()); err == nil {
		t.Fatalf("second Stop() expected error")
	}
	if err := capture.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if mic.Held() || mic.Acquires() != 1 || mic.Releases() != 1 {
		t.Fatalf("Held() = %v, Acquires() = %d, Releases() = %d", mic.Held(), mic.Acquires(), mic.Releases())
	}
}

func TestMockMicrophoneAcquireError(t *testing.T) {
	mic := NewMockMicrophone(nil)
	mic.AcquireErr = errors.New("permission denied")
	if _, err := mic.Acquire(context.Background()); err == nil {
		t.Fatalf("Acquire() expected error")
	}
	if mic.Held() {
		t.Fatalf("microphone held after failed acquire")
	}
}
