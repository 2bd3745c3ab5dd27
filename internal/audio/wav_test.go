package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	out := EncodeWAVPCM16LE(pcm, 16000, 1)

	if len(out) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(out), 44+len(pcm))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatalf("unexpected chunk ids: %q %q %q", out[0:4], out[8:12], out[36:40])
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != 32000 {
		t.Fatalf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
}

func TestNewWAVBlobEmptyWithoutSamples(t *testing.T) {
	if b := NewWAVBlob(nil, 16000, 1); !b.Empty() {
		t.Fatalf("blob without samples should be empty, got %d bytes", len(b.Data))
	}
	b := NewWAVBlob([]byte{0, 1}, 0, 0)
	if b.Empty() || b.ContentType != WAVContentType || b.Filename != WAVFilename {
		t.Fatalf("unexpected blob: %+v", b)
	}
}

func TestBufferDropsWritesAfterClose(t *testing.T) {
	var buf Buffer
	_, _ = buf.Write([]byte{1, 2})
	_, _ = buf.Write([]byte{3})
	if got := buf.Close(); len(got) != 3 {
		t.Fatalf("Close() returned %d bytes, want 3", len(got))
	}
	_, _ = buf.Write([]byte{4})
	if buf.Len() != 0 {
		t.Fatalf("Len() = %d after close, want 0", buf.Len())
	}
}
