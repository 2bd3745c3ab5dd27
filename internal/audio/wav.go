package audio

import (
	"encoding/binary"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	formatPCM     = 1

	DefaultSampleRate = 16000
	WAVContentType    = "audio/wav"
	WAVFilename       = "voice.wav"
)

// Blob is one assembled recording ready for upload.
type Blob struct {
	Data        []byte
	ContentType string
	Filename    string
}

func (b Blob) Empty() bool { return len(b.Data) == 0 }

// NewWAVBlob wraps PCM16LE samples in a WAV container. No samples yields an
// empty blob rather than a header-only file.
func NewWAVBlob(pcm []byte, sampleRate, channels int) Blob {
	if len(pcm) == 0 {
		return Blob{ContentType: WAVContentType, Filename: WAVFilename}
	}
	return Blob{
		Data:        EncodeWAVPCM16LE(pcm, sampleRate, channels),
		ContentType: WAVContentType,
		Filename:    WAVFilename,
	}
}

// EncodeWAVPCM16LE prefixes pcm with a canonical 44-byte RIFF/WAVE header.
func EncodeWAVPCM16LE(pcm []byte, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * bitsPerSample / 8
	dataSize := uint32(len(pcm))

	out := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian
	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], 36+dataSize)
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], formatPCM)
	le.PutUint16(out[22:24], uint16(channels))
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(out[32:34], uint16(blockAlign))
	le.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], dataSize)
	copy(out[wavHeaderSize:], pcm)
	return out
}
