package miniaudio

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/audio"
	"github.com/ent0n29/clawdesk/internal/device"
)

const channels = 1

// Microphone captures mono S16LE audio from the default input device. Each
// Acquire opens its own miniaudio context so nothing is held between turns.
type Microphone struct {
	sampleRate int
	log        zerolog.Logger
}

func NewMicrophone(sampleRate int, log zerolog.Logger) *Microphone {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Microphone{sampleRate: sampleRate, log: log}
}

func (m *Microphone) Acquire(ctx context.Context) (device.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		m.log.Debug().Str("component", "malgo").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.Capture.Format = format
	cfg.Capture.Channels = channels
	cfg.Alsa.NoMMap = 1

	c := &capture{audioCtx: audioCtx, sampleRate: m.sampleRate}
	dev, err := malgo.InitDevice(audioCtx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n {
				return
			}
			_, _ = c.buf.Write(input[:n])
		},
	})
	if err != nil {
		_ = c.Release()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	c.device = dev

	if err := dev.Start(); err != nil {
		_ = c.Release()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	return c, nil
}

type capture struct {
	audioCtx   *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	buf        audio.Buffer

	releaseOnce sync.Once
}

func (c *capture) Stop(_ context.Context) (audio.Blob, error) {
	if c.device != nil && c.device.IsStarted() {
		if err := c.device.Stop(); err != nil {
			return audio.Blob{}, fmt.Errorf("stop capture device: %w", err)
		}
	}
	return audio.NewWAVBlob(c.buf.Close(), c.sampleRate, channels), nil
}

func (c *capture) Release() error {
	var err error
	c.releaseOnce.Do(func() {
		if c.device != nil {
			c.device.Uninit()
			c.device = nil
		}
		if c.audioCtx != nil {
			err = c.audioCtx.Uninit()
			c.audioCtx.Free()
			c.audioCtx = nil
		}
	})
	return err
}
