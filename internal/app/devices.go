package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/config"
	"github.com/ent0n29/clawdesk/internal/device"
	"github.com/ent0n29/clawdesk/internal/device/miniaudio"
	"github.com/ent0n29/clawdesk/internal/speech"
)

type deviceSetup struct {
	microphone device.Microphone
	speaker    speech.Speaker
	micDetail  string
	speechMode string
	cleanup    func() error
}

// mockCaptureSeconds is how much silence the mock microphone hands back per
// turn. The mock backend ignores the audio, but it must not be empty.
const mockCaptureSeconds = 0.5

func resolveDevices(cfg config.Config, log zerolog.Logger) (deviceSetup, error) {
	var setup deviceSetup

	switch cfg.MicMode {
	case "mock":
		pcm := make([]byte, int(float64(cfg.MicSampleRate)*mockCaptureSeconds)*2)
		mic := device.NewMockMicrophone(pcm)
		mic.SampleRate = cfg.MicSampleRate
		setup.microphone = mic
		setup.micDetail = "mock"
	case "", "miniaudio":
		setup.microphone = miniaudio.NewMicrophone(cfg.MicSampleRate, log.With().Str("component", "microphone").Logger())
		setup.micDetail = fmt.Sprintf("miniaudio %d Hz", cfg.MicSampleRate)
	default:
		return deviceSetup{}, fmt.Errorf("invalid MIC_MODE: %q (expected miniaudio|mock)", cfg.MicMode)
	}

	switch cfg.SpeechMode {
	case "exec":
		sp, err := speech.NewExecSpeaker(cfg.SpeechCommand, log.With().Str("component", "speech").Logger())
		if err != nil {
			return deviceSetup{}, fmt.Errorf("speech init failed: %w", err)
		}
		setup.speaker = sp
		setup.speechMode = "exec"
		setup.cleanup = sp.Close
	case "", "log":
		setup.speaker = speech.NewLogSpeaker(log.With().Str("component", "speech").Logger())
		setup.speechMode = "log"
	default:
		return deviceSetup{}, fmt.Errorf("invalid SPEECH_MODE: %q (expected log|exec)", cfg.SpeechMode)
	}

	return setup, nil
}
