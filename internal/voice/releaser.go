package voice

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/device"
)

// releaser frees a capture exactly once no matter how many exit paths call
// release.
type releaser struct {
	once    sync.Once
	capture device.Capture
	log     zerolog.Logger
}

func newReleaser(capture device.Capture, log zerolog.Logger) *releaser {
	return &releaser{capture: capture, log: log}
}

func (r *releaser) release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if err := r.capture.Release(); err != nil {
			r.log.Warn().Err(err).Msg("microphone release failed")
			return
		}
		r.log.Debug().Msg("microphone released")
	})
}
