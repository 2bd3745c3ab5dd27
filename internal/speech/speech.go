package speech

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/observability"
)

const defaultUtteranceTimeout = 2 * time.Minute

// Speaker starts playback of text and returns without waiting for it to be
// audible.
type Speaker interface {
	Speak(text string)
}

// ExecSpeaker pipes text into a local synthesizer command such as
// `espeak --stdin`. Utterances play one at a time in submission order.
type ExecSpeaker struct {
	cmd     []string
	timeout time.Duration
	log     zerolog.Logger

	queue  chan string
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func NewExecSpeaker(command string, log zerolog.Logger) (*ExecSpeaker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("speech command %q: %w", args[0], err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ExecSpeaker{
		cmd:     args,
		timeout: defaultUtteranceTimeout,
		log:     log,
		queue:   make(chan string, 16),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *ExecSpeaker) Speak(text string) {
	text = SpeakableText(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.once.Do(func() { go s.loop() })
	select {
	case s.queue <- text:
	default:
		s.log.Warn().Int("chars", len(text)).Msg("speech queue full; dropping utterance")
	}
}

// Close drops queued utterances and stops the one playing.
func (s *ExecSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	close(s.queue)
	return nil
}

func (s *ExecSpeaker) loop() {
	for text := range s.queue {
		if s.ctx.Err() != nil {
			continue
		}
		s.play(text)
	}
}

func (s *ExecSpeaker) play(text string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)
	cmd.Stdin = strings.NewReader(text)
	started := time.Now()
	if out, err := cmd.CombinedOutput(); err != nil {
		s.log.Warn().Err(err).Str("output", observability.Redact(strings.TrimSpace(string(out)))).Msg("speech command failed")
		return
	}
	s.log.Debug().Dur("elapsed", time.Since(started)).Int("chars", len(text)).Msg("utterance played")
}

// LogSpeaker only logs what would have been spoken. It backs headless
// deployments without an audio output.
type LogSpeaker struct {
	log zerolog.Logger
}

func NewLogSpeaker(log zerolog.Logger) *LogSpeaker { return &LogSpeaker{log: log} }

func (s *LogSpeaker) Speak(text string) {
	text = SpeakableText(text)
	if text == "" {
		return
	}
	s.log.Info().Str("text", observability.Redact(text)).Msg("speak")
}
