package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/clawdesk/internal/audio"
	"github.com/ent0n29/clawdesk/internal/backend"
	"github.com/ent0n29/clawdesk/internal/device"
	"github.com/ent0n29/clawdesk/internal/observability"
	"github.com/ent0n29/clawdesk/internal/reliability"
	"github.com/ent0n29/clawdesk/internal/speech"
	"github.com/ent0n29/clawdesk/internal/transcript"
)

const (
	acquireOp    = "microphone acquire"
	finalizeOp   = "microphone finalize"
	transcribeOp = "voice transcribe"
	replyOp      = "voice reply"
)

// Backend is the subset of the chat backend a voice turn needs.
type Backend interface {
	Transcribe(ctx context.Context, blob audio.Blob) (string, error)
	Chat(ctx context.Context, req backend.ChatRequest) (string, error)
}

type Config struct {
	Microphone device.Microphone
	Backend    Backend
	Speaker    speech.Speaker
	Transcript *transcript.Transcript
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Controller drives one voice turn at a time through
// recording, transcription, reply and speech.
type Controller struct {
	mic        device.Microphone
	backend    Backend
	speaker    speech.Speaker
	transcript *transcript.Transcript
	metrics    *observability.Metrics
	log        zerolog.Logger

	mu          sync.Mutex
	state       State
	lastOutcome Outcome
	capture     device.Capture
	release     *releaser
	span        trace.Span
	startedAt   time.Time
	cancelTurn  context.CancelFunc
}

func NewController(cfg Config) *Controller {
	if cfg.Speaker == nil {
		cfg.Speaker = speech.NewLogSpeaker(cfg.Logger)
	}
	return &Controller{
		mic:        cfg.Microphone,
		backend:    cfg.Backend,
		speaker:    cfg.Speaker,
		transcript: cfg.Transcript,
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		state:      StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) LastOutcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutcome
}

// Start acquires the microphone and begins recording. On a device failure a
// notice is recorded, nothing is held and the controller stays idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return ErrTurnActive
	}

	_, span := tracer.Start(context.WithoutCancel(ctx), "voice turn")
	capture, err := c.mic.Acquire(ctx)
	if err != nil {
		derr := reliability.Device(acquireOp, err)
		span.RecordError(derr)
		span.SetStatus(codes.Error, derr.Error())
		span.End()

		c.state = StateIdle
		c.lastOutcome = OutcomeDeviceFailed
		c.metrics.CountVoiceTurn(string(OutcomeDeviceFailed))
		c.transcript.AppendSystemNotice(reliability.Message(err, noticeMicrophoneFailed))
		c.log.Warn().Err(err).Msg("microphone acquire failed")
		return derr
	}

	c.capture = capture
	c.release = newReleaser(capture, c.log)
	c.span = span
	c.startedAt = time.Now()
	c.state = StateRecording
	c.lastOutcome = OutcomeNone
	c.log.Debug().Msg("voice turn recording")
	return nil
}

// Stop finalizes the recording and runs the rest of the turn synchronously.
// Speech playback is started but not awaited. Calling Stop with no
// recording in progress aborts and returns ErrNotRecording.
func (c *Controller) Stop(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		if !c.state.Active() {
			c.state = StateAborted
			c.lastOutcome = OutcomeAborted
			c.metrics.CountVoiceTurn(string(OutcomeAborted))
		}
		c.mu.Unlock()
		return Result{Outcome: OutcomeAborted}, ErrNotRecording
	}
	capture, rel, span, started := c.capture, c.release, c.span, c.startedAt
	turnCtx, cancel := context.WithCancel(trace.ContextWithSpan(ctx, span))
	c.capture, c.release, c.span = nil, nil, nil
	c.cancelTurn = cancel
	c.state = StateFinalizing
	c.mu.Unlock()

	defer rel.release()
	defer cancel()

	res, err := c.finish(turnCtx, capture)

	c.mu.Lock()
	c.cancelTurn = nil
	switch {
	case c.state == StateAborted:
		res.Outcome = OutcomeAborted
	case res.Outcome == OutcomeDeviceFailed:
		c.state = StateAborted
	default:
		c.state = StateIdle
	}
	c.lastOutcome = res.Outcome
	c.mu.Unlock()

	c.metrics.CountVoiceTurn(string(res.Outcome))
	c.metrics.ObserveStage(observability.StageVoiceTotal, time.Since(started))
	span.SetAttributes(attribute.String("voice.outcome", string(res.Outcome)))
	if err != nil && !reliability.IsExpected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	c.log.Debug().Str("outcome", string(res.Outcome)).Dur("elapsed", time.Since(started)).Msg("voice turn finished")
	return res, err
}

// Abort ends the current turn from outside, e.g. when its session ends.
// A recording turn releases the microphone immediately; a turn past
// recording has its in-flight calls cancelled and releases on its way out.
func (c *Controller) Abort(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active() {
		return
	}
	c.log.Info().Str("reason", reason).Str("state", string(c.state)).Msg("voice turn aborted")
	if c.state == StateRecording {
		c.release.release()
		c.span.SetAttributes(attribute.String("voice.outcome", string(OutcomeAborted)))
		c.span.End()
		c.capture, c.release, c.span = nil, nil, nil
		c.metrics.CountVoiceTurn(string(OutcomeAborted))
	} else if c.cancelTurn != nil {
		// Stop still owns the resources and records the outcome.
		c.cancelTurn()
	}
	c.state = StateAborted
	c.lastOutcome = OutcomeAborted
}

func (c *Controller) finish(ctx context.Context, capture device.Capture) (Result, error) {
	stageStart := time.Now()
	blob, err := capture.Stop(ctx)
	c.metrics.ObserveStage(observability.StageVoiceFinalize, time.Since(stageStart))
	if err != nil {
		derr := reliability.Device(finalizeOp, err)
		c.transcript.AppendSystemNotice(reliability.Message(err, noticeMicrophoneFailed))
		c.log.Warn().Err(err).Msg("microphone finalize failed")
		return Result{Outcome: OutcomeDeviceFailed}, derr
	}
	if blob.Empty() {
		c.transcript.AppendSystemNotice(NoticeNoAudio)
		return Result{Outcome: OutcomeNoAudio}, reliability.EmptyResult(finalizeOp, NoticeNoAudio)
	}

	if !c.advance(StateTranscribing) {
		return Result{Outcome: OutcomeAborted}, context.Canceled
	}
	stageStart = time.Now()
	text, err := c.backend.Transcribe(ctx, blob)
	c.metrics.ObserveStage(observability.StageVoiceTranscribe, time.Since(stageStart))
	if err != nil {
		c.transcript.AppendSystemNotice(reliability.Message(err, noticeVoiceFlowFailed))
		c.log.Warn().Err(err).Msg("transcription failed")
		return Result{Outcome: OutcomeTranscriptionFailed}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.transcript.AppendSystemNotice(NoticeNoSpeech)
		return Result{Outcome: OutcomeNoSpeech}, reliability.EmptyResult(transcribeOp, NoticeNoSpeech)
	}
	c.log.Debug().Str("transcript", observability.Redact(text)).Msg("voice transcribed")

	if !c.advance(StateAwaitingReply) {
		return Result{Outcome: OutcomeAborted, Transcript: text}, context.Canceled
	}
	if err := c.transcript.AppendUserTurn(text); err != nil {
		return Result{Outcome: OutcomeNoSpeech}, err
	}
	stageStart = time.Now()
	reply, err := c.backend.Chat(ctx, backend.ChatRequest{Message: text, History: c.transcript.History()})
	c.metrics.ObserveStage(observability.StageVoiceReply, time.Since(stageStart))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = reliability.EmptyResult(replyOp, NoticeNoReply)
	}
	if err != nil {
		c.transcript.AppendSystemNotice(reliability.Message(err, NoticeNoReply))
		c.log.Warn().Err(err).Msg("voice reply failed")
		return Result{Outcome: OutcomeReplyFailed, Transcript: text}, err
	}

	if !c.advance(StateSpeaking) {
		return Result{Outcome: OutcomeAborted, Transcript: text}, context.Canceled
	}
	c.transcript.AppendAssistantReply(reply)
	c.speaker.Speak(reply)
	return Result{Outcome: OutcomeCompleted, Transcript: text, Reply: reply}, nil
}

// advance moves to next unless the turn was aborted meanwhile.
func (c *Controller) advance(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAborted {
		return false
	}
	c.state = next
	return true
}
