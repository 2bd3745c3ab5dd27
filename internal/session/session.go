package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/clawdesk/internal/backend"
	"github.com/ent0n29/clawdesk/internal/observability"
	"github.com/ent0n29/clawdesk/internal/reliability"
	"github.com/ent0n29/clawdesk/internal/stream"
	"github.com/ent0n29/clawdesk/internal/transcript"
	"github.com/ent0n29/clawdesk/internal/voice"
)

const (
	chatFailedNotice = "Chat failed"
	noReplyNotice    = "No response from assistant."

	watchBuffer = 64
)

// Session coordinates one conversation: text sends, voice turns and the
// transcript they write to. At most one send or voice turn runs at a time.
type Session struct {
	ID string

	chat       backend.Client
	transcript *transcript.Transcript
	voice      *voice.Controller
	metrics    *observability.Metrics
	log        zerolog.Logger
	stream     bool
	startedAt  time.Time
	ttl        time.Duration

	inFlight atomic.Bool

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	voiceRelease func()
	watchers     map[string]chan transcript.Update
}

func newSession(opts Options, ttl time.Duration, streamDefault bool) *Session {
	id := uuid.NewString()
	log := observability.WithSession(opts.Logger, id)
	tr := transcript.New()
	now := time.Now().UTC()
	s := &Session{
		ID:         id,
		chat:       opts.Backend,
		transcript: tr,
		metrics:    opts.Metrics,
		log:        log,
		stream:     streamDefault,
		startedAt:  now,
		ttl:        ttl,

		status:       StatusActive,
		lastActivity: now,
		watchers:     make(map[string]chan transcript.Update),
	}
	s.voice = voice.NewController(voice.Config{
		Microphone: opts.Microphone,
		Backend:    opts.Backend,
		Speaker:    opts.Speaker,
		Transcript: tr,
		Metrics:    opts.Metrics,
		Logger:     log,
	})
	tr.SetListener(s.broadcast)
	return s
}

// acquire claims the single-flight slot. The returned release is safe to
// call more than once.
func (s *Session) acquire() (func(), error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.inFlight.Store(false) })
	}, nil
}

func (s *Session) Transcript() *transcript.Transcript { return s.transcript }

func (s *Session) Busy() bool { return s.inFlight.Load() }

// StreamDefault reports whether sends stream unless told otherwise.
func (s *Session) StreamDefault() bool { return s.stream }

// SendText appends text as a user turn and obtains the assistant reply,
// streamed token by token when streaming is set. Backend failures are
// recorded as system notices and also returned; the session stays usable.
func (s *Session) SendText(ctx context.Context, text string, streaming bool) (err error) {
	if strings.TrimSpace(text) == "" {
		return transcript.ErrEmptyText
	}
	if err := s.checkActive(); err != nil {
		return err
	}
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	s.touch()
	defer s.touch()

	mode := "sync"
	if streaming {
		mode = "stream"
	}
	ctx, span := tracer.Start(ctx, "send text", trace.WithAttributes(
		attribute.String("session.id", s.ID),
		attribute.String("send.mode", mode),
	))
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.CountSend(mode, outcome)
		s.metrics.ObserveStage(observability.StageSendTotal, time.Since(started))
		span.End()
	}()

	if err := s.transcript.AppendUserTurn(text); err != nil {
		return err
	}
	req := backend.ChatRequest{
		Message: strings.TrimSpace(text),
		History: s.transcript.History(),
	}
	if streaming {
		return s.sendStreaming(ctx, req, started)
	}
	return s.sendOnce(ctx, req)
}

func (s *Session) sendStreaming(ctx context.Context, req backend.ChatRequest, started time.Time) error {
	s.transcript.BeginAssistantTurn()

	st, err := s.chat.ChatStream(ctx, req)
	if err != nil {
		s.failSend(err, "chat stream open failed")
		return err
	}
	defer st.Close()

	var sawToken, sawDone bool
	for ev, err := range st.Events(ctx) {
		if err != nil {
			s.failSend(err, "chat stream failed")
			return err
		}
		s.metrics.CountStreamEvent(string(ev.Type))
		switch ev.Type {
		case stream.EventToken:
			if !sawToken {
				sawToken = true
				s.metrics.ObserveStage(observability.StageFirstToken, time.Since(started))
			}
			s.transcript.ExtendAssistantTurn(ev.Text)
		case stream.EventDone:
			sawDone = true
		case stream.EventKeepalive:
			s.log.Debug().Msg("chat stream started")
		}
	}

	s.transcript.CompleteAssistantTurn()
	if !sawDone {
		s.metrics.ObserveIndicator("stream_without_done")
		s.log.Warn().Msg("chat stream ended without completion marker")
	}
	return nil
}

func (s *Session) sendOnce(ctx context.Context, req backend.ChatRequest) error {
	reply, err := s.chat.Chat(ctx, req)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = reliability.EmptyResult("chat", noReplyNotice)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("chat failed")
		s.transcript.AppendSystemNotice(reliability.Message(err, noReplyNotice))
		return err
	}
	s.transcript.AppendAssistantReply(reply)
	return nil
}

// failSend keeps whatever the assistant turn received so far and records
// the failure after it.
func (s *Session) failSend(err error, msg string) {
	s.transcript.CompleteAssistantTurn()
	s.transcript.AppendSystemNotice(reliability.Message(err, chatFailedNotice))
	s.log.Warn().Err(err).Msg(msg)
}

// StartVoiceTurn begins recording. The session stays busy until the turn
// reaches a terminal state.
func (s *Session) StartVoiceTurn(ctx context.Context) error {
	if err := s.checkActive(); err != nil {
		return err
	}
	release, err := s.acquire()
	if err != nil {
		return err
	}
	s.touch()
	held := false
	defer func() {
		if !held {
			release()
		}
	}()
	if err := s.voice.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.voiceRelease = release
	s.mu.Unlock()
	held = true
	return nil
}

// StopVoiceTurn finishes the recording and runs transcription, reply and
// speech. Without a recording in progress it returns voice.ErrNotRecording.
func (s *Session) StopVoiceTurn(ctx context.Context) (voice.Result, error) {
	if !s.holdsVoiceSlot() {
		if s.Busy() {
			// A text send owns the slot; leave it undisturbed.
			return voice.Result{Outcome: voice.OutcomeAborted}, voice.ErrNotRecording
		}
		return s.voice.Stop(ctx)
	}
	defer s.finishVoiceTurn()
	s.touch()
	defer s.touch()
	return s.voice.Stop(ctx)
}

func (s *Session) VoiceState() voice.State { return s.voice.State() }

func (s *Session) holdsVoiceSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceRelease != nil
}

func (s *Session) finishVoiceTurn() {
	s.mu.Lock()
	release := s.voiceRelease
	s.voiceRelease = nil
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

// end marks the session ended and aborts any voice turn. It reports false
// if the session had already ended.
func (s *Session) end(reason string) bool {
	s.mu.Lock()
	if s.status == StatusEnded {
		s.mu.Unlock()
		return false
	}
	s.status = StatusEnded
	s.lastActivity = time.Now().UTC()
	watchers := s.watchers
	s.watchers = make(map[string]chan transcript.Update)
	s.mu.Unlock()

	s.voice.Abort(reason)
	s.finishVoiceTurn()
	for _, ch := range watchers {
		close(ch)
	}
	s.log.Info().Str("reason", reason).Msg("session ended")
	return true
}

func (s *Session) checkActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return ErrEnded
	}
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UTC()
}

// idleSince reports when the session last did anything. A text send in
// progress counts as activity.
func (s *Session) idleSince(now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return time.Time{}, false
	}
	if s.inFlight.Load() && s.voiceRelease == nil {
		return now, true
	}
	return s.lastActivity, true
}

// Info returns a snapshot; withTurns includes the transcript.
func (s *Session) Info(withTurns bool) Info {
	s.mu.Lock()
	info := Info{
		SessionID:       s.ID,
		Status:          s.status,
		Stream:          s.stream,
		StartedAt:       s.startedAt,
		LastActivityAt:  s.lastActivity,
		InactivityTTLMS: s.ttl.Milliseconds(),
	}
	s.mu.Unlock()
	info.Busy = s.Busy()
	info.VoiceState = s.voice.State()
	info.VoiceOutcome = s.voice.LastOutcome()
	if withTurns {
		info.Turns = s.transcript.Turns()
	}
	return info
}

// Watch subscribes to transcript updates. The channel is closed when the
// session ends or cancel is called. Slow watchers miss updates rather than
// stall the session.
func (s *Session) Watch() (<-chan transcript.Update, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return nil, nil, ErrEnded
	}
	id := uuid.NewString()
	ch := make(chan transcript.Update, watchBuffer)
	s.watchers[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

func (s *Session) broadcast(u transcript.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.watchers {
		select {
		case ch <- u:
		default:
			s.log.Warn().Str("watcher", id).Int("index", u.Index).Msg("transcript watcher lagging, update dropped")
		}
	}
}

// IsBusy reports whether err is a single-flight rejection from a session or
// its voice controller.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, voice.ErrTurnActive)
}
