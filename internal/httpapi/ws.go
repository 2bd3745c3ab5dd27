package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/clawdesk/internal/protocol"
	"github.com/ent0n29/clawdesk/internal/reliability"
	"github.com/ent0n29/clawdesk/internal/session"
	"github.com/ent0n29/clawdesk/internal/transcript"
	"github.com/ent0n29/clawdesk/internal/voice"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	outboundBuffer = 256
)

// handleSessionWS streams transcript updates for one session and accepts
// send and voice commands. Commands run on their own goroutines so the feed
// keeps flowing while a reply streams.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	updates, unwatch, err := sess.Watch()
	if err != nil {
		respondError(w, http.StatusConflict, "session_ended", err.Error())
		return
	}
	defer unwatch()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.CountSessionEvent("ws_connected")
	log := s.log.With().Str("session_id", sess.ID).Logger()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, outboundBuffer)
	enqueue := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				cancel()
				return false
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.CountWSMessage("outbound", string(t))
			}
			return true
		}

		drainUpdates := func() bool {
			for {
				select {
				case u, ok := <-updates:
					if !ok {
						return true
					}
					if !write(turnUpdate(sess.ID, u)) {
						return false
					}
				default:
					return true
				}
			}
		}

		// Updates carry their index, so one that also made it into the
		// snapshot is applied twice without harm.
		if !write(protocol.TranscriptSnapshot{
			Type:      protocol.TypeTranscriptSnapshot,
			SessionID: sess.ID,
			Turns:     sess.Transcript().Turns(),
		}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					_ = write(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sess.ID, Code: "session_ended"})
					cancel()
					return
				}
				if !write(turnUpdate(sess.ID, u)) {
					return
				}
			case msg := <-outbound:
				// Flush queued updates first so a command reply never
				// overtakes the transcript changes it caused.
				if !drainUpdates() {
					return
				}
				if !write(msg) {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	var commands sync.WaitGroup
	go func() {
		// Unblock ReadMessage when the writer or the request gives up.
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.CountWSMessage("inbound", string(t))
		}

		commands.Add(1)
		go func() {
			defer commands.Done()
			if msg := s.runCommand(ctx, sess, parsed); msg != nil {
				enqueue(msg)
			}
		}()
	}

	cancel()
	commands.Wait()
	<-writerDone
	s.metrics.CountSessionEvent("ws_disconnected")
}

// runCommand executes one client command and returns its single reply.
// Transcript changes reach the client through the feed.
func (s *Server) runCommand(ctx context.Context, sess *session.Session, msg any) any {
	switch m := msg.(type) {
	case protocol.ClientSend:
		streaming := sess.StreamDefault()
		if m.Stream != nil {
			streaming = *m.Stream
		}
		if err := sess.SendText(ctx, m.Text, streaming); err != nil {
			return commandError(sess.ID, "chat", err)
		}
		return protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sess.ID, Code: "send_complete"}
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionVoiceStart:
			if err := sess.StartVoiceTurn(ctx); err != nil {
				return commandError(sess.ID, "microphone", err)
			}
			return protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sess.ID, Code: "voice_recording"}
		case protocol.ActionVoiceStop:
			res, err := sess.StopVoiceTurn(ctx)
			if errors.Is(err, voice.ErrNotRecording) || session.IsBusy(err) {
				return commandError(sess.ID, "voice", err)
			}
			return protocol.VoiceResult{
				Type:       protocol.TypeVoiceResult,
				SessionID:  sess.ID,
				Outcome:    string(res.Outcome),
				Transcript: res.Transcript,
				Reply:      res.Reply,
			}
		}
	}
	return nil
}

func commandError(sessionID, source string, err error) protocol.ErrorEvent {
	code := "backend_error"
	switch {
	case session.IsBusy(err):
		code = "session_busy"
	case errors.Is(err, session.ErrEnded):
		code = "session_ended"
	case errors.Is(err, transcript.ErrEmptyText):
		code = "empty_text"
	case errors.Is(err, voice.ErrNotRecording):
		code = "not_recording"
	case reliability.IsKind(err, reliability.KindDevice):
		code = "microphone_unavailable"
	}
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    source,
		Retryable: reliability.Retryable(err) || session.IsBusy(err),
		Detail:    reliability.Message(err, "request failed"),
	}
}

func turnUpdate(sessionID string, u transcript.Update) protocol.TurnUpdate {
	return protocol.TurnUpdate{
		Type:      protocol.TypeTurnUpdate,
		SessionID: sessionID,
		Index:     u.Index,
		Turn:      u.Turn,
	}
}
