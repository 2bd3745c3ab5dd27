package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/clawdesk/internal/protocol"
)

type options struct {
	baseURL        string
	stream         string
	replyTimeout   time.Duration
	requestTimeout time.Duration
}

type createSessionRequest struct {
	Stream *bool `json:"stream,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

const usage = `commands:
  /voice   start recording, run again to stop and send
  /quit    end the session and exit
anything else is sent as a chat message`

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "clawchat: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "clawchat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	fs := flag.NewFlagSet("clawchat", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "clawdesk base URL")
	fs.StringVar(&cfg.stream, "stream", "", "force streaming on or off (true|false); empty uses the server default")
	fs.DurationVar(&cfg.replyTimeout, "reply-timeout", 2*time.Minute, "how long to wait for each command's reply")
	fs.DurationVar(&cfg.requestTimeout, "request-timeout", 15*time.Second, "timeout for session HTTP calls")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.stream)) {
	case "", "true", "false":
	default:
		return options{}, fmt.Errorf("stream must be true, false or empty")
	}
	if cfg.replyTimeout < time.Second {
		cfg.replyTimeout = time.Second
	}
	return cfg, nil
}

func (o options) streamOverride() *bool {
	switch strings.ToLower(strings.TrimSpace(o.stream)) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}

func run(ctx context.Context, cfg options, in io.Reader, out io.Writer) error {
	httpClient := &http.Client{Timeout: cfg.requestTimeout}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	view := newRenderer(out)
	replies := make(chan reply, 8)
	readErr := make(chan error, 1)
	go readLoop(conn, view, replies, readErr)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	recording := false
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("ws read: %w", err)
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		var msg any
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		case "/help":
			fmt.Fprintln(out, usage)
			continue
		case "/voice":
			action := protocol.ActionVoiceStart
			if recording {
				action = protocol.ActionVoiceStop
			}
			msg = protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sessionID, Action: action}
		default:
			msg = protocol.ClientSend{Type: protocol.TypeClientSend, SessionID: sessionID, Text: line, Stream: cfg.streamOverride()}
		}

		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("ws write: %w", err)
		}
		r, err := awaitReply(ctx, replies, readErr, cfg.replyTimeout)
		if err != nil {
			return err
		}
		switch {
		case r.code == "voice_recording":
			recording = true
			view.notice("recording; type /voice to stop")
		case r.voice != nil:
			recording = false
			view.notice("voice turn " + r.voice.Outcome)
		case r.err != nil:
			if r.err.Code == "not_recording" {
				recording = false
			}
			view.notice(fmt.Sprintf("error %s: %s", r.err.Code, r.err.Detail))
		}
	}
}

// reply is the single answer the server sends for each client command.
type reply struct {
	code  string
	voice *protocol.VoiceResult
	err   *protocol.ErrorEvent
}

func awaitReply(ctx context.Context, replies <-chan reply, readErr <-chan error, timeout time.Duration) (reply, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-replies:
		return r, nil
	case err := <-readErr:
		return reply{}, fmt.Errorf("ws read: %w", err)
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-timer.C:
		return reply{}, fmt.Errorf("no reply within %s", timeout)
	}
}

func readLoop(conn *websocket.Conn, view *renderer, replies chan<- reply, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeTranscriptSnapshot:
			var msg protocol.TranscriptSnapshot
			if json.Unmarshal(data, &msg) == nil {
				for i, turn := range msg.Turns {
					view.apply(i, turn)
				}
			}
		case protocol.TypeTurnUpdate:
			var msg protocol.TurnUpdate
			if json.Unmarshal(data, &msg) == nil {
				view.apply(msg.Index, msg.Turn)
			}
		case protocol.TypeSystemEvent:
			var msg protocol.SystemEvent
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			if msg.Code == "session_ended" {
				view.notice("session ended")
				select {
				case readErr <- errors.New("session ended"):
				default:
				}
				return
			}
			replies <- reply{code: msg.Code}
		case protocol.TypeVoiceResult:
			var msg protocol.VoiceResult
			if json.Unmarshal(data, &msg) == nil {
				replies <- reply{voice: &msg}
			}
		case protocol.TypeErrorEvent:
			var msg protocol.ErrorEvent
			if json.Unmarshal(data, &msg) == nil {
				replies <- reply{err: &msg}
			}
		}
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{Stream: cfg.streamOverride()})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/" + url.PathEscape(sessionID) + "/ws"
	return u.String(), nil
}
