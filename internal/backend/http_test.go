package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ent0n29/clawdesk/internal/audio"
	"github.com/ent0n29/clawdesk/internal/reliability"
	"github.com/ent0n29/clawdesk/internal/stream"
	"github.com/ent0n29/clawdesk/internal/transcript"
)

func TestHTTPClientChat(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"reply":"Hi"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/api/", 0)
	reply, err := c.Chat(context.Background(), ChatRequest{
		Message: "hello",
		History: []transcript.HistoryMessage{{Role: transcript.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "Hi" {
		t.Fatalf("reply = %q, want Hi", reply)
	}
	if got.Message != "hello" || len(got.History) != 1 || got.History[0].Role != transcript.RoleUser {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestHTTPClientChatFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("X-Case"), "status") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"ok":false,"error":"Groq API key missing. Please save it in Settings."}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":false,"error":"Chat failed: upstream timeout"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0)
	_, err := c.Chat(context.Background(), ChatRequest{Message: "x"})
	if !reliability.IsKind(err, reliability.KindApplication) {
		t.Fatalf("Chat() error = %v, want application error", err)
	}
	if msg := reliability.Message(err, ""); msg != "Chat failed: upstream timeout" {
		t.Fatalf("message = %q", msg)
	}

	c.client.Transport = headerTransport{base: c.client.Transport, key: "X-Case", value: "status"}
	_, err = c.Chat(context.Background(), ChatRequest{Message: "x"})
	if !reliability.IsKind(err, reliability.KindTransport) {
		t.Fatalf("Chat() error = %v, want transport error", err)
	}
	if msg := reliability.Message(err, ""); !strings.HasPrefix(msg, "Groq API key missing") {
		t.Fatalf("message = %q", msg)
	}
}

func TestHTTPClientChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{"data: stream-started\n\n", "data: Hi \n\n", "data: there\r\n\r\n", "data: [DONE]\n\n"} {
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0)
	s, err := c.ChatStream(context.Background(), ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer s.Close()

	var text strings.Builder
	for ev, err := range s.Events(context.Background()) {
		if err != nil {
			t.Fatalf("Events() error = %v", err)
		}
		if ev.Type == stream.EventToken {
			text.WriteString(ev.Text)
		}
	}
	if text.String() != "Hithere" {
		t.Fatalf("text = %q, want %q", text.String(), "Hithere")
	}
}

func TestHTTPClientChatStreamOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream unavailable")
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0)
	_, err := c.ChatStream(context.Background(), ChatRequest{Message: "hello"})
	var rerr *reliability.Error
	if !errors.As(err, &rerr) || rerr.Kind != reliability.KindTransport || rerr.Status != http.StatusBadGateway {
		t.Fatalf("ChatStream() error = %v, want transport error with status 502", err)
	}
	if rerr.Message != "upstream unavailable" {
		t.Fatalf("message = %q", rerr.Message)
	}
}

func TestHTTPClientTranscribeUploadsAudioField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("audio")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"ok":false,"error":"Missing multipart file field: audio"}`)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != audio.WAVFilename || len(data) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"text":"  turn on the lights "}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 0)
	text, err := c.Transcribe(context.Background(), audio.NewWAVBlob([]byte{1, 0, 2, 0}, 16000, 1))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "turn on the lights" {
		t.Fatalf("text = %q", text)
	}
}

func TestErrorMessageFallbackChain(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"ok":false,"error":"boom"}`, "boom"},
		{`{"detail":"Not found."}`, "Not found."},
		{`plain text failure`, "plain text failure"},
		{``, ""},
	}
	for _, tc := range cases {
		if got := errorMessage([]byte(tc.body)); got != tc.want {
			t.Fatalf("errorMessage(%q) = %q, want %q", tc.body, got, tc.want)
		}
	}
}

type headerTransport struct {
	base       http.RoundTripper
	key, value string
}

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(h.key, h.value)
	return h.base.RoundTrip(r)
}
