package stream

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/ent0n29/clawdesk/internal/reliability"
)

const fixtureStream = "data: Hi\n\n" +
	": comment line\nevent: message\ndata: stream-started\n\n" +
	"data:  ça va? 👋\n\n" +
	"data: 日本語\n\n" +
	"data:\n\n" +
	"data: tail \r\n\n" +
	"data: [DONE]\n\n"

func decodeChunks(chunks ...[]byte) []Event {
	d := NewDecoder(nil)
	var out []Event
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return append(out, d.Close()...)
}

func TestDecoderFixtureEvents(t *testing.T) {
	got := decodeChunks([]byte(fixtureStream))
	want := []Event{
		Token("Hi"),
		Keepalive(),
		Token("ça va? 👋"),
		Token("日本語"),
		Token("tail"),
		Done(),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestDecoderTrimsPayloadWhitespace(t *testing.T) {
	got := decodeChunks([]byte("data: Hi \n\ndata:   there\t\n\ndata: [DONE]\n\n"))
	want := []Event{Token("Hi"), Token("there"), Done()}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestDecoderCRLFFrames(t *testing.T) {
	raw := []byte("data: Hi\r\n\r\ndata: stream-started\r\n\r\ndata: [DONE]\r\n\r\n")
	want := []Event{Token("Hi"), Keepalive(), Done()}

	d := NewDecoder(nil)
	first := d.Feed(raw[:len("data: Hi\r\n\r\n")])
	if !reflect.DeepEqual(first, want[:1]) {
		t.Fatalf("events before source end = %v, want %v", first, want[:1])
	}

	for i := 0; i <= len(raw); i++ {
		if got := decodeChunks(raw[:i], raw[i:]); !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: events = %v, want %v", i, got, want)
		}
	}
}

func TestDecoderSplitInvariance(t *testing.T) {
	raw := []byte(fixtureStream)
	want := decodeChunks(raw)

	for i := 0; i <= len(raw); i++ {
		got := decodeChunks(raw[:i], raw[i:])
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: events = %v, want %v", i, got, want)
		}
	}

	oneByte := make([][]byte, 0, len(raw))
	for i := range raw {
		oneByte = append(oneByte, raw[i:i+1])
	}
	if got := decodeChunks(oneByte...); !reflect.DeepEqual(got, want) {
		t.Fatalf("byte-at-a-time: events = %v, want %v", got, want)
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		rest := raw
		for len(rest) > 0 {
			n := 1 + rng.Intn(9)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		if got := decodeChunks(chunks...); !reflect.DeepEqual(got, want) {
			t.Fatalf("round %d: events = %v, want %v", round, got, want)
		}
	}
}

func TestDecoderHoldsPartialRune(t *testing.T) {
	raw := []byte("data: €\n\n")
	euro := strings.Index(string(raw), "€")

	d := NewDecoder(nil)
	if got := d.Feed(raw[:euro+1]); len(got) != 0 {
		t.Fatalf("Feed(partial) = %v, want no events", got)
	}
	if got := d.Feed(raw[euro+1 : euro+2]); len(got) != 0 {
		t.Fatalf("Feed(partial) = %v, want no events", got)
	}
	got := d.Feed(raw[euro+2:])
	if want := []Event{Token("€")}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestDecoderStopsAfterDone(t *testing.T) {
	d := NewDecoder(nil)
	got := d.Feed([]byte("data: a\n\ndata: [DONE]\n\ndata: b\n\n"))
	if want := []Event{Token("a"), Done()}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if more := d.Feed([]byte("data: c\n\ndata: [ERROR]late\n\n")); len(more) != 0 {
		t.Fatalf("events after done = %v, want none", more)
	}
	if more := d.Close(); len(more) != 0 {
		t.Fatalf("Close() after done = %v, want none", more)
	}
	if d.Err() != nil {
		t.Fatalf("Err() = %v, want nil", d.Err())
	}
}

func TestDecodeErrorSentinelFails(t *testing.T) {
	src := strings.NewReader("data: partial\n\ndata: [ERROR]network down\n\ndata: [DONE]\n\n")

	var events []Event
	var failure error
	for ev, err := range Decode(context.Background(), src, nil) {
		if err != nil {
			failure = err
			break
		}
		events = append(events, ev)
	}

	if want := []Event{Token("partial"), Error("network down")}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if failure == nil {
		t.Fatalf("Decode() expected failure after [ERROR] frame")
	}
	if !reliability.IsKind(failure, reliability.KindProtocol) {
		t.Fatalf("failure = %v, want protocol error", failure)
	}
	if got := reliability.Message(failure, ""); got != "network down" {
		t.Fatalf("failure message = %q, want %q", got, "network down")
	}
}

func TestDecoderEmptyErrorSentinelUsesFallback(t *testing.T) {
	d := NewDecoder(nil)
	got := d.Feed([]byte("data: [ERROR]\n\n"))
	if want := []Event{Error("Unknown stream error")}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if d.Err() == nil {
		t.Fatalf("Err() = nil, want protocol error")
	}
}

func TestDecodeSourceEndWithoutDone(t *testing.T) {
	src := &chunkedReader{chunks: []string{"data: a\n", "\ndata: b"}}
	var events []Event
	for ev, err := range Decode(context.Background(), src, nil) {
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		events = append(events, ev)
	}
	if want := []Event{Token("a"), Token("b")}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestDecodeStopsReadingAfterDone(t *testing.T) {
	src := &chunkedReader{chunks: []string{"data: a\n\ndata: [DONE]\n\n", "data: never\n\n"}}
	var events []Event
	for ev, err := range Decode(context.Background(), src, nil) {
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		events = append(events, ev)
	}
	if want := []Event{Token("a"), Done()}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if src.reads != 1 {
		t.Fatalf("reads = %d, want 1", src.reads)
	}
}

func TestDecodeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range Decode(ctx, strings.NewReader("data: a\n\n"), nil) {
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		return
	}
	t.Fatalf("Decode() yielded nothing for cancelled context")
}

func TestStreamDecodesDeclaredCharset(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: caf\xe9\n\ndata: [DONE]\n\n"))
	s := New(body, "text/event-stream; charset=iso-8859-1")
	defer s.Close()

	var tokens []string
	for ev, err := range s.Events(context.Background()) {
		if err != nil {
			t.Fatalf("Events() error = %v", err)
		}
		if ev.Type == EventToken {
			tokens = append(tokens, ev.Text)
		}
	}
	if len(tokens) != 1 || tokens[0] != "café" {
		t.Fatalf("tokens = %q, want [café]", tokens)
	}
}

func TestFromResponseRejectsFailures(t *testing.T) {
	res := &http.Response{
		StatusCode: http.StatusBadRequest,
		Body:       io.NopCloser(strings.NewReader(`{"ok":false,"error":"message is required"}`)),
		Header:     http.Header{},
	}
	_, err := FromResponse(res)
	if !reliability.IsKind(err, reliability.KindTransport) {
		t.Fatalf("FromResponse() error = %v, want transport error", err)
	}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "message is required") {
		t.Fatalf("error %q lacks status or body text", err.Error())
	}

	_, err = FromResponse(&http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}})
	if !reliability.IsKind(err, reliability.KindTransport) {
		t.Fatalf("FromResponse(no body) error = %v, want transport error", err)
	}
}

type chunkedReader struct {
	chunks []string
	reads  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	r.reads++
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}
