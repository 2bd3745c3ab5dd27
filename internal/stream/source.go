package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/ent0n29/clawdesk/internal/reliability"
)

const (
	readBufferSize  = 4 << 10
	errorBodyLimit  = 4 << 10
	openOp          = "open chat stream"
	readOp          = "read chat stream"
	defaultContType = "text/event-stream"
)

// Stream is an opened chat stream body together with its text encoding.
type Stream struct {
	body     io.ReadCloser
	encoding encoding.Encoding
}

// New wraps body, resolving the text encoding from contentType.
func New(body io.ReadCloser, contentType string) *Stream {
	return &Stream{body: body, encoding: EncodingFor(contentType)}
}

// FromResponse validates res and takes ownership of its body. A non-2xx
// status or a missing body fails before any event is produced, carrying
// whatever diagnostic text the server returned.
func FromResponse(res *http.Response) (*Stream, error) {
	if res == nil {
		return nil, reliability.Transport(openOp, 0, "no response", nil)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var text string
		if res.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(res.Body, errorBodyLimit))
			_ = res.Body.Close()
			text = strings.TrimSpace(string(body))
		}
		return nil, reliability.Transport(openOp, res.StatusCode, text, nil)
	}
	if res.Body == nil || res.Body == http.NoBody {
		return nil, reliability.Transport(openOp, res.StatusCode, "response has no body", nil)
	}
	return New(res.Body, res.Header.Get("Content-Type")), nil
}

// Events lazily decodes the stream. The sequence can be ranged over once.
func (s *Stream) Events(ctx context.Context) iter.Seq2[Event, error] {
	return Decode(ctx, s.body, s.encoding)
}

func (s *Stream) Close() error {
	if s == nil || s.body == nil {
		return nil
	}
	return s.body.Close()
}

// Decode reads r until it is exhausted, a sentinel ends the stream, or ctx is
// done. An [ERROR] frame yields its Error event and then a ProtocolError; read
// failures yield a TransportError.
func Decode(ctx context.Context, r io.Reader, enc encoding.Encoding) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		d := NewDecoder(enc)
		emit := func(events []Event) bool {
			for _, ev := range events {
				if !yield(ev, nil) {
					return false
				}
			}
			if err := d.Err(); err != nil {
				yield(Event{}, err)
				return false
			}
			return !d.Finished()
		}

		buf := make([]byte, readBufferSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(Event{}, err)
				return
			}
			n, err := r.Read(buf)
			if n > 0 && !emit(d.Feed(buf[:n])) {
				return
			}
			if errors.Is(err, io.EOF) {
				emit(d.Close())
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(Event{}, ctxErr)
					return
				}
				yield(Event{}, reliability.Transport(readOp, 0, "", err))
				return
			}
		}
	}
}

// EncodingFor resolves the charset parameter of a Content-Type header,
// falling back to UTF-8 when it is missing or unknown.
func EncodingFor(contentType string) encoding.Encoding {
	if strings.TrimSpace(contentType) == "" {
		contentType = defaultContType
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return unicode.UTF8
	}
	charset := strings.TrimSpace(params["charset"])
	if charset == "" {
		return unicode.UTF8
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return unicode.UTF8
	}
	return enc
}
