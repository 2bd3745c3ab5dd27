package stream

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ent0n29/clawdesk/internal/reliability"
)

const (
	FieldData      = "data:"
	SentinelDone   = "[DONE]"
	SentinelError  = "[ERROR]"
	KeepaliveToken = "stream-started"

	frameDelimiter      = "\n\n"
	unknownStreamError  = "Unknown stream error"
	decodeOp            = "chat stream"
	minDecodeBufferSize = 64
)

// Decoder turns raw byte chunks into stream events. Frames end at a blank
// line; LF and CRLF line endings are both accepted. Chunks may split frames,
// lines or multi-byte characters anywhere; undecoded trailing bytes and the
// unterminated frame tail are carried over to the next Feed.
//
// A Decoder is single use: once it has seen [DONE] or [ERROR], or has been
// closed, it ignores further input.
type Decoder struct {
	transformer transform.Transformer
	pending     []byte
	text        string
	finished    bool
	err         error
}

// NewDecoder returns a decoder for text in enc. A nil enc means UTF-8.
func NewDecoder(enc encoding.Encoding) *Decoder {
	if enc == nil {
		enc = unicode.UTF8
	}
	t := enc.NewDecoder()
	t.Reset()
	return &Decoder{transformer: t}
}

// Feed decodes chunk and returns the events of every frame it completes.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.finished || len(chunk) == 0 {
		return nil
	}
	text, err := d.decodeText(chunk, false)
	if err != nil {
		d.fail(err)
		return nil
	}
	d.appendText(text)
	return d.drain(false)
}

// Close flushes held-over bytes and processes a trailing frame that was never
// terminated by a blank line. It is safe to call more than once.
func (d *Decoder) Close() []Event {
	if d.finished {
		return nil
	}
	text, err := d.decodeText(nil, true)
	if err != nil {
		d.fail(err)
		return nil
	}
	d.appendText(text)
	d.text = strings.TrimSuffix(d.text, "\r")
	events := d.drain(true)
	d.finished = true
	d.text = ""
	return events
}

// Finished reports whether the decoder has stopped accepting input.
func (d *Decoder) Finished() bool { return d.finished }

// Err returns the ProtocolError raised by an [ERROR] frame or by undecodable
// input, if any.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) fail(err error) {
	var rerr *reliability.Error
	if !errors.As(err, &rerr) {
		rerr = reliability.Protocol(decodeOp, err.Error())
	}
	d.err = rerr
	d.finished = true
	d.text = ""
	d.pending = nil
}

// appendText adds decoded text to the frame buffer with CRLF line endings
// folded to LF. A trailing CR waits for its LF in the next chunk.
func (d *Decoder) appendText(text string) {
	d.text = strings.ReplaceAll(d.text+text, "\r\n", "\n")
}

func (d *Decoder) drain(final bool) []Event {
	var out []Event
	for !d.finished {
		i := strings.Index(d.text, frameDelimiter)
		if i < 0 {
			break
		}
		frame := d.text[:i]
		d.text = d.text[i+len(frameDelimiter):]
		out = d.appendFrame(out, frame)
	}
	if final && !d.finished && d.text != "" {
		frame := d.text
		d.text = ""
		out = d.appendFrame(out, frame)
	}
	if d.finished {
		d.text = ""
	}
	return out
}

func (d *Decoder) appendFrame(out []Event, frame string) []Event {
	for _, line := range strings.Split(frame, "\n") {
		if !strings.HasPrefix(line, FieldData) {
			continue
		}
		value := strings.TrimSpace(line[len(FieldData):])
		switch {
		case value == "":
			continue
		case value == SentinelDone:
			d.finished = true
			return append(out, Done())
		case strings.HasPrefix(value, SentinelError):
			msg := strings.TrimSpace(strings.TrimPrefix(value, SentinelError))
			if msg == "" {
				msg = unknownStreamError
			}
			d.err = reliability.Protocol(decodeOp, msg)
			d.finished = true
			return append(out, Error(msg))
		case value == KeepaliveToken:
			out = append(out, Keepalive())
		default:
			out = append(out, Token(value))
		}
	}
	return out
}

func (d *Decoder) decodeText(chunk []byte, atEOF bool) (string, error) {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}
	if len(src) == 0 && !atEOF {
		return "", nil
	}

	var out strings.Builder
	dst := make([]byte, 4*len(src)+minDecodeBufferSize)
	for {
		nDst, nSrc, err := d.transformer.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			if len(src) == 0 || (nDst == 0 && nSrc == 0) {
				if len(src) > 0 {
					d.pending = append([]byte(nil), src...)
				}
				return out.String(), nil
			}
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case errors.Is(err, transform.ErrShortSrc):
			if atEOF {
				return out.String(), err
			}
			d.pending = append([]byte(nil), src...)
			return out.String(), nil
		default:
			return out.String(), err
		}
	}
}
