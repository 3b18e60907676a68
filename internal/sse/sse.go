// Package sse decodes server-sent event streams incrementally.
//
// Network reads may split a line anywhere, including inside a multi-byte character or
// between CR and LF. LineBuffer keeps the incomplete tail between reads and only hands
// out whole lines.
package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

// DoneSentinel terminates a completion stream.
const DoneSentinel = "[DONE]"

const readChunk = 4096

// LineBuffer accumulates raw bytes and yields complete LF-terminated lines.
type LineBuffer struct {
	buf []byte
}

// Feed appends p and returns every line completed by it, without the terminator and
// with a trailing CR removed. Incomplete data stays buffered for the next call.
func (b *LineBuffer) Feed(p []byte) []string {
	b.buf = append(b.buf, p...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(b.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := b.buf[start : start+i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
		start += i + 1
	}

	if start > 0 {
		n := copy(b.buf, b.buf[start:])
		b.buf = b.buf[:n]
	}
	return lines
}

// Pending returns the number of buffered bytes not yet forming a complete line.
func (b *LineBuffer) Pending() int { return len(b.buf) }

// Event is one data line of the stream.
type Event struct {
	Data string
	Done bool
}

// ParseLine extracts the payload of a "data:" line. Other lines (comments, event names,
// blank separators) report false.
func ParseLine(line string) (Event, bool) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return Event{}, false
	}
	data = strings.TrimPrefix(data, " ")
	if strings.TrimSpace(data) == DoneSentinel {
		return Event{Done: true}, true
	}
	return Event{Data: data}, true
}

// Reader pulls events from an underlying stream body.
type Reader struct {
	r       io.Reader
	lines   LineBuffer
	pending []string
	chunk   []byte
	err     error
	done    bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, chunk: make([]byte, readChunk)}
}

// Next returns the next data event. It returns io.EOF once the done sentinel is seen or
// the body ends; bytes after the last newline at end of body are discarded. Any other
// read error is returned as is.
func (r *Reader) Next() (Event, error) {
	for {
		if r.done {
			return Event{}, io.EOF
		}
		for len(r.pending) > 0 {
			line := r.pending[0]
			r.pending = r.pending[1:]
			ev, ok := ParseLine(line)
			if !ok {
				continue
			}
			if ev.Done {
				r.done = true
				r.pending = nil
				return Event{}, io.EOF
			}
			return ev, nil
		}

		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				r.done = true
				return Event{}, io.EOF
			}
			return Event{}, r.err
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.pending = r.lines.Feed(r.chunk[:n])
		}
		// lines completed by the final read are drained before the error surfaces
		r.err = err
	}
}
