// Package sse implements the subset of server-sent events that LLM streaming
// APIs use: `event:` and `data:` fields, one event per blank-line-separated
// block. Comments and other field names are ignored.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	// Name is the `event:` field, empty when the block had none.
	Name string
	// Data is the `data:` payload. Multi-line data fields are joined with
	// newlines, per the SSE specification.
	Data string
}

// Reader decodes events from a stream, typically an HTTP response body.
type Reader struct {
	scanner *bufio.Scanner
}

// maxLineBytes bounds a single SSE line; streamed tool arguments can carry
// whole files in one data field.
const maxLineBytes = 1 << 20

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{scanner: sc}
}

// Next returns the next event, or io.EOF when the stream ends. A partial
// block at EOF (data with no trailing blank line) is returned as an event.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var data []string
	seen := false

	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if seen {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			seen = true
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			seen = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if seen {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}
