package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, input string) []Event {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var out []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestReaderBasic(t *testing.T) {
	events := readAll(t, "event: message_start\ndata: {\"a\":1}\n\nevent: done\ndata: [DONE]\n\n")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Name != "message_start" || events[0].Data != `{"a":1}` {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Name != "done" {
		t.Errorf("second event name = %q", events[1].Name)
	}
}

func TestReaderDataOnly(t *testing.T) {
	events := readAll(t, "data: one\n\ndata: two\n\n")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Name != "" || events[0].Data != "one" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestReaderMultiLineData(t *testing.T) {
	events := readAll(t, "data: line1\ndata: line2\n\n")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Data != "line1\nline2" {
		t.Errorf("data = %q", events[0].Data)
	}
}

func TestReaderPartialBlockAtEOF(t *testing.T) {
	events := readAll(t, "event: message_delta\ndata: {\"b\":2}")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Data != `{"b":2}` {
		t.Errorf("data = %q", events[0].Data)
	}
}

func TestReaderIgnoresComments(t *testing.T) {
	events := readAll(t, ": keepalive\n\ndata: x\n\n")
	if len(events) != 1 || events[0].Data != "x" {
		t.Fatalf("events = %+v", events)
	}
}
