package artifacts

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tern-dev/tern/pkg/bus"
)

type memSink struct {
	persisted map[string][]byte
	fail      map[string]bool
	calls     int
}

func newMemSink() *memSink {
	return &memSink{persisted: make(map[string][]byte), fail: make(map[string]bool)}
}

func (s *memSink) PersistArtifact(key string, data []byte) error {
	s.calls++
	if s.fail[key] {
		return errors.New("disk full")
	}
	s.persisted[key] = data
	return nil
}

func TestLastWriterWins(t *testing.T) {
	b := NewBuffer()
	b.RecordProductDoc("docs/plan.md", "v1")
	b.RecordProductDoc("docs/plan.md", "v2")
	b.RecordProductDoc("docs/plan.md", "v3")

	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}

	sink := newMemSink()
	b.Flush(sink, "s1", nil, nil)

	if sink.calls != 1 {
		t.Errorf("persist calls = %d, want 1", sink.calls)
	}
	if string(sink.persisted["docs/plan.md"]) != "v3" {
		t.Errorf("persisted %q, want v3", sink.persisted["docs/plan.md"])
	}
}

func TestFlushEmitsArtifactEvents(t *testing.T) {
	b := NewBuffer()
	b.RecordProductDoc("a.md", "alpha")
	b.RecordHTML("pages/index.html", "<h1>hi</h1>", "index")

	eb := bus.New("s1", nil)
	sub := eb.Subscribe()
	b.Flush(newMemSink(), "s1", eb, nil)

	evs := sub.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 artifact events, got %d", len(evs))
	}
	keys := map[string]bool{}
	for _, ev := range evs {
		if ev.Type != bus.EventArtifact {
			t.Errorf("event type = %s, want artifact", ev.Type)
		}
		keys[ev.Key] = true
	}
	if !keys["a.md"] || !keys["pages/index.html"] {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestRecordHTMLCarriesSlug(t *testing.T) {
	b := NewBuffer()
	b.RecordHTML("p.html", "<p>x</p>", "launch-page")

	sink := newMemSink()
	b.Flush(sink, "s1", nil, nil)

	var payload struct {
		Slug    string `json:"slug"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(sink.persisted["p.html"], &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.Slug != "launch-page" || payload.Content != "<p>x</p>" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestFlushClearsOnNilSink(t *testing.T) {
	b := NewBuffer()
	b.RecordProductDoc("a.md", "alpha")

	b.Flush(nil, "s1", nil, nil)
	if b.HasPending() {
		t.Errorf("buffer should clear with nil sink")
	}
}

func TestPerKeyFailureDoesNotStopOthers(t *testing.T) {
	b := NewBuffer()
	b.RecordProductDoc("bad.md", "x")
	b.RecordProductDoc("good.md", "y")

	sink := newMemSink()
	sink.fail["bad.md"] = true

	eb := bus.New("s1", nil)
	sub := eb.Subscribe()
	b.Flush(sink, "s1", eb, nil)

	if _, ok := sink.persisted["good.md"]; !ok {
		t.Errorf("good.md should persist despite bad.md failing")
	}
	evs := sub.Events()
	if len(evs) != 1 || evs[0].Key != "good.md" {
		t.Errorf("only good.md should emit an event, got %+v", evs)
	}
	if b.HasPending() {
		t.Errorf("buffer should clear even when a persist fails")
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	b := NewBuffer()
	eb := bus.New("s1", nil)
	sub := eb.Subscribe()
	b.Flush(newMemSink(), "s1", eb, nil)
	if evs := sub.Events(); len(evs) != 0 {
		t.Errorf("empty flush emitted events: %+v", evs)
	}
}
