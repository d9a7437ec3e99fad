// Package artifacts buffers derived outputs produced mid-turn and persists
// them once at turn end. Repeated writes under one key coalesce to the last
// value, so a model revising a document three times costs one persist.
package artifacts

import (
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tern-dev/tern/pkg/bus"
)

// Sink persists one artifact. A project store implements it by writing into
// the workspace directory.
type Sink interface {
	PersistArtifact(key string, data []byte) error
}

// Entry is one buffered artifact.
type Entry struct {
	Key       string
	Data      []byte
	Kind      string
	UpdatedAt time.Time
}

// Buffer coalesces artifact writes until Flush. Safe for concurrent use;
// tools record from the gate's pool while the driver flushes between turns.
type Buffer struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string]*Entry)}
}

// RecordProductDoc buffers a markdown product document under its path.
func (b *Buffer) RecordProductDoc(path, content string) {
	b.record(path, []byte(content), "product_doc")
}

// RecordHTML buffers an HTML page. The slug is stored alongside the content
// so the sink can derive a publishable name from it.
func (b *Buffer) RecordHTML(path, content, slug string) {
	payload, _ := json.Marshal(struct {
		Slug    string `json:"slug"`
		Content string `json:"content"`
	}{Slug: slug, Content: content})
	b.record(path, payload, "html")
}

// Record buffers raw bytes under a key.
func (b *Buffer) Record(key string, data []byte) {
	b.record(key, data, "raw")
}

func (b *Buffer) record(key string, data []byte, kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = &Entry{Key: key, Data: data, Kind: kind, UpdatedAt: time.Now()}
}

// HasPending reports whether anything is buffered.
func (b *Buffer) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries) > 0
}

// Len returns the number of buffered keys.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush persists each buffered key exactly once, emits an artifact event per
// persisted key, and clears the buffer. Per-key failures are logged and do
// not stop the other keys. The buffer clears even when sink is nil or every
// persist fails, so a broken sink cannot grow the buffer without bound.
func (b *Buffer) Flush(sink Sink, sessionID string, eb *bus.Bus, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	b.mu.Lock()
	pending := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		pending = append(pending, e)
	}
	b.entries = make(map[string]*Entry)
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
	})

	for _, e := range pending {
		if sink == nil {
			logger.Warn("artifact dropped, no sink", "session", sessionID, "key", e.Key, "bytes", len(e.Data))
			continue
		}
		if err := sink.PersistArtifact(e.Key, e.Data); err != nil {
			logger.Warn("artifact persist failed", "session", sessionID, "key", e.Key, "error", err)
			continue
		}
		logger.Debug("artifact persisted", "session", sessionID, "key", e.Key, "kind", e.Kind, "bytes", len(e.Data))
		if eb != nil {
			eb.Emit(bus.Event{Type: bus.EventArtifact, Key: e.Key})
		}
	}
}
