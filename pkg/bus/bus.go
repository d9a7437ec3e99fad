package bus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Bus is a session-scoped broadcaster. One producer (the session's turn
// driver, plus sub-agents sharing its session) appends events; any number of
// readers consume them through cursors into the append-only log.
//
// A done event latches the bus closed: later emits are dropped until Reopen
// re-arms it for the next turn. Sequence numbers stay monotonic across turns.
type Bus struct {
	mu        sync.Mutex
	sessionID string
	events    []Event
	seq       uint64
	closed    bool
	wake      chan struct{}

	cbMu   sync.Mutex
	cbs    map[int]func(Event)
	nextCB int

	logger *slog.Logger
}

// New returns a Bus for the given session. logger may be nil.
func New(sessionID string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		sessionID: sessionID,
		wake:      make(chan struct{}),
		cbs:       make(map[int]func(Event)),
		logger:    logger,
	}
}

// Emit stamps e with the next sequence number, the session id and the
// current time, then appends it. Emitting on a closed bus is a no-op.
// A done event closes the bus after being appended.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	e.Seq = b.seq
	b.seq++
	e.SessionID = b.sessionID
	e.Ts = time.Now().UnixMilli()
	b.events = append(b.events, e)
	if e.Type == EventDone {
		b.closed = true
	}
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()

	b.notify(e)
}

// notify runs registered callbacks outside the log lock. A panicking
// callback is recovered and logged; it never blocks other subscribers or
// the producer.
func (b *Bus) notify(e Event) {
	b.cbMu.Lock()
	fns := make([]func(Event), 0, len(b.cbs))
	for _, fn := range b.cbs {
		fns = append(fns, fn)
	}
	b.cbMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event callback panicked", "session", b.sessionID, "type", string(e.Type), "panic", r)
				}
			}()
			fn(e)
		}()
	}
}

// OnEvent registers a callback invoked for every event after it is appended.
// The returned function removes the callback.
func (b *Bus) OnEvent(fn func(Event)) func() {
	b.cbMu.Lock()
	id := b.nextCB
	b.nextCB++
	b.cbs[id] = fn
	b.cbMu.Unlock()
	return func() {
		b.cbMu.Lock()
		delete(b.cbs, id)
		b.cbMu.Unlock()
	}
}

// Closed reports whether a done event has latched the bus.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Reopen re-arms a closed bus for the next turn. Events emitted between the
// previous done and Reopen were dropped by design.
func (b *Bus) Reopen() {
	b.mu.Lock()
	b.closed = false
	b.mu.Unlock()
}

// Len returns the current end of the log, usable as a cursor.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// EventsSince returns a copy of the events at positions [cursor, len) and
// the new cursor. A cursor beyond the log end returns nothing.
func (b *Bus) EventsSince(cursor int) ([]Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(b.events) {
		return nil, len(b.events)
	}
	out := make([]Event, len(b.events)-cursor)
	copy(out, b.events[cursor:])
	return out, len(b.events)
}

// Subscribe returns a reader positioned at the start of the session log.
func (b *Bus) Subscribe() *Subscriber {
	return &Subscriber{bus: b}
}

// SubscribeCurrent returns a reader positioned at the current log end, so it
// sees only events emitted after this call.
func (b *Bus) SubscribeCurrent() *Subscriber {
	return &Subscriber{bus: b, cursor: b.Len()}
}

// Stream returns a channel of events starting at the current log end. The
// channel closes after a done event is delivered or ctx is cancelled. Events
// are never dropped between the Stream call and the turn's done: the pump
// reads from the shared log at the consumer's pace.
func (b *Bus) Stream(ctx context.Context) <-chan Event {
	sub := b.SubscribeCurrent()
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == EventDone {
				return
			}
		}
	}()
	return out
}

// Subscriber is a cursor into a Bus log. Not safe for concurrent use by
// multiple goroutines; create one per reader.
type Subscriber struct {
	bus    *Bus
	cursor int
}

// Events returns everything between the cursor and the log end without
// blocking, advancing the cursor.
func (s *Subscriber) Events() []Event {
	evs, next := s.bus.EventsSince(s.cursor)
	s.cursor = next
	return evs
}

// Next blocks until an event is available at the cursor or ctx is done.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		s.bus.mu.Lock()
		if s.cursor < len(s.bus.events) {
			ev := s.bus.events[s.cursor]
			s.cursor++
			s.bus.mu.Unlock()
			return ev, nil
		}
		wake := s.bus.wake
		s.bus.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Cursor returns the subscriber's current position.
func (s *Subscriber) Cursor() int { return s.cursor }
