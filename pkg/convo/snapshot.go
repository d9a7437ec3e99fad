package convo

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tern-dev/tern/pkg/ai"
)

// Snapshot is an immutable named copy of the message log.
type Snapshot struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Reason   string       `json:"reason"`
	TakenAt  time.Time    `json:"taken_at"`
	Messages []ai.Message `json:"messages"`
}

// Snapshot records the current log under label and returns the snapshot id.
func (s *Store) Snapshot(label string) string {
	return s.SnapshotWithReason(label, "user")
}

// SnapshotWithReason is Snapshot with an explicit reason ("user",
// "compaction", "fork", ...).
func (s *Store) SnapshotWithReason(label, reason string) string {
	s.mu.Lock()
	snap := Snapshot{
		ID:       newID(),
		Label:    label,
		Reason:   reason,
		TakenAt:  time.Now(),
		Messages: cloneMessages(s.messages),
	}
	s.snapshots = append(s.snapshots, snap)
	p := s.persist
	s.mu.Unlock()

	if p != nil {
		if err := p.SaveSnapshot(snap.ID, snap.Label, snap.Messages); err != nil {
			s.logger.Error("save snapshot failed", "id", snap.ID, "label", snap.Label, "err", err)
		}
	}
	return snap.ID
}

// Restore replaces the current log with a deep copy of the snapshot's
// messages. The snapshot itself is untouched.
func (s *Store) Restore(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.findLocked(id)
	if !ok {
		return fmt.Errorf("snapshot %q not found", id)
	}
	s.messages = cloneMessages(snap.Messages)
	return nil
}

// Fork returns a new Store seeded from the snapshot: same system prompt,
// deep-copied messages, no snapshots, no persistence, sharing no mutable
// state with the parent.
func (s *Store) Fork(id string) (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.findLocked(id)
	if !ok {
		return nil, fmt.Errorf("snapshot %q not found", id)
	}
	return &Store{
		system:   s.system,
		messages: cloneMessages(snap.Messages),
		logger:   s.logger,
	}, nil
}

// Snapshots returns copies of all snapshots, oldest first.
func (s *Store) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.snapshots))
	for i, snap := range s.snapshots {
		out[i] = snap
		out[i].Messages = cloneMessages(snap.Messages)
	}
	return out
}

func (s *Store) findLocked(id string) (Snapshot, bool) {
	for _, snap := range s.snapshots {
		if snap.ID == id {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// newID returns a short random identifier, the first 8 hex chars of a UUID.
func newID() string {
	return uuid.NewString()[:8]
}
