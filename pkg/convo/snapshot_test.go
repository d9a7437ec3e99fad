package convo

import (
	"errors"
	"testing"

	"github.com/tern-dev/tern/pkg/ai"
)

type persistRecorder struct {
	appended  []ai.Message
	snapshots []string
	fail      bool
}

func (p *persistRecorder) AppendMessage(m ai.Message) error {
	if p.fail {
		return errors.New("disk full")
	}
	p.appended = append(p.appended, m)
	return nil
}

func (p *persistRecorder) SaveSnapshot(id, label string, msgs []ai.Message) error {
	if p.fail {
		return errors.New("disk full")
	}
	p.snapshots = append(p.snapshots, id)
	return nil
}

func TestSnapshotAndRestore(t *testing.T) {
	s := New(Options{})
	s.AddUser("one")
	id := s.Snapshot("before-edit")
	if id == "" {
		t.Fatal("empty snapshot id")
	}
	s.AddUser("two")

	if err := s.Restore(id); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Len() != 1 || s.History()[0].Content != "one" {
		t.Errorf("restored log = %+v", s.History())
	}
}

func TestRestoreUnknownID(t *testing.T) {
	s := New(Options{})
	if err := s.Restore("nope"); err == nil {
		t.Fatal("expected error for unknown snapshot")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := New(Options{})
	s.AddAssistant(ai.Message{Content: "x", ToolCalls: []ai.ToolCall{{ID: "c", Name: "echo"}}})
	id := s.Snapshot("s")

	// Mutate the live log, then restore; the snapshot must be unaffected.
	s.AddUser("later")
	if err := s.Restore(id); err != nil {
		t.Fatal(err)
	}
	got := s.History()
	if len(got) != 1 || got[0].ToolCalls[0].Name != "echo" {
		t.Errorf("snapshot content drifted: %+v", got)
	}
}

func TestForkSharesNoState(t *testing.T) {
	s := New(Options{SystemPrompt: "sp"})
	s.AddUser("shared")
	id := s.Snapshot("base")

	child, err := s.Fork(id)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	child.AddUser("child-only")
	s.AddUser("parent-only")

	if child.Len() != 2 {
		t.Errorf("child log = %+v", child.History())
	}
	if s.Len() != 2 {
		t.Errorf("parent log = %+v", s.History())
	}
	if child.History()[1].Content != "child-only" {
		t.Error("child log missing its own message")
	}
	if child.SystemPrompt() != "sp" {
		t.Error("fork lost the system prompt")
	}
}

func TestSnapshotMirroredToPersistence(t *testing.T) {
	rec := &persistRecorder{}
	s := New(Options{Persistence: rec})
	s.AddUser("u")
	s.Snapshot("lbl")
	if len(rec.appended) != 1 {
		t.Errorf("appended %d messages, want 1", len(rec.appended))
	}
	if len(rec.snapshots) != 1 {
		t.Errorf("saved %d snapshots, want 1", len(rec.snapshots))
	}
}

func TestPersistenceFailuresDoNotPropagate(t *testing.T) {
	rec := &persistRecorder{fail: true}
	s := New(Options{Persistence: rec})
	s.AddUser("u") // must not panic or error
	s.Snapshot("lbl")
	if s.Len() != 1 {
		t.Error("in-memory log must survive persistence failure")
	}
}
