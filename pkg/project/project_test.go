package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tern-dev/tern/pkg/ai"
)

func TestCreateLayout(t *testing.T) {
	base := t.TempDir()
	s, err := Create(base, "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if len(s.ID()) != 8 {
		t.Errorf("id = %q, want 8 chars", s.ID())
	}
	for _, p := range []string{"meta.json", "snapshots", "workspace"} {
		if _, err := os.Stat(filepath.Join(s.Dir(), p)); err != nil {
			t.Errorf("missing %s: %v", p, err)
		}
	}
	if s.Title() != "demo" {
		t.Errorf("title = %q", s.Title())
	}
}

func TestAppendAndLoadMessages(t *testing.T) {
	base := t.TempDir()
	s, err := Create(base, "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msgs := []ai.Message{
		ai.UserMessage("hello"),
		{Role: ai.RoleAssistant, Content: "hi there"},
		ai.ToolMessage("call_1", "ok"),
	}
	for _, m := range msgs {
		if err := s.AppendMessage(m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	s.Close()

	reopened, err := Open(base, s.ID())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, skipped, err := reopened.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(got) != 3 {
		t.Fatalf("loaded %d messages, want 3", len(got))
	}
	if got[0].Content != "hello" || got[1].Role != ai.RoleAssistant || got[2].ToolCallID != "call_1" {
		t.Errorf("unexpected messages: %+v", got)
	}
}

func TestLoadMessagesMissingFile(t *testing.T) {
	s, err := Create(t.TempDir(), "empty")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msgs, skipped, err := s.LoadMessages()
	if err != nil || msgs != nil || skipped != 0 {
		t.Errorf("fresh project should load empty: %v %v %d", msgs, err, skipped)
	}
}

func TestOpenByPrefix(t *testing.T) {
	base := t.TempDir()
	s, err := Create(base, "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := Open(base, s.ID()[:4])
	if err != nil {
		t.Fatalf("Open by prefix: %v", err)
	}
	if got.ID() != s.ID() {
		t.Errorf("opened %s, want %s", got.ID(), s.ID())
	}

	if _, err := Open(base, "zzzz"); err == nil {
		t.Errorf("expected error for unknown prefix")
	}
	if _, err := Open(base, ""); err == nil {
		t.Errorf("expected error for empty id")
	}
}

func TestListOrder(t *testing.T) {
	base := t.TempDir()
	a, err := Create(base, "first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	b, err := Create(base, "second")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	metas, err := List(base)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("listed %d projects, want 2", len(metas))
	}
	if metas[0].ID != b.ID() || metas[1].ID != a.ID() {
		t.Errorf("want most recently updated first, got %s, %s", metas[0].ID, metas[1].ID)
	}
}

func TestListEmptyBase(t *testing.T) {
	metas, err := List(t.TempDir())
	if err != nil || metas != nil {
		t.Errorf("empty base should list nothing: %v %v", metas, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, err := Create(t.TempDir(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msgs := []ai.Message{ai.UserMessage("a"), {Role: ai.RoleAssistant, Content: "b"}}
	if err := s.SaveSnapshot("snap1", "before refactor", msgs); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := s.LoadSnapshot("snap1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got) != 2 || got[0].Content != "a" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "snapshots", "snap1.meta.json")); err != nil {
		t.Errorf("missing snapshot sidecar: %v", err)
	}
}

func TestPersistArtifact(t *testing.T) {
	s, err := Create(t.TempDir(), "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.PersistArtifact("docs/plan.md", []byte("# plan")); err != nil {
		t.Fatalf("PersistArtifact: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.Workspace(), "docs", "plan.md"))
	if err != nil || string(data) != "# plan" {
		t.Errorf("artifact content: %q, %v", data, err)
	}

	for _, bad := range []string{"../escape.txt", "/abs.txt", "..", "a/../../b"} {
		if err := s.PersistArtifact(bad, []byte("x")); err == nil {
			t.Errorf("key %q should be rejected", bad)
		}
	}
}

func TestUpdatedAtAdvances(t *testing.T) {
	base := t.TempDir()
	s, err := Create(base, "demo")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created := s.meta.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	if err := s.AppendMessage(ai.UserMessage("x")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	metas, _ := List(base)
	if !metas[0].UpdatedAt.After(created) {
		t.Errorf("updated_at did not advance: %v vs %v", metas[0].UpdatedAt, created)
	}
}
