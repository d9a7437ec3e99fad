package convo

import (
	"strings"
	"testing"

	"github.com/tern-dev/tern/pkg/ai"
)

func seedStore(msgs ...ai.Message) *Store {
	s := New(Options{})
	s.Replace(msgs)
	return s
}

func TestCompactNoOpWhenWithinBounds(t *testing.T) {
	s := seedStore(ai.UserMessage("a"), ai.UserMessage("b"), ai.UserMessage("c"))
	res := s.Compact(10)
	if res.Compacted || res.Elided != 0 {
		t.Errorf("short log compacted: %+v", res)
	}
	if s.Len() != 3 {
		t.Errorf("log length changed to %d", s.Len())
	}
}

func TestCompactKeepsFirstTwoAndLastN(t *testing.T) {
	var msgs []ai.Message
	msgs = append(msgs, ai.SystemMessage("sys"), ai.UserMessage("u0"))
	for i := 0; i < 20; i++ {
		msgs = append(msgs, ai.UserMessage("filler"))
	}
	last := []ai.Message{
		ai.UserMessage("tail-0"), {Role: ai.RoleAssistant, Content: "tail-1"},
		ai.UserMessage("tail-2"), {Role: ai.RoleAssistant, Content: "tail-3"},
	}
	msgs = append(msgs, last...)

	s := seedStore(msgs...)
	res := s.Compact(4)
	if !res.Compacted {
		t.Fatal("expected compaction")
	}

	got := s.History()
	if len(got) != 2+1+4 {
		t.Fatalf("kept %d messages, want 7", len(got))
	}
	if got[0].Content != "sys" || got[1].Content != "u0" {
		t.Errorf("head not preserved verbatim: %q %q", got[0].Content, got[1].Content)
	}
	if got[2].Role != ai.RoleSystem || !strings.Contains(got[2].Content, "20 earlier messages elided") {
		t.Errorf("placeholder = %+v", got[2])
	}
	if res.Elided != 20 {
		t.Errorf("Elided = %d, want 20", res.Elided)
	}
	for i, want := range last {
		if got[3+i].Content != want.Content {
			t.Errorf("tail[%d] = %q, want %q", i, got[3+i].Content, want.Content)
		}
	}
	if res.TokensAfter >= res.TokensBefore {
		t.Errorf("estimate did not shrink: %d -> %d", res.TokensBefore, res.TokensAfter)
	}
}

// The seed from the pairing scenario: a tool result just inside the elision
// window must drag its assistant along (or be elided with it), never be
// orphaned.
func TestCompactNeverSplitsToolPairs(t *testing.T) {
	msgs := []ai.Message{
		ai.SystemMessage("sys"),
		ai.UserMessage("user1"),
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "c1", Name: "read_file", Arguments: "{}"}}},
		ai.ToolMessage("c1", "contents"),
		ai.UserMessage("user2"),
		{Role: ai.RoleAssistant, Content: "answer"},
		ai.UserMessage("user3"),
	}
	s := seedStore(msgs...)
	res := s.Compact(2)
	if !res.Compacted {
		t.Fatal("expected compaction")
	}
	got := s.History()
	if err := ValidatePairing(got); err != nil {
		t.Fatalf("pairing broken after compaction: %v\nlog: %+v", err, got)
	}
	// Both halves of the pair were elided together.
	for _, m := range got {
		if m.ToolCallID == "c1" || len(m.ToolCalls) > 0 {
			t.Errorf("pair member kept unexpectedly: %+v", m)
		}
	}
}

func TestCompactTailBoundaryOnToolResultExtends(t *testing.T) {
	msgs := []ai.Message{
		ai.SystemMessage("sys"),
		ai.UserMessage("u"),
		ai.UserMessage("filler-a"),
		ai.UserMessage("filler-b"),
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "c1"}, {ID: "c2"}}},
		ai.ToolMessage("c1", "r1"),
		ai.ToolMessage("c2", "r2"),
		{Role: ai.RoleAssistant, Content: "after"},
	}
	s := seedStore(msgs...)
	// keepRecent=3 would start the tail at the second tool result.
	res := s.Compact(3)
	if !res.Compacted {
		t.Fatal("expected compaction")
	}
	got := s.History()
	if err := ValidatePairing(got); err != nil {
		t.Fatalf("pairing broken: %v", err)
	}
	// The window grew to include the assistant and both results.
	var sawCalls bool
	for _, m := range got {
		if len(m.ToolCalls) == 2 {
			sawCalls = true
		}
	}
	if !sawCalls {
		t.Error("owning assistant was not pulled into the tail window")
	}
}

func TestCompactHeadBoundaryOnToolResultExtends(t *testing.T) {
	msgs := []ai.Message{
		ai.UserMessage("u"),
		{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "c1"}}},
		ai.ToolMessage("c1", "r1"),
		ai.UserMessage("filler-a"),
		ai.UserMessage("filler-b"),
		ai.UserMessage("filler-c"),
		ai.UserMessage("tail-a"),
		ai.UserMessage("tail-b"),
	}
	s := seedStore(msgs...)
	res := s.Compact(2)
	if !res.Compacted {
		t.Fatal("expected compaction")
	}
	if err := ValidatePairing(s.History()); err != nil {
		t.Fatalf("pairing broken: %v", err)
	}
	if res.Elided != 3 {
		t.Errorf("Elided = %d, want 3 (head extended over the tool result)", res.Elided)
	}
}

func TestShouldCompact(t *testing.T) {
	s := New(Options{})
	s.AddUser(strings.Repeat("x", 300)) // ~100 tokens
	if s.ShouldCompact(0) {
		t.Error("threshold 0 must disable compaction")
	}
	if !s.ShouldCompact(50) {
		t.Error("estimate above threshold should compact")
	}
	if s.ShouldCompact(1000) {
		t.Error("estimate below threshold should not compact")
	}
}
