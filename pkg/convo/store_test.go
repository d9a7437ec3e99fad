package convo

import (
	"strings"
	"testing"

	"github.com/tern-dev/tern/pkg/ai"
)

func TestMessagesViewPrependsSystemPrompt(t *testing.T) {
	s := New(Options{SystemPrompt: "be brief"})
	s.AddUser("hi")

	view := s.Messages()
	if len(view) != 2 {
		t.Fatalf("view has %d messages, want 2", len(view))
	}
	if view[0].Role != ai.RoleSystem || view[0].Content != "be brief" {
		t.Errorf("first view message = %+v", view[0])
	}
	if view[1].Role != ai.RoleUser {
		t.Errorf("second view message = %+v", view[1])
	}

	// The view is a copy.
	view[1].Content = "mutated"
	if s.History()[0].Content != "hi" {
		t.Error("mutating the view leaked into the store")
	}
}

func TestMessagesViewWithoutSystemPrompt(t *testing.T) {
	s := New(Options{})
	s.AddUser("hi")
	if len(s.Messages()) != 1 {
		t.Errorf("view = %+v", s.Messages())
	}
}

func TestAddToolResult(t *testing.T) {
	s := New(Options{})
	s.AddToolResult("call_1", "ok")
	m := s.History()[0]
	if m.Role != ai.RoleTool || m.ToolCallID != "call_1" || m.Content != "ok" {
		t.Errorf("tool message = %+v", m)
	}
}

func TestTokenEstimateBytesOverThree(t *testing.T) {
	s := New(Options{SystemPrompt: strings.Repeat("a", 30)})
	s.AddUser(strings.Repeat("b", 60))
	if got := s.TokenEstimate(); got != 30 {
		t.Errorf("TokenEstimate = %d, want 30", got)
	}
}

func TestTokenEstimateCountsToolCalls(t *testing.T) {
	s := New(Options{})
	s.AddAssistant(ai.Message{
		ToolCalls: []ai.ToolCall{{ID: strings.Repeat("i", 10), Name: strings.Repeat("n", 10), Arguments: strings.Repeat("a", 10)}},
	})
	if got := s.TokenEstimate(); got != 10 {
		t.Errorf("TokenEstimate = %d, want 10", got)
	}
}

func TestValidatePairing(t *testing.T) {
	asst := ai.Message{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "a"}, {ID: "b"}}}

	valid := []ai.Message{
		ai.UserMessage("q"),
		asst,
		ai.ToolMessage("b", "out"),
		ai.ToolMessage("a", "out"),
		{Role: ai.RoleAssistant, Content: "done"},
	}
	if err := ValidatePairing(valid); err != nil {
		t.Errorf("valid log rejected: %v", err)
	}

	missing := []ai.Message{asst, ai.ToolMessage("a", "out"), {Role: ai.RoleAssistant}}
	if err := ValidatePairing(missing); err == nil {
		t.Error("unanswered call accepted")
	}

	stray := []ai.Message{ai.ToolMessage("zzz", "out")}
	if err := ValidatePairing(stray); err == nil {
		t.Error("stray tool result accepted")
	}

	trailing := []ai.Message{asst}
	if err := ValidatePairing(trailing); err == nil {
		t.Error("trailing unanswered calls accepted")
	}
}

func TestReplaceDeepCopies(t *testing.T) {
	s := New(Options{})
	src := []ai.Message{{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "x", Name: "echo"}}}}
	s.Replace(src)
	src[0].ToolCalls[0].Name = "mutated"
	if s.History()[0].ToolCalls[0].Name != "echo" {
		t.Error("Replace shared the caller's slice")
	}
}
