package convo

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tern-dev/tern/pkg/ai"
)

func TestJSONLRoundTrip(t *testing.T) {
	msgs := []ai.Message{
		ai.UserMessage("hello"),
		{
			Role:             ai.RoleAssistant,
			Content:          "let me check",
			ReasoningContent: "thinking...",
			ToolCalls:        []ai.ToolCall{{ID: "c1", Name: "read_file", Arguments: `{"path":"a.txt"}`}},
		},
		ai.ToolMessage("c1", "file contents"),
		{Role: ai.RoleAssistant, Content: "done"},
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, msgs); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	got, skipped, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if !reflect.DeepEqual(got, msgs) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, msgs)
	}
}

func TestReadJSONLLenient(t *testing.T) {
	input := strings.Join([]string{
		`{"role":"user","content":"ok"}`,
		`{broken`,
		``,
		`42`,
		`{"role":"assistant","content":"fine","unknown_field":"ignored"}`,
	}, "\n")

	msgs, skipped, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2 (broken line and bare number)", skipped)
	}
}

func TestReadJSONLCanonicalisesInvalidArguments(t *testing.T) {
	bad := `{"path": unterminated`
	input := `{"role":"assistant","tool_calls":[{"id":"c1","name":"read_file","arguments":"{\"path\": unterminated"}]}`

	msgs, _, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	args := msgs[0].ToolCalls[0].Arguments
	var payload struct {
		Invalid bool `json:"_invalid_json_args"`
		Length  int  `json:"original_length"`
	}
	if err := json.Unmarshal([]byte(args), &payload); err != nil {
		t.Fatalf("replacement is not valid JSON: %q", args)
	}
	if !payload.Invalid || payload.Length != len(bad) {
		t.Errorf("payload = %+v, want invalid with length %d", payload, len(bad))
	}
}

func TestReadJSONLBackfillsReasoning(t *testing.T) {
	input := `{"role":"assistant","tool_calls":[{"id":"c1","name":"x","arguments":"{}"}]}`
	msgs, _, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ReasoningContent != "" {
		t.Errorf("ReasoningContent = %q, want empty string", msgs[0].ReasoningContent)
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.jsonl")

	s := New(Options{})
	s.AddUser("q")
	s.AddAssistant(ai.Message{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`}}})
	s.AddToolResult("c1", "hi")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New(Options{})
	skipped, err := loaded.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d", skipped)
	}
	if !reflect.DeepEqual(loaded.Messages(), s.Messages()) {
		t.Errorf("provider views differ after reload:\n got %+v\nwant %+v", loaded.Messages(), s.Messages())
	}
	if err := ValidatePairing(loaded.History()); err != nil {
		t.Errorf("loaded log pairing: %v", err)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := New(Options{})
	s.AddUser("stale")
	skipped, err := s.Load(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skipped != 0 || s.Len() != 0 {
		t.Errorf("missing file should load empty, got len=%d", s.Len())
	}
}
