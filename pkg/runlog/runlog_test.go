package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	l, err := New(Options{FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.LLMCall(LLMCall{Model: "test-model", Attempt: 1, Elapsed: 120 * time.Millisecond, FinishReason: "stop"})
	l.ToolExec(ToolExec{Tool: "echo", OutputLen: 2, CacheHit: true})
	l.TurnStep(TurnStep{Step: 1, TextLen: 11, CostUSD: 0.002})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	wantMsgs := []string{"llm_call", "tool_exec", "turn_step"}
	sc := bufio.NewScanner(f)
	for i, want := range wantMsgs {
		if !sc.Scan() {
			t.Fatalf("expected %d records, got %d", len(wantMsgs), i)
		}
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("record %d is not JSON: %v", i, err)
		}
		if rec["msg"] != want {
			t.Errorf("record %d: msg = %v, want %s", i, rec["msg"], want)
		}
	}
	if sc.Scan() {
		t.Errorf("unexpected extra record: %s", sc.Text())
	}
}

func TestToolExecFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	l, err := New(Options{FilePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.ToolExec(ToolExec{Tool: "read_file", Elapsed: time.Second, OutputLen: 42, IsError: true})
	l.Close()

	data, _ := os.ReadFile(path)
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec["tool"] != "read_file" || rec["is_error"] != true {
		t.Errorf("unexpected record: %v", rec)
	}
	if _, ok := rec["cache_hit"]; ok {
		t.Errorf("cache_hit should be omitted on a miss")
	}
}

func TestDiscardDoesNotPanic(t *testing.T) {
	l := Discard()
	l.LLMCall(LLMCall{Model: "m"})
	l.ToolExec(ToolExec{Tool: "t"})
	l.TurnStep(TurnStep{Step: 1})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
