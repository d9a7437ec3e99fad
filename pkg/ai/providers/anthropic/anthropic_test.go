package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tern-dev/tern/pkg/ai"
)

func sseBody(events ...[2]string) string {
	var sb strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&sb, "event: %s\ndata: %s\n\n", ev[0], ev[1])
	}
	return sb.String()
}

func serve(t *testing.T, body string, capture *wireRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
}

func collect(t *testing.T, ch <-chan ai.Chunk, wait func() error) []ai.Chunk {
	t.Helper()
	var out []ai.Chunk
	for c := range ch {
		out = append(out, c)
	}
	if err := wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	return out
}

func TestStreamTextAndUsage(t *testing.T) {
	body := sseBody(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":10,"cache_read_input_tokens":4}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"text"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":" world"}}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`},
		[2]string{"message_stop", `{}`},
	)
	srv := serve(t, body, nil)
	defer srv.Close()

	p := New(srv.URL, "test-key")
	ch, wait := p.Stream(context.Background(), "model-x", ai.Request{
		Messages: []ai.Message{ai.UserMessage("hi")},
	})
	chunks := collect(t, ch, wait)

	var text strings.Builder
	var last ai.Chunk
	var usage ai.Usage
	for _, c := range chunks {
		switch c.Kind {
		case ai.ChunkText:
			text.WriteString(c.Delta)
		case ai.ChunkUsage:
			usage = c.Usage
		}
		last = c
	}
	if text.String() != "Hello world" {
		t.Errorf("text = %q", text.String())
	}
	if usage.InputTokens != 10 || usage.CachedTokens != 4 || usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", usage)
	}
	if last.Kind != ai.ChunkDone || last.FinishReason != ai.FinishStop {
		t.Errorf("last chunk = %+v", last)
	}
}

func TestStreamToolCall(t *testing.T) {
	body := sseBody(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":3}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"read_file"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":2}}`},
		[2]string{"message_stop", `{}`},
	)
	srv := serve(t, body, nil)
	defer srv.Close()

	p := New(srv.URL, "k")
	ch, wait := p.Stream(context.Background(), "m", ai.Request{})
	chunks := collect(t, ch, wait)

	var id, name, args string
	var finish ai.FinishReason
	for _, c := range chunks {
		switch c.Kind {
		case ai.ChunkToolCall:
			if c.ID != "" {
				id, name = c.ID, c.Name
			}
			args += c.ArgsFragment
		case ai.ChunkDone:
			finish = c.FinishReason
		}
	}
	if id != "toolu_1" || name != "read_file" {
		t.Errorf("tool call id=%q name=%q", id, name)
	}
	if args != `{"path":"a.txt"}` {
		t.Errorf("args = %q", args)
	}
	if finish != ai.FinishToolUse {
		t.Errorf("finish = %q", finish)
	}
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"prompt is too long: 250000 tokens"}}`)
	}))
	defer srv.Close()

	p := New(srv.URL, "k")
	ch, wait := p.Stream(context.Background(), "m", ai.Request{})
	for range ch {
	}
	err := wait()
	if err == nil {
		t.Fatal("expected error")
	}
	if !ai.IsContextOverflow(err) {
		t.Errorf("overflow not detected: %v", err)
	}
}

func TestRequestConversion(t *testing.T) {
	var got wireRequest
	srv := serve(t, sseBody([2]string{"message_stop", `{}`}), &got)
	defer srv.Close()

	p := New(srv.URL, "k")
	ch, wait := p.Stream(context.Background(), "model-x", ai.Request{
		System: "be terse",
		Messages: []ai.Message{
			ai.UserMessage("do it"),
			{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "c1", Name: "bash", Arguments: `{"command":"ls"}`}}},
			ai.ToolMessage("c1", "ok"),
		},
		Tools:   []ai.ToolDefinition{{Name: "bash", Description: "run", Parameters: json.RawMessage(`{"type":"object"}`)}},
		Options: ai.Options{MaxTokens: 100},
	})
	collect(t, ch, wait)

	if got.Model != "model-x" || got.System != "be terse" || got.MaxTokens != 100 {
		t.Errorf("request head: %+v", got)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d", len(got.Messages))
	}
	if got.Messages[1].Role != "assistant" || got.Messages[1].Content[0].Type != "tool_use" {
		t.Errorf("assistant message: %+v", got.Messages[1])
	}
	if string(got.Messages[1].Content[0].Input) != `{"command":"ls"}` {
		t.Errorf("tool input: %s", got.Messages[1].Content[0].Input)
	}
	if got.Messages[2].Role != "user" || got.Messages[2].Content[0].ToolUseID != "c1" {
		t.Errorf("tool result message: %+v", got.Messages[2])
	}
	if len(got.Tools) != 1 || got.Tools[0].Name != "bash" {
		t.Errorf("tools: %+v", got.Tools)
	}
}

func TestRawArgs(t *testing.T) {
	if string(rawArgs(`{"a":1}`)) != `{"a":1}` {
		t.Error("valid object mangled")
	}
	if string(rawArgs(`{"a":`)) != "{}" {
		t.Error("invalid JSON not replaced")
	}
	if string(rawArgs("")) != "{}" {
		t.Error("empty args not replaced")
	}
}
