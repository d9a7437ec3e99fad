package openai

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

func sseBody(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&sb, "data: %s\n\n", p)
	}
	sb.WriteString("data: [DONE]\n\n")
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

func TestStreamText(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":2,"prompt_tokens_details":{"cached_tokens":4}}}`,
	)
	srv := serve(t, body, nil)
	defer srv.Close()

	p := New(srv.URL, "key")
	ch, wait := p.Stream(context.Background(), "gpt-x", ai.Request{
		Messages: []ai.Message{ai.UserMessage("hi")},
	})
	chunks := collect(t, ch, wait)

	var text strings.Builder
	var usage ai.Usage
	var last ai.Chunk
	for _, c := range chunks {
		switch c.Kind {
		case ai.ChunkText:
			text.WriteString(c.Delta)
		case ai.ChunkUsage:
			usage = c.Usage
		}
		last = c
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q", text.String())
	}
	// Cached tokens are carved out of the prompt count.
	if usage.InputTokens != 8 || usage.CachedTokens != 4 || usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", usage)
	}
	if last.Kind != ai.ChunkDone || last.FinishReason != ai.FinishStop {
		t.Errorf("last = %+v", last)
	}
}

func TestStreamToolCalls(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"grep","arguments":"{\"pat"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"tern\":\"x\"}"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"find","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	srv := serve(t, body, nil)
	defer srv.Close()

	p := New(srv.URL, "key")
	ch, wait := p.Stream(context.Background(), "m", ai.Request{})
	chunks := collect(t, ch, wait)

	type call struct{ id, name, args string }
	calls := map[int]*call{}
	var finish ai.FinishReason
	for _, c := range chunks {
		switch c.Kind {
		case ai.ChunkToolCall:
			cl := calls[c.Index]
			if cl == nil {
				cl = &call{}
				calls[c.Index] = cl
			}
			if c.ID != "" {
				cl.id, cl.name = c.ID, c.Name
			}
			cl.args += c.ArgsFragment
		case ai.ChunkDone:
			finish = c.FinishReason
		}
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].id != "call_1" || calls[0].name != "grep" || calls[0].args != `{"pattern":"x"}` {
		t.Errorf("call 0: %+v", calls[0])
	}
	if calls[1].id != "call_2" || calls[1].name != "find" {
		t.Errorf("call 1: %+v", calls[1])
	}
	if finish != ai.FinishToolUse {
		t.Errorf("finish = %q", finish)
	}
}

func TestStreamReasoning(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"reasoning_content":"thinking..."}}]}`,
		`{"choices":[{"delta":{"content":"answer"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	)
	srv := serve(t, body, nil)
	defer srv.Close()

	p := New(srv.URL, "key")
	ch, wait := p.Stream(context.Background(), "m", ai.Request{})
	var reasoning string
	for _, c := range collect(t, ch, wait) {
		if c.Kind == ai.ChunkReasoning {
			reasoning += c.Delta
		}
	}
	if reasoning != "thinking..." {
		t.Errorf("reasoning = %q", reasoning)
	}
}

func TestStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"This model's maximum context length is 128000 tokens."}}`)
	}))
	defer srv.Close()

	p := New(srv.URL, "key")
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
	srv := serve(t, sseBody(), &got)
	defer srv.Close()

	p := New(srv.URL, "key")
	ch, wait := p.Stream(context.Background(), "gpt-x", ai.Request{
		System: "be terse",
		Messages: []ai.Message{
			ai.UserMessage("go"),
			{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "c1", Name: "bash", Arguments: `{"command":"ls"}`}}},
			ai.ToolMessage("c1", "ok"),
		},
		Tools:   []ai.ToolDefinition{{Name: "bash", Parameters: json.RawMessage(`{"type":"object"}`)}},
		Options: ai.Options{MaxTokens: 64, Temperature: 0.5},
	})
	collect(t, ch, wait)

	if got.Model != "gpt-x" || got.MaxTokens != 64 {
		t.Errorf("head: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.5 {
		t.Errorf("temperature: %v", got.Temperature)
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" {
		t.Fatalf("messages: %+v", got.Messages)
	}
	am := got.Messages[2]
	if len(am.ToolCalls) != 1 || am.ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
		t.Errorf("assistant tool calls: %+v", am.ToolCalls)
	}
	if got.Messages[3].Role != "tool" || got.Messages[3].ToolCallID != "c1" {
		t.Errorf("tool message: %+v", got.Messages[3])
	}
	if got.StreamOptions == nil || !got.StreamOptions.IncludeUsage {
		t.Error("usage reporting not requested")
	}
}
