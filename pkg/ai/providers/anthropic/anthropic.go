// Package anthropic implements ai.Provider for the Anthropic Messages API
// (streaming via SSE).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/ai/sse"
)

const defaultBaseURL = "https://api.anthropic.com/v1"
const anthropicVersion = "2023-06-01"

// Provider is the Anthropic streaming provider.
type Provider struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a Provider. Pass "" for baseURL to use the public endpoint.
func New(baseURL, apiKey string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *Provider) Name() string { return "anthropic" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Tool use (assistant)
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// Tool result (user)
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// SSE event payloads
type evMessageStart struct {
	Message struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type evContentBlockStart struct {
	Index        int         `json:"index"`
	ContentBlock wireContent `json:"content_block"`
}

type evContentBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type evMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (p *Provider) Stream(ctx context.Context, model string, req ai.Request) (<-chan ai.Chunk, func() error) {
	chunks := make(chan ai.Chunk, 64)
	var finalErr error
	done := make(chan struct{})

	go func() {
		defer close(chunks)
		defer close(done)
		finalErr = p.stream(ctx, model, req, chunks)
	}()

	return chunks, func() error {
		<-done
		return finalErr
	}
}

func (p *Provider) stream(ctx context.Context, model string, req ai.Request, chunks chan<- ai.Chunk) error {
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	wr := wireRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.System,
		Stream:    true,
	}
	if t := req.Options.Temperature; t != 0 {
		wr.Temperature = &t
	}
	for _, m := range req.Messages {
		wm, err := convertMessage(m)
		if err != nil {
			return err
		}
		wr.Messages = append(wr.Messages, wm)
	}
	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	body, _ := json.Marshal(wr)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		if len(b) == 0 {
			return fmt.Errorf("anthropic: %d status code (no body)", resp.StatusCode)
		}
		return fmt.Errorf("anthropic: HTTP %d: %s", resp.StatusCode, string(b))
	}

	emit := func(c ai.Chunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Anthropic block index → whether the block is a tool_use block.
	toolBlocks := map[int]bool{}
	var usage ai.Usage
	finish := ai.FinishStop
	sawToolUse := false

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("anthropic: sse read: %w", err)
		}
		if ev.Data == "" {
			continue
		}

		switch ev.Name {
		case "message_start":
			var ms evMessageStart
			if json.Unmarshal([]byte(ev.Data), &ms) == nil {
				u := ms.Message.Usage
				usage.InputTokens = u.InputTokens + u.CacheCreationInputTokens
				usage.CachedTokens = u.CacheReadInputTokens
				usage.OutputTokens = u.OutputTokens
				if !emit(ai.Chunk{Kind: ai.ChunkUsage, Usage: usage}) {
					return ctx.Err()
				}
			}

		case "content_block_start":
			var cbs evContentBlockStart
			if json.Unmarshal([]byte(ev.Data), &cbs) != nil {
				continue
			}
			if cbs.ContentBlock.Type == "tool_use" {
				toolBlocks[cbs.Index] = true
				sawToolUse = true
				id := cbs.ContentBlock.ID
				if id == "" {
					id = "call_" + uuid.New().String()[:8]
				}
				if !emit(ai.Chunk{Kind: ai.ChunkToolCall, Index: cbs.Index, ID: id, Name: cbs.ContentBlock.Name}) {
					return ctx.Err()
				}
			}

		case "content_block_delta":
			var cbd evContentBlockDelta
			if json.Unmarshal([]byte(ev.Data), &cbd) != nil {
				continue
			}
			var c ai.Chunk
			switch cbd.Delta.Type {
			case "text_delta":
				c = ai.Chunk{Kind: ai.ChunkText, Delta: cbd.Delta.Text}
			case "thinking_delta":
				c = ai.Chunk{Kind: ai.ChunkReasoning, Delta: cbd.Delta.Thinking}
			case "input_json_delta":
				c = ai.Chunk{Kind: ai.ChunkToolCall, Index: cbd.Index, ArgsFragment: cbd.Delta.PartialJSON}
			default:
				continue
			}
			if !emit(c) {
				return ctx.Err()
			}

		case "message_delta":
			var md evMessageDelta
			if json.Unmarshal([]byte(ev.Data), &md) == nil {
				usage.OutputTokens = md.Usage.OutputTokens
				finish = mapStopReason(md.Delta.StopReason)
				if !emit(ai.Chunk{Kind: ai.ChunkUsage, Usage: usage}) {
					return ctx.Err()
				}
			}

		case "error":
			return fmt.Errorf("anthropic: stream error: %s", ev.Data)
		}
	}

	if sawToolUse && finish == ai.FinishStop {
		finish = ai.FinishToolUse
	}
	emit(ai.Chunk{Kind: ai.ChunkDone, FinishReason: finish})
	return ctx.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func convertMessage(m ai.Message) (wireMessage, error) {
	switch m.Role {
	case ai.RoleUser, ai.RoleSystem:
		// Mid-conversation system notes (compaction summaries) travel as
		// user text; the Messages API has no system role.
		return wireMessage{Role: "user", Content: []wireContent{{Type: "text", Text: m.Content}}}, nil

	case ai.RoleAssistant:
		var content []wireContent
		if m.Content != "" {
			content = append(content, wireContent{Type: "text", Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			content = append(content, wireContent{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: rawArgs(tc.Arguments),
			})
		}
		if len(content) == 0 {
			content = append(content, wireContent{Type: "text", Text: ""})
		}
		return wireMessage{Role: "assistant", Content: content}, nil

	case ai.RoleTool:
		return wireMessage{
			Role: "user",
			Content: []wireContent{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}},
		}, nil
	}
	return wireMessage{}, fmt.Errorf("anthropic: unsupported role %q", m.Role)
}

// rawArgs passes model-produced argument JSON through verbatim when it is a
// valid object, and substitutes an empty object otherwise.
func rawArgs(s string) json.RawMessage {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage("{}")
}

func mapStopReason(s string) ai.FinishReason {
	switch s {
	case "max_tokens":
		return ai.FinishLength
	case "tool_use":
		return ai.FinishToolUse
	default:
		return ai.FinishStop
	}
}
