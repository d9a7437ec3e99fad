// Package openai implements ai.Provider for the OpenAI chat-completions API
// (streaming). It also works against any OpenAI-compatible endpoint (Groq,
// OpenRouter, local gateways) by setting BaseURL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tern-dev/tern/pkg/ai"
	"github.com/tern-dev/tern/pkg/ai/sse"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider is the OpenAI streaming provider.
type Provider struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a Provider. Pass "" for baseURL to use the default endpoint.
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

func (p *Provider) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"` // "function"
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"` // JSON string
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"` // "function"
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	Tools         []wireTool    `json:"tools,omitempty"`
	Stream        bool          `json:"stream"`
	MaxTokens     int           `json:"max_completion_tokens,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

// SSE chunk types
type chunkDelta struct {
	Content          string         `json:"content"`
	ReasoningContent string         `json:"reasoning_content"`
	ToolCalls        []wireToolCall `json:"tool_calls"`
}

type chunkChoice struct {
	Delta        chunkDelta `json:"delta"`
	FinishReason string     `json:"finish_reason"`
}

type chunkUsage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type streamChunk struct {
	Choices []chunkChoice `json:"choices"`
	Usage   *chunkUsage   `json:"usage"`
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
	wr := wireRequest{
		Model:     model,
		Stream:    true,
		MaxTokens: req.Options.MaxTokens,
		StreamOptions: &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true},
	}
	if t := req.Options.Temperature; t != 0 {
		wr.Temperature = &t
	}
	if req.System != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, convertMessage(m))
	}
	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	body, _ := json.Marshal(wr)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		if len(b) == 0 {
			return fmt.Errorf("openai: %d status code (no body)", resp.StatusCode)
		}
		return fmt.Errorf("openai: HTTP %d: %s", resp.StatusCode, string(b))
	}

	emit := func(c ai.Chunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// First fragment per tool-call index carries id and name; later ones
	// only append arguments, so track which indexes were announced.
	announced := map[int]bool{}
	finish := ai.FinishStop
	sawToolCall := false

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("openai: sse read: %w", err)
		}
		if ev.Data == "" || ev.Data == "[DONE]" {
			if ev.Data == "[DONE]" {
				break
			}
			continue
		}

		var chunk streamChunk
		if json.Unmarshal([]byte(ev.Data), &chunk) != nil {
			continue
		}

		if chunk.Usage != nil {
			cached := 0
			if chunk.Usage.PromptTokensDetails != nil {
				cached = chunk.Usage.PromptTokensDetails.CachedTokens
			}
			u := ai.Usage{
				InputTokens:  chunk.Usage.PromptTokens - cached,
				OutputTokens: chunk.Usage.CompletionTokens,
				CachedTokens: cached,
			}
			if !emit(ai.Chunk{Kind: ai.ChunkUsage, Usage: u}) {
				return ctx.Err()
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if !emit(ai.Chunk{Kind: ai.ChunkText, Delta: choice.Delta.Content}) {
				return ctx.Err()
			}
		}
		if choice.Delta.ReasoningContent != "" {
			if !emit(ai.Chunk{Kind: ai.ChunkReasoning, Delta: choice.Delta.ReasoningContent}) {
				return ctx.Err()
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			sawToolCall = true
			c := ai.Chunk{Kind: ai.ChunkToolCall, Index: tc.Index, ArgsFragment: tc.Function.Arguments}
			if !announced[tc.Index] {
				announced[tc.Index] = true
				c.ID = tc.ID
				c.Name = tc.Function.Name
			}
			if !emit(c) {
				return ctx.Err()
			}
		}
		if choice.FinishReason != "" {
			finish = mapFinishReason(choice.FinishReason)
		}
	}

	if sawToolCall && finish == ai.FinishStop {
		finish = ai.FinishToolUse
	}
	emit(ai.Chunk{Kind: ai.ChunkDone, FinishReason: finish})
	return ctx.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func convertMessage(m ai.Message) wireMessage {
	wm := wireMessage{Role: string(m.Role), Content: m.Content}
	if m.Role == ai.RoleTool {
		wm.ToolCallID = m.ToolCallID
	}
	for i, tc := range m.ToolCalls {
		wtc := wireToolCall{Index: i, ID: tc.ID, Type: "function"}
		wtc.Function.Name = tc.Name
		wtc.Function.Arguments = tc.Arguments
		wm.ToolCalls = append(wm.ToolCalls, wtc)
	}
	return wm
}

func mapFinishReason(s string) ai.FinishReason {
	switch s {
	case "length":
		return ai.FinishLength
	case "tool_calls":
		return ai.FinishToolUse
	default:
		return ai.FinishStop
	}
}
