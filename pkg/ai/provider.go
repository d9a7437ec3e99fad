package ai

import "context"

// ChunkKind discriminates the variants of Chunk.
type ChunkKind string

const (
	// ChunkText carries an increment of the assistant's visible text.
	ChunkText ChunkKind = "text"

	// ChunkReasoning carries an increment of opaque reasoning text.
	ChunkReasoning ChunkKind = "reasoning"

	// ChunkToolCall carries a fragment of one tool call. Arguments arrive
	// as one or more partial JSON fragments; consumers concatenate
	// fragments sharing an Index and parse at end of stream. ID and Name
	// are set on the first fragment for that index.
	ChunkToolCall ChunkKind = "tool_call"

	// ChunkUsage carries token accounting. May appear more than once; each
	// occurrence replaces the previous one for the same response.
	ChunkUsage ChunkKind = "usage"

	// ChunkDone carries the finish reason and is the last chunk of a
	// successful stream.
	ChunkDone ChunkKind = "done"
)

// FinishReason is the provider's explanation for why generation stopped.
type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishToolUse FinishReason = "tool_use"
)

// Chunk is one increment of a streaming model response.
type Chunk struct {
	Kind ChunkKind

	// Delta is set for ChunkText and ChunkReasoning.
	Delta string

	// Tool-call fields, set for ChunkToolCall.
	Index        int
	ID           string
	Name         string
	ArgsFragment string

	// Usage, set for ChunkUsage.
	Usage Usage

	// FinishReason, set for ChunkDone.
	FinishReason FinishReason
}

// Request is the provider-independent payload of one model call.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
	Options  Options
}

// Options are generation knobs. Zero values mean provider defaults.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Provider streams one model response.
//
// Stream returns a channel of chunks and a wait function. The channel is
// closed when the stream ends for any reason, including ctx cancellation —
// callers can always range over it safely. After the channel closes, wait
// reports the terminal error: nil on clean completion, otherwise the
// transport or protocol failure. Chunks received before a non-nil error are
// valid partial output; the caller decides whether to salvage them.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai", "anthropic".
	Name() string

	Stream(ctx context.Context, model string, req Request) (<-chan Chunk, func() error)
}
