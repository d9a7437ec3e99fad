// Package runlog is the structured execution log: one JSON line per LLM
// call, tool execution, and turn step. Records go to an optional file sink
// (everything) and a severity-filtered stderr sink. With no configuration
// the logger discards.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Logger writes execution records. The zero value is not usable; construct
// with New or Discard.
type Logger struct {
	l      *slog.Logger
	closer io.Closer
}

// Options configures a Logger.
type Options struct {
	// FilePath, when set, receives every record as single-line JSON. The
	// parent directory is created if missing.
	FilePath string

	// Stderr enables the stderr sink.
	Stderr bool

	// StderrLevel filters the stderr sink; records below it are dropped.
	// Zero means slog.LevelWarn.
	StderrLevel slog.Level
}

// New returns a Logger for the given sinks. With neither sink configured the
// result discards, same as Discard.
func New(opts Options) (*Logger, error) {
	var handlers []slog.Handler
	var closer io.Closer

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		closer = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if opts.Stderr {
		level := opts.StderrLevel
		if level == 0 {
			level = slog.LevelWarn
		}
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, nil)
	case 1:
		h = handlers[0]
	default:
		h = multiHandler(handlers)
	}
	return &Logger{l: slog.New(h), closer: closer}, nil
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return &Logger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Slog exposes the underlying slog.Logger for components that log free-form
// diagnostics alongside the records.
func (l *Logger) Slog() *slog.Logger { return l.l }

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// LLMCall is the record of one provider call.
type LLMCall struct {
	Model            string
	Attempt          int
	Elapsed          time.Duration
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
	ToolCalls        int

	// DiscardedBytes is the length of a partial response thrown away
	// before a retry. Zero on clean calls.
	DiscardedBytes int

	// Err is set when the call failed.
	Err string
}

// LLMCall writes an llm_call record.
func (l *Logger) LLMCall(rec LLMCall) {
	attrs := []any{
		"model", rec.Model,
		"attempt", rec.Attempt,
		"elapsed_s", rec.Elapsed.Seconds(),
		"prompt_tokens", rec.PromptTokens,
		"completion_tokens", rec.CompletionTokens,
		"finish_reason", rec.FinishReason,
		"tool_calls", rec.ToolCalls,
	}
	if rec.DiscardedBytes > 0 {
		attrs = append(attrs, "discarded_bytes", rec.DiscardedBytes)
	}
	if rec.Err != "" {
		attrs = append(attrs, "error", rec.Err)
		l.l.Warn("llm_call", attrs...)
		return
	}
	l.l.Info("llm_call", attrs...)
}

// ToolExec is the record of one tool execution.
type ToolExec struct {
	Tool      string
	Elapsed   time.Duration
	OutputLen int
	IsError   bool
	CacheHit  bool
}

// ToolExec writes a tool_exec record.
func (l *Logger) ToolExec(rec ToolExec) {
	attrs := []any{
		"tool", rec.Tool,
		"elapsed_s", rec.Elapsed.Seconds(),
		"output_len", rec.OutputLen,
		"is_error", rec.IsError,
	}
	if rec.CacheHit {
		attrs = append(attrs, "cache_hit", true)
	}
	l.l.Info("tool_exec", attrs...)
}

// TurnStep is the record of one step of the agentic loop.
type TurnStep struct {
	Step         int
	TextLen      int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// TurnStep writes a turn_step record.
func (l *Logger) TurnStep(rec TurnStep) {
	l.l.Info("turn_step",
		"step", rec.Step,
		"text_len", rec.TextLen,
		"tool_calls", rec.ToolCalls,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"cost_usd", rec.CostUSD,
	)
}

// multiHandler fans one record out to several handlers.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
