// Package tools defines the tool data model, the registry, argument
// validation, and the external plugin protocol.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tern-dev/tern/pkg/ai"
)

// Result is the value a tool execution produces. Output goes back to the
// model; Details is structured data for UIs and logs, never sent to the
// model. Errors are carried as values: a failing tool sets IsError and puts
// the cause in Output.
type Result struct {
	Output  string
	IsError bool
	Details any
}

// Text returns a successful Result with the given output.
func Text(output string) Result { return Result{Output: output} }

// Textf is Text with formatting.
func Textf(format string, args ...any) Result {
	return Result{Output: fmt.Sprintf(format, args...)}
}

// Errorf returns an error Result with a formatted message.
func Errorf(format string, args ...any) Result {
	return Result{Output: fmt.Sprintf(format, args...), IsError: true}
}

// FromError converts err into an error Result.
func FromError(err error) Result {
	return Result{Output: err.Error(), IsError: true}
}

// ProgressFn reports intermediate progress from a streaming tool. pct is a
// fraction in [0,1]; pass a negative value when the total is unknown.
type ProgressFn func(message string, pct float64)

// RunFunc is a simple executor: one call, one result. A non-nil error is
// infrastructure failure; a domain failure belongs in Result.IsError.
type RunFunc func(ctx context.Context, args map[string]any) (Result, error)

// StreamFunc is a streaming executor. progress is never nil.
type StreamFunc func(ctx context.Context, args map[string]any, progress ProgressFn) (Result, error)

// Tool describes one callable tool: metadata the model sees, execution
// constraints the gate enforces, and exactly one executor variant.
type Tool struct {
	Name        string
	Description string

	// Params is a JSON-Schema object describing the arguments.
	Params json.RawMessage

	// ConcurrentSafe declares that two instances of this tool may run in
	// parallel without racing over shared state. Unsafe tools run
	// sequentially in batch order.
	ConcurrentSafe bool

	// ReadOnly declares the result a pure function of the arguments for
	// the session's lifetime; the gate may cache it.
	ReadOnly bool

	// Timeout overrides the gate's default per-call deadline when > 0.
	Timeout time.Duration

	// MaxRetries (capped at 3 by the gate) and RetryBase configure the
	// retry loop for retryable failures. RetryBase defaults to 500ms.
	MaxRetries int
	RetryBase  time.Duration

	// Exactly one of Run or RunStream must be set.
	Run       RunFunc
	RunStream StreamFunc
}

// Streaming reports whether the tool has the streaming capability.
func (t *Tool) Streaming() bool { return t.RunStream != nil }

// Definition returns the descriptor handed to the model.
func (t *Tool) Definition() ai.ToolDefinition {
	params := t.Params
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return ai.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: params}
}

// Execute dispatches to whichever executor variant is set. progress may be
// nil; simple tools never see it.
func (t *Tool) Execute(ctx context.Context, args map[string]any, progress ProgressFn) (Result, error) {
	if t.RunStream != nil {
		if progress == nil {
			progress = func(string, float64) {}
		}
		return t.RunStream(ctx, args, progress)
	}
	if t.Run != nil {
		return t.Run(ctx, args)
	}
	return Result{}, fmt.Errorf("tool %q has no executor", t.Name)
}

// check validates the tool's shape for registration.
func (t *Tool) check() error {
	if t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if (t.Run == nil) == (t.RunStream == nil) {
		return fmt.Errorf("tool %q must set exactly one of Run or RunStream", t.Name)
	}
	return nil
}

// SimpleSchema is a helper for building JSON-Schema objects inline.
type SimpleSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one schema property.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// MustSchema returns the JSON-Schema bytes for s.
func MustSchema(s SimpleSchema) json.RawMessage {
	obj := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if s.Properties == nil {
		obj["properties"] = map[string]Property{}
	}
	if len(s.Required) > 0 {
		obj["required"] = s.Required
	}
	b, err := json.Marshal(obj)
	if err != nil {
		panic("tools.MustSchema: " + err.Error())
	}
	return b
}
