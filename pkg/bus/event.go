// Package bus is the in-process event stream of a session: the turn driver
// appends typed events, subscribers read them through independent cursors.
package bus

import (
	"github.com/tern-dev/tern/pkg/ai"
)

// Type tags an Event.
type Type string

const (
	EventTurnStart      Type = "turn_start"
	EventTextDelta      Type = "text_delta"
	EventText           Type = "text"      // finalized assistant text for one step
	EventToolCall       Type = "tool_call" // execution of one call is starting
	EventToolProgress   Type = "tool_progress"
	EventToolResult     Type = "tool_result"
	EventToolPolicyWarn Type = "tool_policy_warn"
	EventUsage          Type = "usage"
	EventCompaction     Type = "compaction"
	EventTaskStarted    Type = "task_started"
	EventTaskCompleted  Type = "task_completed"
	EventTaskFailed     Type = "task_failed"
	EventArtifact       Type = "artifact"
	EventError          Type = "error"
	EventDone           Type = "done"
)

// Event is one entry of the session stream. It is a flat record; which
// fields are set depends on Type. Events serialize to single-line JSON for
// the streaming view.
type Event struct {
	Type      Type   `json:"type"`
	Seq       uint64 `json:"seq"`
	SessionID string `json:"session_id,omitempty"`
	Ts        int64  `json:"ts"` // unix milliseconds, stamped at emit

	// Step is the provider-call counter within the turn, where relevant.
	Step int `json:"step,omitempty"`

	// Text carries text_delta increments and the final text payload.
	Text string `json:"text,omitempty"`

	// Tool fields (tool_call, tool_progress, tool_result, tool_policy_warn).
	ToolCallID string  `json:"tool_call_id,omitempty"`
	ToolName   string  `json:"tool_name,omitempty"`
	ToolArgs   string  `json:"tool_args,omitempty"`
	Progress   string  `json:"progress,omitempty"`
	Pct        float64 `json:"pct,omitempty"` // 0 when unknown
	Output     string  `json:"output,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
	CacheHit   bool    `json:"cache_hit,omitempty"`

	// Policy fields (tool_policy_warn).
	Policy   string `json:"policy,omitempty"`
	Severity string `json:"severity,omitempty"`

	// Usage fields (usage).
	Usage   *ai.Usage `json:"usage,omitempty"`
	CostUSD float64   `json:"cost_usd,omitempty"`

	// Compaction fields.
	Elided int `json:"elided,omitempty"`

	// Background-task fields (task_*).
	TaskID   string `json:"task_id,omitempty"`
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`

	// Artifact fields.
	Key string `json:"key,omitempty"`

	// Err is the one-line cause on error events.
	Err string `json:"error,omitempty"`

	// Done fields.
	Reason           string `json:"reason,omitempty"` // stop | cancelled | error | step_limit
	StepLimitReached bool   `json:"step_limit_reached,omitempty"`
}

// Done reasons.
const (
	ReasonStop      = "stop"
	ReasonCancelled = "cancelled"
	ReasonError     = "error"
	ReasonStepLimit = "step_limit"
)
