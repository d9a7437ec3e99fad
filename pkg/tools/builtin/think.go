package builtin

import (
	"context"

	"github.com/tern-dev/tern/pkg/tools"
)

// NewThinkTool returns the think tool: a no-op scratchpad the model can use
// to reason out loud mid-turn. The thought lands in the context and the
// event stream; nothing else happens.
func NewThinkTool() *tools.Tool {
	return &tools.Tool{
		Name: "think",
		Description: "Record a thought while working through a problem. Use it to plan multi-step work, " +
			"check assumptions, or note intermediate conclusions. Has no side effects.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"thought": {Type: "string", Description: "The thought to record"},
			},
			Required: []string{"thought"},
		}),
		ConcurrentSafe: true,
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			if stringArg(args, "thought") == "" {
				return tools.Errorf("thought is required"), nil
			}
			return tools.Text("Thought recorded."), nil
		},
	}
}
