package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tern-dev/tern/pkg/convo"
	"github.com/tern-dev/tern/pkg/tools"
	"github.com/tern-dev/tern/pkg/tools/builtin"
)

const (
	// DefaultSubAgentSteps is the step budget of one sub-agent turn.
	DefaultSubAgentSteps = 30

	// DefaultSubAgentParallel caps concurrently running sub-agents.
	DefaultSubAgentParallel = 4

	// DefaultSubAgentTimeout bounds one parallel dispatch end to end.
	DefaultSubAgentTimeout = 600 * time.Second
)

const subAgentPrompt = `You are a focused sub-agent. Complete the given task using the available tools, then reply with a concise report of what you did and found. Do not ask questions; make reasonable assumptions.`

// EngineRef late-binds an engine into the spawn tools, breaking the
// construction cycle between the engine and its registry. Until SetEngine is
// called the spawn tools return a graceful error result.
type EngineRef struct {
	mu sync.Mutex
	e  *Engine
}

// SetEngine binds the engine. Call once, after construction.
func (r *EngineRef) SetEngine(e *Engine) {
	r.mu.Lock()
	r.e = e
	r.mu.Unlock()
}

func (r *EngineRef) engine() *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.e
}

// newChild builds the engine for one sub-agent: shared workspace, bus, cost
// tracker, deferred buffer and task manager; fresh context store and a
// toolset without spawn tools, which bounds recursion depth.
func (e *Engine) newChild() (*Engine, error) {
	reg := tools.NewRegistry()
	err := builtin.Register(reg, builtin.PresetCoding, builtin.Deps{
		Workspace: e.workspace,
		Tasks:     e.tasks,
		Logger:    e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sub-agent toolset: %w", err)
	}

	opts := e.opts
	opts.MaxSteps = e.opts.SubAgentSteps

	child := &Engine{
		provider:  e.provider,
		model:     e.model,
		workspace: e.workspace,
		store:     convo.New(convo.Options{SystemPrompt: subAgentPrompt, Logger: e.logger}),
		registry:  reg,
		bus:       e.bus,
		tasks:     e.tasks,
		buffer:    e.buffer,
		sink:      e.sink,
		cost:      e.cost,
		log:       e.log,
		logger:    e.logger,
		hook:      e.hook,
		mode:      e.mode,
		opts:      opts,
		nested:    true,
	}
	child.gate = newGate(reg, e.bus, e.log, e.hook, e.mode, opts.ToolPool)
	return child, nil
}

// SpawnTools returns the agent and agent_parallel tools backed by ref. Both
// are unsafe (they drive provider calls and may touch the workspace).
func SpawnTools(ref *EngineRef) []*tools.Tool {
	return []*tools.Tool{newAgentTool(ref), newAgentParallelTool(ref)}
}

func newAgentTool(ref *EngineRef) *tools.Tool {
	return &tools.Tool{
		Name: "agent",
		Description: "Delegate a self-contained task to a sub-agent with its own fresh context. " +
			"The sub-agent can use files, shell and background tasks, and returns a text report.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"task": {Type: "string", Description: "Complete description of the task, including expected output"},
			},
			Required: []string{"task"},
		}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			task, _ := args["task"].(string)
			if strings.TrimSpace(task) == "" {
				return tools.Errorf("task is required"), nil
			}
			e := ref.engine()
			if e == nil {
				return tools.Errorf("sub-agent engine not configured"), nil
			}
			text, err := e.RunSubTask(ctx, task)
			if err != nil {
				return tools.FromError(err), nil
			}
			return tools.Text(text), nil
		},
	}
}

func newAgentParallelTool(ref *EngineRef) *tools.Tool {
	return &tools.Tool{
		Name: "agent_parallel",
		Description: "Run several independent sub-agent tasks concurrently. Each task gets its own " +
			"fresh context; results are returned per task in order. A failing task does not stop the others.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"tasks": {
					Type:        "array",
					Description: "Independent task descriptions, one sub-agent each",
					Items:       &tools.Property{Type: "string"},
				},
			},
			Required: []string{"tasks"},
		}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			raw, _ := args["tasks"].([]any)
			var list []string
			for _, v := range raw {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					list = append(list, s)
				}
			}
			if len(list) == 0 {
				return tools.Errorf("tasks must be a non-empty array of strings"), nil
			}
			e := ref.engine()
			if e == nil {
				return tools.Errorf("sub-agent engine not configured"), nil
			}

			tctx, cancel := context.WithTimeout(ctx, e.opts.SubAgentTimeout)
			defer cancel()

			results := make([]string, len(list))
			g, gctx := errgroup.WithContext(tctx)
			g.SetLimit(min(len(list), e.opts.SubAgentParallel))
			for i, task := range list {
				i, task := i, task
				g.Go(func() error {
					text, err := e.RunSubTask(gctx, task)
					if err != nil {
						results[i] = fmt.Sprintf("Error: %v", err)
						return nil
					}
					results[i] = text
					return nil
				})
			}
			_ = g.Wait()

			var sb strings.Builder
			for i, r := range results {
				fmt.Fprintf(&sb, "### Task %d\n%s\n\n", i+1, strings.TrimSpace(r))
			}
			return tools.Text(strings.TrimRight(sb.String(), "\n")), nil
		},
	}
}
