package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/tern-dev/tern/pkg/tasks"
	"github.com/tern-dev/tern/pkg/tools"
)

// TaskTools returns the task_* adapters over the background-task manager:
// task_start, task_output, task_stop, task_list.
func TaskTools(mgr *tasks.Manager, workspace string) []*tools.Tool {
	return []*tools.Tool{
		newTaskStartTool(mgr, workspace),
		newTaskOutputTool(mgr),
		newTaskStopTool(mgr),
		newTaskListTool(mgr),
	}
}

func newTaskStartTool(mgr *tasks.Manager, workspace string) *tools.Tool {
	return &tools.Tool{
		Name: "task_start",
		Description: "Start a long-running command in the background (dev servers, watchers, builds). " +
			"Returns a task id immediately; poll its output with task_output and stop it with task_stop.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "Shell command to run in the background"},
			},
			Required: []string{"command"},
		}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			command := stringArg(args, "command")
			if command == "" {
				return tools.Errorf("command is required"), nil
			}
			t, err := mgr.Start(command, workspace)
			if err != nil {
				return tools.Errorf("start task: %v", err), nil
			}
			return tools.Textf("Started task %s (pid %d): %s", t.ID, t.PID, command), nil
		},
	}
}

func newTaskOutputTool(mgr *tasks.Manager) *tools.Tool {
	return &tools.Tool{
		Name: "task_output",
		Description: "Read the buffered output of a background task. Pass the since_index from a previous " +
			"call to read only new lines.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"task_id":     {Type: "string", Description: "Task id returned by task_start"},
				"since_index": {Type: "integer", Description: "Absolute line index to read from (default: 0)"},
			},
			Required: []string{"task_id"},
		}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			id := stringArg(args, "task_id")
			t := mgr.Get(id)
			if t == nil {
				return tools.Errorf("no task with id %q", id), nil
			}
			since, _ := intArg(args, "since_index")
			lines, next := t.Lines(since)

			var sb strings.Builder
			fmt.Fprintf(&sb, "Task %s [%s]", t.ID, t.State())
			if code := t.ExitCode(); code != nil {
				fmt.Fprintf(&sb, " exit_code=%d", *code)
			}
			fmt.Fprintf(&sb, " next_index=%d\n", next)
			if len(lines) == 0 {
				sb.WriteString("(no new output)")
			} else {
				sb.WriteString(strings.Join(lines, "\n"))
			}
			return tools.Text(sb.String()), nil
		},
	}
}

func newTaskStopTool(mgr *tasks.Manager) *tools.Tool {
	return &tools.Tool{
		Name:        "task_stop",
		Description: "Stop a running background task with SIGTERM.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"task_id": {Type: "string", Description: "Task id returned by task_start"},
			},
			Required: []string{"task_id"},
		}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			id := stringArg(args, "task_id")
			if !mgr.Stop(id) {
				return tools.Errorf("no running task with id %q", id), nil
			}
			return tools.Textf("Stopped task %s", id), nil
		},
	}
}

func newTaskListTool(mgr *tasks.Manager) *tools.Tool {
	return &tools.Tool{
		Name:        "task_list",
		Description: "List background tasks with their status and exit codes.",
		Params:      tools.MustSchema(tools.SimpleSchema{}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			list := mgr.List()
			if len(list) == 0 {
				return tools.Text("No background tasks."), nil
			}
			var sb strings.Builder
			for _, t := range list {
				fmt.Fprintf(&sb, "%s [%s]", t.ID, t.State())
				if code := t.ExitCode(); code != nil {
					fmt.Fprintf(&sb, " exit_code=%d", *code)
				}
				fmt.Fprintf(&sb, " %s\n", t.Command)
			}
			return tools.Text(strings.TrimRight(sb.String(), "\n")), nil
		},
	}
}
