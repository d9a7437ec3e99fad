// Package builtin provides the standard tool set: file access (read_file,
// write_file, edit_file, list_dir, grep, find), shell execution (bash),
// web_fetch, think, and the task_* adapters over the background-task manager.
package builtin

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tern-dev/tern/pkg/tasks"
	"github.com/tern-dev/tern/pkg/tools"
)

const (
	DefaultMaxLines   = 2000
	DefaultMaxBytes   = 50 * 1024 // 50 KB
	GrepMaxLineLength = 500
	contextLines      = 4 // lines of context shown around edits / grep matches
)

// Preset selects which built-in tools are registered.
type Preset string

const (
	// PresetCoding registers the full set: file tools, bash, web_fetch,
	// think, and the task tools when a manager is supplied.
	PresetCoding Preset = "coding"

	// PresetReadOnly registers only non-mutating tools, safe for exploration.
	PresetReadOnly Preset = "readonly"

	// PresetNone registers nothing; useful when only plugin tools are wanted.
	PresetNone Preset = "none"
)

// ParsePreset normalises a preset string.
func ParsePreset(s string) (Preset, error) {
	switch Preset(s) {
	case PresetCoding, PresetReadOnly, PresetNone:
		return Preset(s), nil
	case "":
		return PresetCoding, nil
	default:
		return "", fmt.Errorf("unknown tool preset %q", s)
	}
}

// Deps carries what the built-in tools need: the workspace directory file
// tools operate from, the background-task manager for the task_* tools, and
// a logger for registration diagnostics.
type Deps struct {
	Workspace string
	Tasks     *tasks.Manager
	Logger    *slog.Logger
}

func (d *Deps) defaults() {
	if d.Workspace == "" {
		d.Workspace = "."
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Register adds the tools for the given preset to the registry. A tool that
// fails to register is logged and skipped; its siblings still register.
func Register(reg *tools.Registry, preset Preset, deps Deps) error {
	deps.defaults()

	var set []*tools.Tool
	switch preset {
	case PresetCoding:
		set = []*tools.Tool{
			NewReadFileTool(deps.Workspace),
			NewWriteFileTool(deps.Workspace),
			NewEditFileTool(deps.Workspace),
			NewListDirTool(deps.Workspace),
			NewGrepTool(deps.Workspace),
			NewFindTool(deps.Workspace),
			NewBashTool(deps.Workspace),
			NewWebFetchTool(),
			NewThinkTool(),
		}
		if deps.Tasks != nil {
			set = append(set, TaskTools(deps.Tasks, deps.Workspace)...)
		}
	case PresetReadOnly:
		set = []*tools.Tool{
			NewReadFileTool(deps.Workspace),
			NewListDirTool(deps.Workspace),
			NewGrepTool(deps.Workspace),
			NewFindTool(deps.Workspace),
			NewWebFetchTool(),
			NewThinkTool(),
		}
	case PresetNone:
	default:
		return fmt.Errorf("unknown tool preset %q", preset)
	}

	for _, t := range set {
		if err := reg.Register(t); err != nil {
			deps.Logger.Warn("builtin tool skipped", "tool", t.Name, "error", err)
		}
	}
	return nil
}

// stringArg reads a string parameter.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// intArg reads an integer parameter, accepting the numeric shapes JSON
// decoding and validation coercion produce.
func intArg(args map[string]any, key string) (int, bool) {
	switch n := args[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// boolArg reads a boolean parameter.
func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
