package tools

// Plugin protocol — external tool processes
//
// An external plugin is a standalone executable that speaks a simple
// JSON-over-stdin/stdout protocol:
//
//  1. On startup the engine sends a single JSON line:
//       {"type":"describe"}
//     The plugin responds with its definition:
//       {"name":"...","description":"...","parameters":{...}}
//
//  2. For each tool call the engine sends:
//       {"type":"call","params":{...}}
//     The plugin responds:
//       {"output":"...","error":false}
//
// Plugins are launched once and kept alive for the session. Calls to a
// single plugin process are serialised; plugins never run concurrently with
// themselves and are registered as not concurrent-safe.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
)

// Plugin is a live plugin subprocess exposed as a Tool.
type Plugin struct {
	tool *Tool

	mu  sync.Mutex
	cmd *exec.Cmd
	enc *json.Encoder
	dec *json.Decoder
}

type pluginDescribeResponse struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type pluginCallRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

type pluginCallResponse struct {
	Output string `json:"output"`
	Error  bool   `json:"error"`
}

// LoadPlugin launches the executable at path, queries its definition, and
// returns the Plugin whose Tool delegates calls to the subprocess.
func LoadPlugin(path string, args ...string) (*Plugin, error) {
	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: stdin pipe: %w", path, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: stdout pipe: %w", path, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("plugin %s: start: %w", path, err)
	}

	p := &Plugin{
		cmd: cmd,
		enc: json.NewEncoder(stdin),
		dec: json.NewDecoder(bufio.NewReader(stdout)),
	}

	if err := p.enc.Encode(map[string]string{"type": "describe"}); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("plugin %s: describe request: %w", path, err)
	}
	var desc pluginDescribeResponse
	if err := p.dec.Decode(&desc); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("plugin %s: describe response: %w", path, err)
	}
	if desc.Name == "" {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("plugin %s: describe returned no name", path)
	}

	p.tool = &Tool{
		Name:        desc.Name,
		Description: desc.Description,
		Params:      desc.Parameters,
		Run:         p.call,
	}
	return p, nil
}

// Tool returns the registrable tool backed by this plugin.
func (p *Plugin) Tool() *Tool { return p.tool }

// call round-trips one request over the subprocess pipes. The mutex
// serialises concurrent callers; the decoder would interleave otherwise.
func (p *Plugin) call(ctx context.Context, args map[string]any) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enc.Encode(pluginCallRequest{Type: "call", Params: args}); err != nil {
		return Result{}, fmt.Errorf("plugin %s: send call: %w", p.tool.Name, err)
	}
	var resp pluginCallResponse
	if err := p.dec.Decode(&resp); err != nil {
		return Result{}, fmt.Errorf("plugin %s: read response: %w", p.tool.Name, err)
	}
	return Result{Output: resp.Output, IsError: resp.Error}, nil
}

// Close terminates the plugin subprocess. Call on engine shutdown.
func (p *Plugin) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
}
