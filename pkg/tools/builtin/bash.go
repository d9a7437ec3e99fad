package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tern-dev/tern/pkg/tools"
)

// NewBashTool returns the bash tool, running commands locally.
func NewBashTool(workspace string) *tools.Tool {
	return NewBashToolWithExecutor(workspace, nil)
}

// NewBashToolWithExecutor returns a bash tool that delegates execution.
// Use this to run commands in containers, over SSH, or in sandboxes.
func NewBashToolWithExecutor(workspace string, exec Executor) *tools.Tool {
	if exec == nil {
		exec = &LocalExecutor{}
	}
	return &tools.Tool{
		Name: "bash",
		Description: fmt.Sprintf(
			"Execute a bash command in the workspace directory. Returns combined stdout and stderr. "+
				"Output is truncated to the last %d lines or %s (whichever is hit first); "+
				"if truncated, the full output is saved to a temp file. "+
				"Optionally provide a timeout in seconds.",
			DefaultMaxLines, FormatSize(DefaultMaxBytes),
		),
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "Bash command to execute"},
				"timeout": {Type: "number", Description: "Timeout in seconds (optional)"},
			},
			Required: []string{"command"},
		}),
		RunStream: func(ctx context.Context, args map[string]any, progress tools.ProgressFn) (tools.Result, error) {
			command := stringArg(args, "command")
			if command == "" {
				return tools.Errorf("command is required"), nil
			}

			var timeoutSecs float64
			switch n := args["timeout"].(type) {
			case float64:
				timeoutSecs = n
			case int:
				timeoutSecs = float64(n)
			}
			if timeoutSecs > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSecs*float64(time.Second)))
				defer cancel()
			}

			return runBash(ctx, exec, workspace, command, timeoutSecs, progress), nil
		},
	}
}

func runBash(ctx context.Context, executor Executor, workspace, command string, timeoutSecs float64, progress tools.ProgressFn) tools.Result {
	// Rolling buffer shared between the executor's onData callback and this
	// goroutine, protected by mu.
	var mu sync.Mutex
	var chunks [][]byte
	var chunksBytes int
	var totalBytes int
	var tempFile *os.File
	var tempPath string

	const maxChunksBytes = DefaultMaxBytes * 2

	onData := func(chunk string) {
		data := []byte(chunk)
		mu.Lock()
		totalBytes += len(data)

		// Spill to a temp file once past the limit.
		if totalBytes > DefaultMaxBytes && tempFile == nil {
			if tf, terr := os.CreateTemp("", "tern-bash-*.log"); terr == nil {
				tempFile = tf
				tempPath = tf.Name()
				for _, c := range chunks {
					tf.Write(c)
				}
			}
		}
		if tempFile != nil {
			tempFile.Write(data)
		}

		chunks = append(chunks, data)
		chunksBytes += len(data)
		for chunksBytes > maxChunksBytes && len(chunks) > 1 {
			chunksBytes -= len(chunks[0])
			chunks = chunks[1:]
		}
		tb := totalBytes
		mu.Unlock()

		if line := lastLine(chunk); line != "" {
			progress(line, -1)
		} else {
			progress(fmt.Sprintf("%s of output", FormatSize(tb)), -1)
		}
	}

	exitCode, execErr := executor.Exec(ctx, command, workspace, onData)

	if tempFile != nil {
		tempFile.Close()
	}

	mu.Lock()
	combined := combineChunks(chunks)
	tp := tempPath
	tb := totalBytes
	mu.Unlock()

	fullOutput := string(combined)
	tr := TruncateTail(fullOutput, DefaultMaxLines, DefaultMaxBytes)

	timedOut := ctx.Err() == context.DeadlineExceeded
	aborted := ctx.Err() == context.Canceled

	outputText := tr.Content
	if outputText == "" {
		outputText = "(no output)"
	}

	switch {
	case tr.Truncated:
		startLine := tr.TotalLines - tr.OutputLines + 1
		endLine := tr.TotalLines
		if tr.LastLinePartial {
			outputText += fmt.Sprintf(
				"\n\n[Showing last %s of line %d. Full output: %s]",
				FormatSize(tr.OutputBytes), endLine, tp,
			)
		} else if tr.TruncatedBy == "lines" {
			outputText += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d. Full output: %s]",
				startLine, endLine, tr.TotalLines, tp,
			)
		} else {
			outputText += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d (%s limit). Full output: %s]",
				startLine, endLine, tr.TotalLines, FormatSize(DefaultMaxBytes), tp,
			)
		}
	case tb > DefaultMaxBytes && tp != "":
		outputText += fmt.Sprintf("\n\n[Full output: %s]", tp)
	}

	switch {
	case aborted:
		return tools.Errorf("%s\n\nCommand aborted", outputText)
	case timedOut:
		return tools.Errorf("%s\n\nCommand timed out after %.0f seconds", outputText, timeoutSecs)
	case execErr != nil:
		return tools.Errorf("%s\n\nCommand failed: %v", outputText, execErr)
	case exitCode != 0:
		return tools.Result{
			Output:  fmt.Sprintf("%s\n\nExit code: %d", outputText, exitCode),
			IsError: true,
		}
	}
	return tools.Text(outputText)
}

// lastLine returns the last non-empty line of chunk, for progress reporting.
func lastLine(chunk string) string {
	lines := strings.Split(strings.TrimRight(chunk, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func combineChunks(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
