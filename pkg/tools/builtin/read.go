package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tern-dev/tern/pkg/tools"
)

// binaryExtensions are file types read_file refuses to render as text.
var binaryExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".ico": true, ".pdf": true, ".zip": true, ".tar": true, ".gz": true,
	".exe": true, ".so": true, ".dylib": true, ".wasm": true, ".sqlite": true,
}

// NewReadFileTool returns the read_file tool: paginated text reads with
// head-truncation.
func NewReadFileTool(workspace string) *tools.Tool {
	return &tools.Tool{
		Name: "read_file",
		Description: fmt.Sprintf(
			"Read the contents of a text file. Output is truncated to %d lines or %s "+
				"(whichever is hit first). Use offset/limit for large files; "+
				"continue with offset until complete.",
			DefaultMaxLines, FormatSize(DefaultMaxBytes),
		),
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":   {Type: "string", Description: "Path to the file to read (relative or absolute)"},
				"offset": {Type: "integer", Description: "Line number to start reading from (1-indexed)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to read"},
			},
			Required: []string{"path"},
		}),
		ConcurrentSafe: true,
		ReadOnly:       true,
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			path := stringArg(args, "path")
			if path == "" {
				return tools.Errorf("path is required"), nil
			}
			absPath := resolvePath(path, workspace)
			if binaryExtensions[strings.ToLower(filepath.Ext(absPath))] {
				return tools.Errorf("%s is a binary file; read_file handles text only", path), nil
			}
			return readText(absPath, path, args), nil
		},
	}
}

func readText(absPath, displayPath string, args map[string]any) tools.Result {
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.Errorf("cannot read %s: %v", displayPath, err)
	}

	allLines := strings.Split(normalizeToLF(string(raw)), "\n")
	totalFileLines := len(allLines)

	offset, _ := intArg(args, "offset")
	limit, hasLimit := intArg(args, "limit")

	startLine := 0 // 0-indexed
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= totalFileLines {
		return tools.Errorf("offset %d is beyond end of file (%d lines total)", offset, totalFileLines)
	}

	var selected string
	var userLimitedLines int
	if hasLimit && limit > 0 {
		endLine := min(startLine+limit, totalFileLines)
		selected = joinLines(allLines[startLine:endLine])
		userLimitedLines = endLine - startLine
	} else {
		selected = joinLines(allLines[startLine:])
	}

	tr := TruncateHead(selected, DefaultMaxLines, DefaultMaxBytes)
	startDisplay := startLine + 1 // 1-indexed for display

	switch {
	case tr.FirstLineExceedsLimit:
		return tools.Errorf(
			"line %d is %s, exceeds the %s limit; use bash: sed -n '%dp' %s | head -c %d",
			startDisplay, FormatSize(len(allLines[startLine])), FormatSize(DefaultMaxBytes),
			startDisplay, displayPath, DefaultMaxBytes,
		)

	case tr.Truncated:
		endLineDisplay := startDisplay + tr.OutputLines - 1
		nextOffset := endLineDisplay + 1
		note := fmt.Sprintf(
			"\n\n[Showing lines %d-%d of %d. Use offset=%d to continue.]",
			startDisplay, endLineDisplay, totalFileLines, nextOffset,
		)
		if tr.TruncatedBy == "bytes" {
			note = fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d (%s limit). Use offset=%d to continue.]",
				startDisplay, endLineDisplay, totalFileLines, FormatSize(DefaultMaxBytes), nextOffset,
			)
		}
		return tools.Text(tr.Content + note)

	case hasLimit && userLimitedLines > 0 && startLine+userLimitedLines < totalFileLines:
		remaining := totalFileLines - (startLine + userLimitedLines)
		nextOffset := startLine + userLimitedLines + 1
		return tools.Textf("%s\n\n[%d more lines in file. Use offset=%d to continue.]",
			tr.Content, remaining, nextOffset)

	default:
		return tools.Text(tr.Content)
	}
}
