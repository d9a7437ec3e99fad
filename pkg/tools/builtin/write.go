package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tern-dev/tern/pkg/tools"
)

// NewWriteFileTool returns the write_file tool: create or overwrite a file,
// auto-creating parent directories.
func NewWriteFileTool(workspace string) *tools.Tool {
	return &tools.Tool{
		Name:        "write_file",
		Description: "Write content to a file. Creates the file if it doesn't exist, overwrites if it does. Automatically creates parent directories.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":    {Type: "string", Description: "Path to the file to write (relative or absolute)"},
				"content": {Type: "string", Description: "Content to write to the file"},
			},
			Required: []string{"path", "content"},
		}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			path := stringArg(args, "path")
			content := stringArg(args, "content")
			if path == "" {
				return tools.Errorf("path is required"), nil
			}

			absPath := resolvePath(path, workspace)
			if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
				return tools.Errorf("cannot create directories for %s: %v", path, err), nil
			}
			if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
				return tools.Errorf("cannot write %s: %v", path, err), nil
			}
			return tools.Text(fmt.Sprintf("Wrote %d bytes to %s", len(content), path)), nil
		},
	}
}
