package builtin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tern-dev/tern/pkg/tools"
)

const lsDefaultLimit = 500

// NewListDirTool returns the list_dir tool: entries sorted alphabetically,
// "/" suffix for directories, dotfiles included.
func NewListDirTool(workspace string) *tools.Tool {
	return &tools.Tool{
		Name: "list_dir",
		Description: fmt.Sprintf(
			"List directory contents. Returns entries sorted alphabetically, with '/' suffix for directories. "+
				"Includes dotfiles. Output is truncated to %d entries or %s (whichever is hit first).",
			lsDefaultLimit, FormatSize(DefaultMaxBytes),
		),
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":  {Type: "string", Description: "Directory to list (default: workspace root)"},
				"limit": {Type: "integer", Description: fmt.Sprintf("Maximum number of entries to return (default: %d)", lsDefaultLimit)},
			},
		}),
		ConcurrentSafe: true,
		ReadOnly:       true,
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return listDir(workspace, args), nil
		},
	}
}

func listDir(workspace string, args map[string]any) tools.Result {
	path := stringArg(args, "path")
	limit := lsDefaultLimit
	if n, ok := intArg(args, "limit"); ok && n > 0 {
		limit = n
	}

	dirPath := workspace
	if path != "" {
		dirPath = resolvePath(path, workspace)
	}

	info, err := os.Stat(dirPath)
	if err != nil {
		return tools.Errorf("path not found: %s", path)
	}
	if !info.IsDir() {
		return tools.Errorf("not a directory: %s", path)
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return tools.Errorf("cannot read directory: %v", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var results []string
	limitReached := false
	for _, e := range entries {
		if len(results) >= limit {
			limitReached = true
			break
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		} else if e.Type()&os.ModeSymlink != 0 {
			// Resolve symlink to check if it points to a directory.
			if target, err := os.Stat(dirPath + "/" + name); err == nil && target.IsDir() {
				name += "/"
			}
		}
		results = append(results, name)
	}

	if len(results) == 0 {
		return tools.Text("(empty directory)")
	}

	tr := TruncateHead(strings.Join(results, "\n"), maxInt, DefaultMaxBytes)
	output := tr.Content

	var notices []string
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d entries limit reached. Use limit=%d for more", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if len(notices) > 0 {
		output += "\n\n[" + strings.Join(notices, ". ") + "]"
	}
	return tools.Text(output)
}
