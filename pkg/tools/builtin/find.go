package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tern-dev/tern/pkg/tools"
)

const findDefaultLimit = 1000

// NewFindTool returns the find tool: glob-based file search, skipping .git
// and honouring a basic .gitignore.
func NewFindTool(workspace string) *tools.Tool {
	return &tools.Tool{
		Name: "find",
		Description: fmt.Sprintf(
			"Search for files by glob pattern. Returns matching file paths relative to the search directory. "+
				"Respects .gitignore. Output is truncated to %d results or %s (whichever is hit first).",
			findDefaultLimit, FormatSize(DefaultMaxBytes),
		),
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Glob pattern to match files, e.g. '*.go', '**/*.json', or 'pkg/**/*_test.go'"},
				"path":    {Type: "string", Description: "Directory to search in (default: workspace root)"},
				"limit":   {Type: "integer", Description: fmt.Sprintf("Maximum number of results (default: %d)", findDefaultLimit)},
			},
			Required: []string{"pattern"},
		}),
		ConcurrentSafe: true,
		ReadOnly:       true,
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return find(ctx, workspace, args), nil
		},
	}
}

func find(ctx context.Context, workspace string, args map[string]any) tools.Result {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return tools.Errorf("pattern is required")
	}

	path := stringArg(args, "path")
	limit := findDefaultLimit
	if n, ok := intArg(args, "limit"); ok && n > 0 {
		limit = n
	}

	searchRoot := workspace
	if path != "" {
		searchRoot = resolvePath(path, workspace)
	}

	info, err := os.Stat(searchRoot)
	if err != nil || !info.IsDir() {
		return tools.Errorf("path not found or not a directory: %s", searchRoot)
	}

	gitIgnore := loadGitignore(searchRoot)

	var results []string
	limitReached := false

	walkErr := filepath.WalkDir(searchRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || ctx.Err() != nil {
			return walkErr
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == ".hg" || name == ".svn" {
				return filepath.SkipDir
			}
			if gitIgnore.matchesDir(p, searchRoot) {
				return filepath.SkipDir
			}
			return nil
		}
		if gitIgnore.matchesFile(p, searchRoot) {
			return nil
		}

		matched, _ := matchGlob(pattern, d.Name(), p, searchRoot)
		if !matched {
			return nil
		}

		rel, _ := filepath.Rel(searchRoot, p)
		results = append(results, filepath.ToSlash(rel))
		if len(results) >= limit {
			limitReached = true
			return errLimitReached
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errLimitReached) {
		return tools.FromError(walkErr)
	}

	if len(results) == 0 {
		return tools.Text("No files found matching pattern")
	}

	tr := TruncateHead(strings.Join(results, "\n"), maxInt, DefaultMaxBytes)
	output := tr.Content

	var notices []string
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d results limit reached. Use limit=%d for more, or refine pattern", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if len(notices) > 0 {
		output += "\n\n[" + strings.Join(notices, ". ") + "]"
	}
	return tools.Text(output)
}
