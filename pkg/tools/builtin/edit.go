package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/tern-dev/tern/pkg/tools"
)

// EditDetails is included in the edit_file result for UIs and logs.
type EditDetails struct {
	Diff             string `json:"diff"`
	FirstChangedLine int    `json:"first_changed_line,omitempty"`
}

// NewEditFileTool returns the edit_file tool: surgical find-and-replace. It
// normalises CRLF and smart punctuation before matching (fuzzy match),
// requires the search text to appear exactly once, and returns a contextual
// diff in the result details.
func NewEditFileTool(workspace string) *tools.Tool {
	return &tools.Tool{
		Name:        "edit_file",
		Description: "Edit a file by replacing exact text. The old_text must match exactly (including whitespace). Use this for precise, surgical edits.",
		Params: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":     {Type: "string", Description: "Path to the file to edit (relative or absolute)"},
				"old_text": {Type: "string", Description: "Exact text to find and replace (must match exactly)"},
				"new_text": {Type: "string", Description: "New text to replace the old text with"},
			},
			Required: []string{"path", "old_text", "new_text"},
		}),
		Run: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			return editFile(workspace, args), nil
		},
	}
}

func editFile(workspace string, args map[string]any) tools.Result {
	path := stringArg(args, "path")
	oldText := stringArg(args, "old_text")
	newText := stringArg(args, "new_text")
	if path == "" {
		return tools.Errorf("path is required")
	}

	absPath := resolvePath(path, workspace)
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.Errorf("cannot read %s: %v", path, err)
	}

	// Strip BOM, detect and normalise line endings.
	bom, rawText := stripBOM(string(raw))
	originalEnding := detectLineEnding(rawText)
	content := normalizeToLF(rawText)
	normOld := normalizeToLF(oldText)
	normNew := normalizeToLF(newText)

	match := fuzzyFindText(content, normOld)
	if !match.found {
		return tools.Errorf(
			"could not find the exact text in %s. The old_text must match exactly including all whitespace and newlines.",
			path,
		)
	}

	fuzzyContent := normalizeForFuzzyMatch(match.base)
	fuzzyOld := normalizeForFuzzyMatch(normOld)
	if occurrences := strings.Count(fuzzyContent, fuzzyOld); occurrences > 1 {
		return tools.Errorf(
			"found %d occurrences of the text in %s. The text must be unique. Provide more context to make it unique.",
			occurrences, path,
		)
	}

	base := match.base
	newContent := base[:match.index] + normNew + base[match.index+match.matchLen:]
	if base == newContent {
		return tools.Errorf("no changes made to %s. The replacement produced identical content.", path)
	}

	final := bom + restoreLineEndings(newContent, originalEnding)
	if err := os.WriteFile(absPath, []byte(final), 0o644); err != nil {
		return tools.Errorf("cannot write %s: %v", path, err)
	}

	diff, firstLine := generateDiff(base, match.index, normOld, normNew)
	return tools.Result{
		Output:  fmt.Sprintf("Replaced text in %s.", path),
		Details: EditDetails{Diff: diff, FirstChangedLine: firstLine},
	}
}

type matchResult struct {
	found    bool
	index    int
	matchLen int
	base     string // content the replacement applies to (possibly normalised)
}

func fuzzyFindText(content, oldText string) matchResult {
	// Exact match first.
	if idx := strings.Index(content, oldText); idx != -1 {
		return matchResult{found: true, index: idx, matchLen: len(oldText), base: content}
	}
	fc := normalizeForFuzzyMatch(content)
	fo := normalizeForFuzzyMatch(oldText)
	if idx := strings.Index(fc, fo); idx != -1 {
		return matchResult{found: true, index: idx, matchLen: len(fo), base: fc}
	}
	return matchResult{}
}

// normalizeForFuzzyMatch strips trailing whitespace per line and normalises
// smart quotes, dashes, and Unicode spaces to their ASCII equivalents.
func normalizeForFuzzyMatch(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	s = strings.Join(lines, "\n")

	// Smart single quotes → '
	s = replaceRunes(s, []rune{'\u2018', '\u2019', '\u201A', '\u201B'}, '\'')
	// Smart double quotes → "
	s = replaceRunes(s, []rune{'\u201C', '\u201D', '\u201E', '\u201F'}, '"')
	// Various dashes → -
	s = replaceRunes(s, []rune{'\u2010', '\u2011', '\u2012', '\u2013', '\u2014', '\u2015', '\u2212'}, '-')
	// Unicode spaces → regular space
	s = replaceRunes(s, []rune{'\u00A0', '\u2002', '\u2003', '\u2004', '\u2005', '\u2006', '\u2007', '\u2008', '\u2009', '\u200A', '\u202F', '\u205F', '\u3000'}, ' ')
	return s
}

func replaceRunes(s string, from []rune, to rune) string {
	return strings.Map(func(r rune) rune {
		for _, f := range from {
			if r == f {
				return to
			}
		}
		return r
	}, s)
}

// generateDiff produces a contextual unified-style diff for the single
// replacement. No LCS needed: exactly what changed and where is known.
func generateDiff(base string, matchIndex int, oldText, newText string) (diff string, firstChangedLine int) {
	allLines := strings.Split(base, "\n")
	oldLines := strings.Split(oldText, "\n")
	if len(oldLines) > 0 && oldLines[len(oldLines)-1] == "" {
		oldLines = oldLines[:len(oldLines)-1]
	}
	newLines := strings.Split(newText, "\n")
	if len(newLines) > 0 && newLines[len(newLines)-1] == "" {
		newLines = newLines[:len(newLines)-1]
	}

	startLineIdx := strings.Count(base[:matchIndex], "\n")

	totalLines := len(allLines) + len(newLines) - len(oldLines)
	lineNumWidth := len(fmt.Sprintf("%d", max(len(allLines), totalLines)))
	pad := func(n int) string { return fmt.Sprintf("%*d", lineNumWidth, n) }

	firstChangedLine = startLineIdx + 1

	var sb strings.Builder

	contextStart := max(0, startLineIdx-contextLines)
	if contextStart > 0 {
		fmt.Fprintf(&sb, " %s ...\n", strings.Repeat(" ", lineNumWidth))
	}
	for i := contextStart; i < startLineIdx && i < len(allLines); i++ {
		fmt.Fprintf(&sb, " %s %s\n", pad(i+1), allLines[i])
	}
	for i, line := range oldLines {
		fmt.Fprintf(&sb, "-%s %s\n", pad(startLineIdx+i+1), line)
	}
	for i, line := range newLines {
		fmt.Fprintf(&sb, "+%s %s\n", pad(startLineIdx+i+1), line)
	}

	afterStart := startLineIdx + len(oldLines)
	afterEnd := min(afterStart+contextLines, len(allLines))
	for i := afterStart; i < afterEnd; i++ {
		fmt.Fprintf(&sb, " %s %s\n", pad(i+1), allLines[i])
	}
	if afterEnd < len(allLines) {
		fmt.Fprintf(&sb, " %s ...\n", strings.Repeat(" ", lineNumWidth))
	}

	return strings.TrimRight(sb.String(), "\n"), firstChangedLine
}
