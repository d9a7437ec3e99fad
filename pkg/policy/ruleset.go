package policy

import (
	"fmt"

	"github.com/tern-dev/tern/pkg/tools"
)

// RuleSet is the built-in Hook: tool-name allow/deny lists plus a result size
// cap. The zero value permits everything.
type RuleSet struct {
	// Deny blocks the named tools. Deny wins over Allow.
	Deny []string

	// Allow, when non-empty, blocks every tool not on the list.
	Allow []string

	// MaxOutputBytes caps result output. Oversized outputs are replaced with
	// a truncation marker by Post. Zero means no cap.
	MaxOutputBytes int
}

var _ Hook = (*RuleSet)(nil)

// Pre applies the allow/deny lists.
func (r *RuleSet) Pre(tool string, args map[string]any) []Finding {
	for _, name := range r.Deny {
		if name == tool {
			return []Finding{{
				Policy:   "tool_denylist",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("tool %q is denied by policy", tool),
			}}
		}
	}
	if len(r.Allow) > 0 {
		for _, name := range r.Allow {
			if name == tool {
				return nil
			}
		}
		return []Finding{{
			Policy:   "tool_allowlist",
			Severity: SeverityBlock,
			Message:  fmt.Sprintf("tool %q is not on the allow list", tool),
		}}
	}
	return nil
}

// Post enforces MaxOutputBytes. An oversized output is replaced wholesale
// with a JSON marker recording the original size, so the model learns the
// call succeeded but produced more than policy permits.
func (r *RuleSet) Post(tool string, args map[string]any, result tools.Result) (tools.Result, []Finding) {
	if r.MaxOutputBytes <= 0 || len(result.Output) <= r.MaxOutputBytes {
		return result, nil
	}
	n := len(result.Output)
	result.Output = fmt.Sprintf(`{"truncated": true, "bytes": %d}`, n)
	return result, []Finding{{
		Policy:   "output_cap",
		Severity: SeverityWarn,
		Message:  fmt.Sprintf("tool %q output of %d bytes exceeds cap of %d", tool, n, r.MaxOutputBytes),
	}}
}

// Chain composes hooks. Pre findings accumulate across all hooks; Post
// threads the result through each hook in order.
type Chain []Hook

var _ Hook = (Chain)(nil)

func (c Chain) Pre(tool string, args map[string]any) []Finding {
	var out []Finding
	for _, h := range c {
		out = append(out, safePre(h, tool, args)...)
	}
	return out
}

func (c Chain) Post(tool string, args map[string]any, result tools.Result) (tools.Result, []Finding) {
	var out []Finding
	for _, h := range c {
		var fs []Finding
		result, fs = safePost(h, tool, args, result)
		out = append(out, fs...)
	}
	return result, out
}

// safePre and safePost isolate hook panics; a panicking hook contributes no
// findings and leaves the result untouched.
func safePre(h Hook, tool string, args map[string]any) (out []Finding) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	return h.Pre(tool, args)
}

func safePost(h Hook, tool string, args map[string]any, result tools.Result) (out tools.Result, fs []Finding) {
	defer func() {
		if recover() != nil {
			out, fs = result, nil
		}
	}()
	return h.Post(tool, args, result)
}
