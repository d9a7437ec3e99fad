// Package policy defines the tool-policy hook the execution gate consults
// before and after each tool call, and a rule-set implementation of it.
package policy

import "github.com/tern-dev/tern/pkg/tools"

// Severity grades a finding.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Finding is one policy observation about a tool call.
type Finding struct {
	// Policy names the rule that fired, e.g. "tool_denylist".
	Policy   string
	Severity Severity
	Message  string
}

// Mode controls how findings are acted on.
//
// In ModeOff hooks are not consulted at all. In ModeLogOnly every block
// finding is downgraded to warn, so nothing is ever prevented. ModeEnforce
// acts on findings as reported.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeLogOnly Mode = "log_only"
	ModeEnforce Mode = "enforce"
)

// ParseMode normalises a mode string; unknown values fall back to ModeOff.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeLogOnly, ModeEnforce:
		return Mode(s)
	default:
		return ModeOff
	}
}

// Hook is the policy contract. The gate calls Pre before execution and Post
// after. Implementations must not panic; a panicking hook is treated as a
// hook returning no findings.
type Hook interface {
	// Pre inspects a call before it runs. A block finding (under
	// ModeEnforce) prevents execution.
	Pre(tool string, args map[string]any) []Finding

	// Post inspects and may rewrite the result, e.g. replacing oversized
	// output with a truncation marker.
	Post(tool string, args map[string]any, result tools.Result) (tools.Result, []Finding)
}

// Apply downgrades findings according to mode. In ModeLogOnly every block
// becomes a warn. ModeOff returns nil.
func Apply(mode Mode, findings []Finding) []Finding {
	switch mode {
	case ModeOff:
		return nil
	case ModeLogOnly:
		out := make([]Finding, len(findings))
		for i, f := range findings {
			if f.Severity == SeverityBlock {
				f.Severity = SeverityWarn
			}
			out[i] = f
		}
		return out
	default:
		return findings
	}
}

// Blocked reports whether any finding carries block severity.
func Blocked(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
