package policy

import (
	"strings"
	"testing"

	"github.com/tern-dev/tern/pkg/tools"
)

func TestRuleSetDeny(t *testing.T) {
	rs := &RuleSet{Deny: []string{"bash"}}

	findings := rs.Pre("bash", nil)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].Severity != SeverityBlock || findings[0].Policy != "tool_denylist" {
		t.Errorf("unexpected finding: %+v", findings[0])
	}
	if fs := rs.Pre("read_file", nil); fs != nil {
		t.Errorf("read_file should pass, got %+v", fs)
	}
}

func TestRuleSetAllow(t *testing.T) {
	rs := &RuleSet{Allow: []string{"read_file", "list_dir"}}

	if fs := rs.Pre("read_file", nil); fs != nil {
		t.Errorf("allowed tool blocked: %+v", fs)
	}
	fs := rs.Pre("write_file", nil)
	if !Blocked(fs) {
		t.Errorf("write_file should be blocked by allow list")
	}
}

func TestDenyWinsOverAllow(t *testing.T) {
	rs := &RuleSet{Allow: []string{"bash"}, Deny: []string{"bash"}}
	if !Blocked(rs.Pre("bash", nil)) {
		t.Errorf("deny should win over allow")
	}
}

func TestOutputCap(t *testing.T) {
	rs := &RuleSet{MaxOutputBytes: 10}

	small := tools.Text("short")
	got, fs := rs.Post("bash", nil, small)
	if got.Output != "short" || len(fs) != 0 {
		t.Errorf("small output should pass untouched: %+v %+v", got, fs)
	}

	big := tools.Text(strings.Repeat("x", 100))
	got, fs = rs.Post("bash", nil, big)
	if got.Output != `{"truncated": true, "bytes": 100}` {
		t.Errorf("unexpected replaced output: %q", got.Output)
	}
	if len(fs) != 1 || fs[0].Severity != SeverityWarn {
		t.Errorf("expected one warn finding, got %+v", fs)
	}
}

func TestApplyModes(t *testing.T) {
	in := []Finding{
		{Policy: "p1", Severity: SeverityBlock},
		{Policy: "p2", Severity: SeverityWarn},
	}

	if got := Apply(ModeOff, in); got != nil {
		t.Errorf("ModeOff should drop findings, got %+v", got)
	}

	got := Apply(ModeLogOnly, in)
	if Blocked(got) {
		t.Errorf("ModeLogOnly should downgrade blocks: %+v", got)
	}
	if len(got) != 2 || got[0].Policy != "p1" {
		t.Errorf("downgrade should preserve findings: %+v", got)
	}
	// The input must not be mutated.
	if in[0].Severity != SeverityBlock {
		t.Errorf("Apply mutated its input")
	}

	if got := Apply(ModeEnforce, in); !Blocked(got) {
		t.Errorf("ModeEnforce should keep blocks")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"off":      ModeOff,
		"log_only": ModeLogOnly,
		"enforce":  ModeEnforce,
		"bogus":    ModeOff,
		"":         ModeOff,
	}
	for in, want := range cases {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

type panicHook struct{}

func (panicHook) Pre(string, map[string]any) []Finding { panic("boom") }
func (panicHook) Post(string, map[string]any, tools.Result) (tools.Result, []Finding) {
	panic("boom")
}

func TestChainSurvivesPanickingHook(t *testing.T) {
	c := Chain{panicHook{}, &RuleSet{Deny: []string{"bash"}}}

	fs := c.Pre("bash", nil)
	if !Blocked(fs) {
		t.Errorf("chain should still report the rule-set finding: %+v", fs)
	}

	in := tools.Text("hello")
	got, fs := c.Post("bash", nil, in)
	if got.Output != "hello" || len(fs) != 0 {
		t.Errorf("panicking post should leave result untouched: %+v %+v", got, fs)
	}
}
