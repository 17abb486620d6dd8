package gate

import (
	"testing"

	"scriptflow/internal/script"
)

func parse(t *testing.T, src string) *securityFixture {
	t.Helper()
	file, err := script.FileOptions.Parse("test.star", []byte(src), 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return &securityFixture{t: t, issues: NewSecurity(nil).Check(file)}
}

type securityFixture struct {
	t      *testing.T
	issues []Issue
}

func (f *securityFixture) wantCode(code string) {
	f.t.Helper()
	for _, issue := range f.issues {
		if issue.Code == code {
			return
		}
	}
	f.t.Errorf("code %q not found in issues: %+v", code, f.issues)
}

func TestSecurityGate(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantCode string
	}{
		{"load os", `load("os", "system")`, "DENIED_IMPORT"},
		{"load subprocess", `load("subprocess", "run")`, "DENIED_IMPORT"},
		{"load socket", `load("socket", "socket")`, "DENIED_IMPORT"},
		{"eval call", `x = eval("1+1")`, "DYNAMIC_EVAL"},
		{"exec call", `exec("print(1)")`, "DYNAMIC_EVAL"},
		{"compile call", `c = compile("x", "f", "eval")`, "DYNAMIC_EVAL"},
		{"dunder import", `m = __import__("os")`, "DYNAMIC_IMPORT"},
		{"os dotted call", `os.system("rm -rf /")`, "DENIED_MODULE_CALL"},
		{"subprocess dotted call", `subprocess.run(["ls"])`, "DENIED_MODULE_CALL"},
		{"open for write", `f = open("/tmp/x", "w")`, "FILE_WRITE"},
		{"open append kwarg", `f = open("/tmp/x", mode="a")`, "FILE_WRITE"},
		{"bare open", `data = open("/etc/passwd")`, "FILE_ACCESS"},
		{"write_file", `write_file("/tmp/x", "data")`, "FILE_WRITE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parse(t, tt.src).wantCode(tt.wantCode)
		})
	}
}

func TestSecurityGate_CleanScript(t *testing.T) {
	src := `
slack = integrations.slack.init()

def report():
    slack.send("#general", ai.summarize("..."))

on_schedule("0 9 * * *", report)
`
	f := parse(t, src)
	if len(f.issues) != 0 {
		t.Errorf("clean script flagged: %+v", f.issues)
	}
}

func TestSecurityGate_InsideFunctionBody(t *testing.T) {
	// Structural matching must reach into function bodies even though the
	// extractor never executes them.
	src := `
def sneaky():
    exec("anything")
`
	parse(t, src).wantCode("DYNAMIC_EVAL")
}

func TestSecurityGate_AllIssuesReturned(t *testing.T) {
	src := `
load("os", "system")
eval("x")
open("/tmp/f", "w")
`
	f := parse(t, src)
	if len(f.issues) < 3 {
		t.Errorf("want all findings in one pass, got %d: %+v", len(f.issues), f.issues)
	}
}

func TestSecurityGate_BlockingSeverities(t *testing.T) {
	f := parse(t, `eval("x")`)
	blocking := Blocking(f.issues)
	if len(blocking) == 0 {
		t.Fatal("eval finding must block")
	}
	if blocking[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", blocking[0].Severity)
	}
}

func TestSecurityGate_CustomRuleSet(t *testing.T) {
	rules := []SecurityRule{
		{RuleCall, "forbidden", SeverityHigh, "CUSTOM_RULE", "custom denied call"},
	}
	file, err := script.FileOptions.Parse("t.star", []byte(`forbidden()`), 0)
	if err != nil {
		t.Fatal(err)
	}
	issues := NewSecurity(rules).Check(file)
	if len(issues) != 1 || issues[0].Code != "CUSTOM_RULE" {
		t.Errorf("custom rule not applied: %+v", issues)
	}
}
