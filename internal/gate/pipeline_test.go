package gate

import (
	"testing"

	"scriptflow/internal/integration"
	"scriptflow/internal/script"
)

func newPipeline() *Pipeline {
	integrations := integration.NewRegistry()
	extractor := script.NewExtractor(integrations)
	sdk := script.NewSDK(script.NewRegistry(), integrations)
	return NewPipeline(extractor, NewSecurity(nil), NewCorrectness(sdk))
}

func TestPipeline_ValidScript(t *testing.T) {
	report := newPipeline().Run("ok.star", []byte(`
slack = integrations.slack.init()

def report():
    slack.send("#general", "hi")

on_schedule("0 9 * * *", report)
`))
	if !report.Valid {
		t.Fatalf("valid script rejected: %+v", report.Issues)
	}
	if report.Manifest == nil || len(report.Manifest.Triggers) != 1 {
		t.Errorf("manifest = %+v", report.Manifest)
	}
}

func TestPipeline_SecurityBlocksBeforeExtraction(t *testing.T) {
	report := newPipeline().Run("evil.star", []byte(`
load("os", "system")
x = undefined_would_fail_extraction
`))
	if report.Valid {
		t.Fatal("denied import passed the pipeline")
	}
	// The security gate runs on the parse tree; extraction is never reached,
	// so the only issues are the security findings.
	for _, issue := range report.Issues {
		if issue.Code == "EXTRACTION_FAILED" {
			t.Error("extraction ran despite a blocking security finding")
		}
	}
	if report.Manifest != nil {
		t.Error("manifest produced for a blocked script")
	}
}

func TestPipeline_SyntaxError(t *testing.T) {
	report := newPipeline().Run("bad.star", []byte("def broken(:\n"))
	if report.Valid {
		t.Fatal("syntax error accepted")
	}
	if len(report.Issues) != 1 || report.Issues[0].Code != "EXTRACTION_FAILED" {
		t.Errorf("issues = %+v", report.Issues)
	}
}

func TestPipeline_WarningsDoNotBlock(t *testing.T) {
	report := newPipeline().Run("warn.star", []byte(`
def handler():
    g = integrations.gmail.init()

x = 1
`))
	if !report.Valid {
		t.Fatalf("warnings must not block: %+v", report.Issues)
	}
	if len(report.WarningIssues()) == 0 {
		t.Error("expected INTEGRATION_IN_FUNCTION warning")
	}
	if len(report.BlockingIssues()) != 0 {
		t.Errorf("unexpected blocking issues: %+v", report.BlockingIssues())
	}
}

func TestPipeline_EmptyScript(t *testing.T) {
	report := newPipeline().Run("empty.star", []byte(""))
	if !report.Valid {
		t.Fatalf("empty script rejected: %+v", report.Issues)
	}
	if len(report.Manifest.Integrations) != 0 || len(report.Manifest.Triggers) != 0 {
		t.Errorf("manifest = %+v, want empty", report.Manifest)
	}
}
