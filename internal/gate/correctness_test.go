package gate

import (
	"strings"
	"testing"

	"scriptflow/internal/integration"
	"scriptflow/internal/script"
)

func newCorrectness() *Correctness {
	sdk := script.NewSDK(script.NewRegistry(), integration.NewRegistry())
	return NewCorrectness(sdk)
}

func checkCorrectness(t *testing.T, src string) []Issue {
	t.Helper()
	file, err := script.FileOptions.Parse("t.star", []byte(src), 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return newCorrectness().Check(file)
}

func TestUnknownAIMethod(t *testing.T) {
	issues := checkCorrectness(t, `x = ai.sumarize("text")`)
	if len(issues) != 1 {
		t.Fatalf("issues = %+v, want one", issues)
	}
	issue := issues[0]
	if issue.Code != "UNKNOWN_AI_METHOD" {
		t.Errorf("Code = %q", issue.Code)
	}
	if issue.Severity != SeverityMedium {
		t.Errorf("Severity = %s, want medium (non-blocking)", issue.Severity)
	}
	if !strings.Contains(issue.FixHint, "ai.summarize") {
		t.Errorf("FixHint = %q, want suggestion ai.summarize", issue.FixHint)
	}
}

func TestKnownAIMethodClean(t *testing.T) {
	issues := checkCorrectness(t, `x = ai.summarize("text")`)
	if len(issues) != 0 {
		t.Errorf("valid method flagged: %+v", issues)
	}
}

func TestUnknownIntegrationSuggestion(t *testing.T) {
	issues := checkCorrectness(t, `g = integrations.gmial.init()`)
	found := false
	for _, issue := range issues {
		if issue.Code == "UNKNOWN_INTEGRATION" {
			found = true
			if !strings.Contains(issue.FixHint, "integrations.gmail") {
				t.Errorf("FixHint = %q, want gmail suggestion", issue.FixHint)
			}
		}
	}
	if !found {
		t.Errorf("UNKNOWN_INTEGRATION not raised: %+v", issues)
	}
}

func TestNoSuggestionBeyondCutoff(t *testing.T) {
	issues := checkCorrectness(t, `x = ai.zzzzzzzzzzzz("text")`)
	if len(issues) != 1 {
		t.Fatalf("issues = %+v", issues)
	}
	if strings.Contains(issues[0].FixHint, "Did you mean") {
		t.Errorf("suggestion offered for a hopeless name: %q", issues[0].FixHint)
	}
	if !strings.Contains(issues[0].FixHint, "Valid names") {
		t.Errorf("FixHint should list valid names, got %q", issues[0].FixHint)
	}
}

func TestIntegrationInitInsideFunction(t *testing.T) {
	src := `
def handler():
    g = integrations.gmail.init()
    g.send("x")
`
	issues := checkCorrectness(t, src)
	found := false
	for _, issue := range issues {
		if issue.Code == "INTEGRATION_IN_FUNCTION" {
			found = true
			if issue.Severity.Blocking() {
				t.Error("INTEGRATION_IN_FUNCTION must warn, not block")
			}
		}
	}
	if !found {
		t.Errorf("init inside function not flagged: %+v", issues)
	}
}

func TestModuleLevelInitClean(t *testing.T) {
	src := `
g = integrations.gmail.init()

def handler():
    g.send("x")
`
	for _, issue := range checkCorrectness(t, src) {
		if issue.Code == "INTEGRATION_IN_FUNCTION" {
			t.Errorf("module-level init flagged: %+v", issue)
		}
	}
}

func TestSuggestRoundTrip(t *testing.T) {
	// Typos within the cutoff must round-trip to the exact registered name.
	names := integration.NewRegistry().Names()
	tests := map[string]string{
		"gmial":   "gmail",
		"slak":    "slack",
		"discrod": "discord",
		"dcs":     "docs",
	}
	for typo, want := range tests {
		if got := Suggest(typo, names); got != want {
			t.Errorf("Suggest(%q) = %q, want %q", typo, got, want)
		}
	}
	if got := Suggest("qqqqqqqq", names); got != "" {
		t.Errorf("Suggest far name = %q, want empty", got)
	}
}
