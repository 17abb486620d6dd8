package script

import (
	"errors"
	"strings"
	"testing"

	"scriptflow/internal/integration"
)

const dailyReportScript = `
slack = integrations.slack.init()

def daily_report():
    slack.send("#general", "morning report")

on_schedule("0 9 * * *", daily_report)
`

func newExtractor() *Extractor {
	return NewExtractor(integration.NewRegistry())
}

func TestExtract(t *testing.T) {
	m, globals, err := newExtractor().Extract("daily.star", []byte(dailyReportScript))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(m.Integrations) != 1 || m.Integrations[0] != "slack" {
		t.Errorf("Integrations = %v, want [slack]", m.Integrations)
	}
	if len(m.Triggers) != 1 {
		t.Fatalf("Triggers = %v, want one schedule trigger", m.Triggers)
	}
	trig := m.Triggers[0]
	if trig.Kind != TriggerSchedule {
		t.Errorf("Kind = %q, want schedule", trig.Kind)
	}
	if trig.TargetFunction != "daily_report" {
		t.Errorf("TargetFunction = %q, want daily_report", trig.TargetFunction)
	}
	if trig.Config["cron"] != "0 9 * * *" {
		t.Errorf("cron = %q", trig.Config["cron"])
	}
	if _, ok := globals["daily_report"]; !ok {
		t.Error("globals missing daily_report")
	}
}

func TestExtract_Idempotent(t *testing.T) {
	e := newExtractor()
	m1, _, err := e.Extract("s.star", []byte(dailyReportScript))
	if err != nil {
		t.Fatal(err)
	}
	m2, _, err := e.Extract("s.star", []byte(dailyReportScript))
	if err != nil {
		t.Fatal(err)
	}
	if len(m1.Integrations) != len(m2.Integrations) || len(m1.Triggers) != len(m2.Triggers) {
		t.Errorf("extraction not idempotent: %v vs %v", m1, m2)
	}
}

func TestExtract_DedupesIntegrations(t *testing.T) {
	src := `
a = integrations.gmail.init()
b = integrations.gmail.init()
c = integrations.slack.init()
`
	m, _, err := newExtractor().Extract("s.star", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"gmail", "slack"}
	if len(m.Integrations) != 2 || m.Integrations[0] != want[0] || m.Integrations[1] != want[1] {
		t.Errorf("Integrations = %v, want %v (sorted, unique)", m.Integrations, want)
	}
}

func TestExtract_EventTrigger(t *testing.T) {
	src := `
def on_mail(payload):
    pass

on_event("email.received", on_mail)
`
	m, _, err := newExtractor().Extract("s.star", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Triggers) != 1 || m.Triggers[0].Kind != TriggerEvent {
		t.Fatalf("Triggers = %v", m.Triggers)
	}
	if m.Triggers[0].Config["event"] != "email.received" {
		t.Errorf("event = %q", m.Triggers[0].Config["event"])
	}
}

func TestExtract_SyntaxErrorSurfacedVerbatim(t *testing.T) {
	_, _, err := newExtractor().Extract("bad.star", []byte("def broken(:\n    pass\n"))
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("want ExtractionError, got %v", err)
	}
	if ee.Detail == "" {
		t.Error("ExtractionError lost the parser message")
	}
}

func TestExtract_ModuleLevelError(t *testing.T) {
	_, _, err := newExtractor().Extract("bad.star", []byte("x = undefined_name\n"))
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("want ExtractionError, got %v", err)
	}
	if !strings.Contains(ee.Detail, "undefined_name") {
		t.Errorf("Detail = %q, want the offending name", ee.Detail)
	}
}

func TestExtract_InvalidCronRejected(t *testing.T) {
	src := `
def job():
    pass

on_schedule("every day at nine", job)
`
	_, _, err := newExtractor().Extract("s.star", []byte(src))
	if err == nil {
		t.Fatal("invalid cron expression accepted")
	}
}

func TestExtract_FunctionBodiesNeverRun(t *testing.T) {
	// fail() inside a function body must not execute during extraction.
	src := `
def never_called():
    fail("function body executed during extraction")

on_schedule("*/5 * * * *", never_called)
`
	m, _, err := newExtractor().Extract("s.star", []byte(src))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(m.Triggers) != 1 {
		t.Errorf("Triggers = %v", m.Triggers)
	}
}

func TestExtract_RunawayModuleLoop(t *testing.T) {
	src := `
x = 0
while True:
    x += 1
`
	_, _, err := newExtractor().Extract("loop.star", []byte(src))
	if err == nil {
		t.Fatal("unbounded module-level loop should fail extraction")
	}
}

func TestExtract_EmptyManifest(t *testing.T) {
	m, _, err := newExtractor().Extract("empty.star", []byte("x = 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Integrations) != 0 || len(m.Triggers) != 0 {
		t.Errorf("want empty manifest, got %+v", m)
	}
}

func TestAIMethodsIntrospection(t *testing.T) {
	sdk := NewSDK(NewRegistry(), integration.NewRegistry())
	methods := sdk.AIMethods()
	if len(methods) == 0 {
		t.Fatal("no ai methods introspected")
	}
	found := false
	for _, m := range methods {
		if m == "summarize" {
			found = true
		}
	}
	if !found {
		t.Errorf("summarize missing from surface: %v", methods)
	}
}
