package gate

// Severity ranks a validation finding. Critical and high findings block;
// medium and low warn.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Blocking reports whether a finding at this severity stops the pipeline.
func (s Severity) Blocking() bool {
	return s >= SeverityHigh
}

// Issue is one validation finding. Ephemeral: produced by a validation call,
// echoed to the caller, never persisted as platform state.
type Issue struct {
	Severity Severity `json:"-"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	FixHint  string   `json:"fix_hint,omitempty"`
	Line     int      `json:"line"`
	Col      int      `json:"col"`
}

// Blocking filters the issues that stop a deploy.
func Blocking(issues []Issue) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Severity.Blocking() {
			out = append(out, i)
		}
	}
	return out
}

// Warnings filters the non-blocking issues.
func Warnings(issues []Issue) []Issue {
	var out []Issue
	for _, i := range issues {
		if !i.Severity.Blocking() {
			out = append(out, i)
		}
	}
	return out
}
