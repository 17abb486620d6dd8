package gate

import (
	"errors"

	"github.com/rs/zerolog/log"

	"scriptflow/internal/script"
)

// Report is the outcome of running a script through the validation pipeline.
type Report struct {
	Valid    bool
	Issues   []Issue
	Manifest *script.Manifest
}

// BlockingIssues returns the critical/high findings.
func (r *Report) BlockingIssues() []Issue {
	return Blocking(r.Issues)
}

// WarningIssues returns the medium/low findings.
func (r *Report) WarningIssues() []Issue {
	return Warnings(r.Issues)
}

// Pipeline chains the Security Gate, Metadata Extractor, and Correctness
// Gate. Invoked at validate time and again defensively at deploy time.
type Pipeline struct {
	extractor   *script.Extractor
	security    *Security
	correctness *Correctness
}

func NewPipeline(extractor *script.Extractor, security *Security, correctness *Correctness) *Pipeline {
	return &Pipeline{extractor: extractor, security: security, correctness: correctness}
}

// Run validates the script source. Security findings block: a script with a
// critical/high issue is never extracted further nor persisted by callers.
// Correctness findings only warn. Extraction failures are reported as a
// single blocking issue carrying the verbatim error.
func (p *Pipeline) Run(name string, src []byte) *Report {
	file, err := p.extractor.Parse(name, src)
	if err != nil {
		return &Report{Valid: false, Issues: []Issue{extractionIssue(err)}}
	}

	report := &Report{}
	report.Issues = append(report.Issues, p.security.Check(file)...)

	if blocking := report.BlockingIssues(); len(blocking) > 0 {
		log.Warn().
			Str("script", name).
			Int("blocking", len(blocking)).
			Msg("security gate blocked script")
		return report
	}

	manifest, _, err := p.extractor.Extract(name, src)
	if err != nil {
		report.Issues = append(report.Issues, extractionIssue(err))
		return report
	}
	report.Manifest = manifest

	report.Issues = append(report.Issues, p.correctness.Check(file)...)
	report.Valid = true
	return report
}

func extractionIssue(err error) Issue {
	var ee *script.ExtractionError
	msg := err.Error()
	if errors.As(err, &ee) {
		msg = ee.Detail
	}
	return Issue{
		Severity: SeverityHigh,
		Code:     "EXTRACTION_FAILED",
		Message:  msg,
		FixHint:  "Fix the script so its module scope loads cleanly.",
		Line:     1,
	}
}
