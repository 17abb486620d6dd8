package api

import (
	"time"

	"scriptflow/internal/deploy"
	"scriptflow/internal/gate"
	"scriptflow/internal/script"
)

// ValidateRequest submits a script for gate checking without deploying it.
type ValidateRequest struct {
	Name   string `json:"name,omitempty"`
	Script string `json:"script"`
}

// IssueResponse is one gate finding.
type IssueResponse struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	FixHint  string `json:"fix_hint,omitempty"`
	Line     int    `json:"line,omitempty"`
	Col      int    `json:"col,omitempty"`
}

// ValidateResponse reports the gate outcome. Warnings are present even when
// the script is valid.
type ValidateResponse struct {
	Valid    bool             `json:"valid"`
	Issues   []IssueResponse  `json:"issues"`
	Warnings []IssueResponse  `json:"warnings"`
	Manifest *script.Manifest `json:"manifest,omitempty"`
}

// IntegrationsValidateRequest asks whether the named integrations are known
// and configured for the caller.
type IntegrationsValidateRequest struct {
	Integrations []string `json:"integrations"`
}

// IntegrationsValidateResponse reports the answer in the error taxonomy:
// unknown integrations are script defects, unconfigured ones carry a setup
// link the user can act on.
type IntegrationsValidateResponse struct {
	Valid    bool          `json:"valid"`
	Errors   []ErrorDetail `json:"errors"`
	Warnings []ErrorDetail `json:"warnings"`
}

// DeployRequest deploys a script. Name is optional; one is generated when
// absent. Metadata, when present, is cross-checked against the manifest
// extracted from the script text.
type DeployRequest struct {
	Name     string           `json:"name,omitempty"`
	Script   string           `json:"script"`
	Metadata *deploy.Metadata `json:"metadata,omitempty"`
}

// RunSummary is the compact run projection attached to deployment list items.
type RunSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Trigger   string    `json:"trigger"`
	StartedAt time.Time `json:"started_at"`
}

// DeploymentResponse is the API projection of a deployment. Script content
// is returned only on single-deployment reads; LastRun only on lists.
type DeploymentResponse struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Status             string           `json:"status"`
	Error              string           `json:"error,omitempty"`
	ScriptVersion      string           `json:"script_version"`
	TriggersRegistered int              `json:"triggers_registered"`
	Manifest           *script.Manifest `json:"manifest,omitempty"`
	Script             string           `json:"script,omitempty"`
	NextRun            *time.Time       `json:"next_run,omitempty"`
	LastRun            *RunSummary      `json:"last_run,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	Warnings           []IssueResponse  `json:"warnings,omitempty"`
}

// RunResponse is the API projection of a ledger run.
type RunResponse struct {
	ID           string     `json:"id"`
	DeploymentID string     `json:"deployment_id"`
	Trigger      string     `json:"trigger"`
	Function     string     `json:"function"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Stderr       string     `json:"stderr,omitempty"`
	ExitCode     int        `json:"exit_code"`
	DurationMS   int64      `json:"duration_ms"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// FireRequest manually triggers one function of a deployment.
type FireRequest struct {
	Function string `json:"function,omitempty"`
}

// CredentialSaveRequest stores credential fields for one integration.
type CredentialSaveRequest struct {
	Fields map[string]string `json:"fields"`
}

// ErrorDetail is the structured error body. Type carries the error taxonomy
// class so callers can route remediation without parsing messages.
type ErrorDetail struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Integration string `json:"integration,omitempty"`
	ActionURL   string `json:"action_url,omitempty"`
	DocsURL     string `json:"docs_url,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}

func issueResponses(issues []gate.Issue) []IssueResponse {
	out := make([]IssueResponse, 0, len(issues))
	for _, issue := range issues {
		out = append(out, IssueResponse{
			Severity: issue.Severity.String(),
			Code:     issue.Code,
			Message:  issue.Message,
			FixHint:  issue.FixHint,
			Line:     issue.Line,
			Col:      issue.Col,
		})
	}
	return out
}
