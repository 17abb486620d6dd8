package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a platform error by who can act on it.
type Kind int

const (
	// KindAgentFixable means the defect is mechanically attributable to the
	// script text (syntax error, unknown SDK method, malformed cron). Surfaced
	// verbatim to the script author, never retried, never an incident.
	KindAgentFixable Kind = iota

	// KindUserConfig means the script is valid but the platform cannot satisfy
	// it for this user (missing credential, quota). Carries an action URL.
	KindUserConfig

	// KindInternal means a platform-side failure. Detail is hidden from the
	// script author and logged with a correlation id; safe to retry.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindAgentFixable:
		return "AgentFixableError"
	case KindUserConfig:
		return "UserFacingConfigError"
	case KindInternal:
		return "InternalError"
	default:
		return "unknown"
	}
}

// Error is the structured error carried across the deploy/validate/execute
// paths. Callers switch on Kind; the API layer maps it to HTTP.
type Error struct {
	Kind          Kind
	Code          string
	Message       string
	Integration   string
	ActionURL     string
	DocsURL       string
	CorrelationID string
	err           error
}

func (e *Error) Error() string {
	if e.Integration != "" {
		return fmt.Sprintf("%s [%s] %s: %s", e.Kind, e.Code, e.Integration, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAgentFixable:
		return http.StatusUnprocessableEntity
	case KindUserConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is what the caller may see. Internal errors never leak detail.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return "internal error"
	}
	return e.Message
}

// AgentFixable builds a script-defect error.
func AgentFixable(code, format string, args ...any) *Error {
	return &Error{Kind: KindAgentFixable, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ConfigError builds a user-remediable configuration error.
func ConfigError(code, integration, format string, args ...any) *Error {
	return &Error{
		Kind:        KindUserConfig,
		Code:        code,
		Integration: integration,
		Message:     fmt.Sprintf(format, args...),
	}
}

// Internal wraps a platform-side failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: "internal error", err: err}
}

// WithAction attaches a remediation URL.
func (e *Error) WithAction(actionURL, docsURL string) *Error {
	e.ActionURL = actionURL
	e.DocsURL = docsURL
	return e
}

// WithCorrelation threads the run/request correlation id through the error.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// AsError extracts a *Error from an error chain, classifying unknown errors
// as internal.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return Internal(err)
}

// IsKind reports whether err is a platform error of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
