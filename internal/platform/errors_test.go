package platform

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindAgentFixable, "AgentFixableError"},
		{KindUserConfig, "UserFacingConfigError"},
		{KindInternal, "InternalError"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{AgentFixable("INVALID_CRON_EXPRESSION", "bad cron"), http.StatusUnprocessableEntity},
		{ConfigError("INTEGRATION_NOT_CONFIGURED", "gmail", "not configured"), http.StatusBadRequest},
		{Internal(errors.New("db down")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.want {
			t.Errorf("%s: HTTPStatus() = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestInternalHidesDetail(t *testing.T) {
	err := Internal(errors.New("pgx: connection refused on 10.0.0.5"))
	if msg := err.PublicMessage(); msg != "internal error" {
		t.Errorf("PublicMessage() = %q, leaked internal detail", msg)
	}
	if !errors.Is(err, err.Unwrap()) && err.Unwrap() == nil {
		t.Error("Unwrap() lost the cause")
	}
}

func TestAsError(t *testing.T) {
	orig := ConfigError("QUOTA_EXCEEDED", "slack", "quota exceeded").WithAction("https://example.com/billing", "")
	wrapped := fmt.Errorf("deploy: %w", orig)

	got := AsError(wrapped)
	if got.Code != "QUOTA_EXCEEDED" || got.ActionURL != "https://example.com/billing" {
		t.Errorf("AsError lost fields: %+v", got)
	}

	unknown := AsError(errors.New("boom"))
	if unknown.Kind != KindInternal {
		t.Errorf("unknown error classified as %s, want InternalError", unknown.Kind)
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", AgentFixable("UNKNOWN_AI_METHOD", "no such method"))
	if !IsKind(err, KindAgentFixable) {
		t.Error("IsKind failed to match through wrapping")
	}
	if IsKind(err, KindInternal) {
		t.Error("IsKind matched the wrong kind")
	}
}
