package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Run statuses. pending and running are transient; the rest are terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// Terminal reports whether a run status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Run is one execution record. Output, Stderr, and ErrorDetail are truncated
// by the executor before they reach the ledger, so rows stay bounded.
type Run struct {
	ID           string     `json:"id"`
	DeploymentID string     `json:"deployment_id"`
	UserID       string     `json:"user_id"`
	Trigger      string     `json:"trigger"` // schedule, event, manual
	Function     string     `json:"function"`
	Status       string     `json:"status"`
	Output       string     `json:"output,omitempty"`
	Stderr       string     `json:"stderr,omitempty"`
	ErrorDetail  string     `json:"error,omitempty"`
	ExitCode     int        `json:"exit_code"`
	DurationMS   int64      `json:"duration_ms"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Filter narrows List queries.
type Filter struct {
	DeploymentID string
	UserID       string
	Status       string
	Limit        int
	Offset       int
}

// Store is the append-only run ledger. Records are created in pending,
// advanced to running, then completed exactly once with a terminal status.
// SweepStale reconciles records abandoned by a crashed process: anything
// still pending or running with a StartedAt before cutoff is failed, so no
// run is ever observed in a transient status forever.
type Store interface {
	Create(ctx context.Context, run *Run) error
	MarkRunning(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string, outcome Outcome) error
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, filter Filter) ([]Run, error)
}

// AbandonedDetail is the error recorded on runs failed by SweepStale.
const AbandonedDetail = "run abandoned: process exited before completion"

// Outcome carries the terminal fields written by Complete.
type Outcome struct {
	Status      string
	Output      string
	Stderr      string
	ErrorDetail string
	ExitCode    int
	DurationMS  int64
	CompletedAt time.Time
}

// NewRunID returns a fresh "run_" identifier.
func NewRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("ledger: reading random bytes: %v", err))
	}
	return "run_" + hex.EncodeToString(buf)
}

// NewRun builds a pending record for the given deployment and trigger source.
func NewRun(deploymentID, userID, trigger, function string) *Run {
	return &Run{
		ID:           NewRunID(),
		DeploymentID: deploymentID,
		UserID:       userID,
		Trigger:      trigger,
		Function:     function,
		Status:       StatusPending,
		StartedAt:    time.Now().UTC(),
	}
}
