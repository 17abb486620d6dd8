package deploy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"scriptflow/internal/script"
)

// Deployment statuses. deleted is logical and terminal; rows are never
// physically removed so the run ledger keeps its foreign history.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusPaused  = "paused"
	StatusError   = "error"
	StatusDeleted = "deleted"
)

// Deployment is a validated script bound to an owner, its extracted
// manifest, and a lifecycle status.
type Deployment struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Name          string          `json:"name"`
	ScriptContent string          `json:"-"`
	ScriptVersion string          `json:"script_version"`
	Manifest      script.Manifest `json:"manifest"`
	Status        string          `json:"status"`
	ErrorDetail   string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Runnable reports whether the deployment may produce new runs.
func (d *Deployment) Runnable() bool {
	return d.Status == StatusActive
}

// NewDeploymentID returns a fresh "dep_" identifier.
func NewDeploymentID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("deploy: reading random bytes: %v", err))
	}
	return "dep_" + hex.EncodeToString(buf)
}

// GenerateName produces the default deployment name when the caller
// supplies none, e.g. deployment_20260828_153000.
func GenerateName(now time.Time) string {
	return "deployment_" + now.UTC().Format("20060102_150405")
}

// VersionOf returns the content version of a script: the first 12 hex
// characters of its SHA-256. Scripts are immutable once deployed, so the
// version identifies the exact text a run executed.
func VersionOf(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])[:12]
}

// validTransitions encodes the lifecycle state machine.
var validTransitions = map[string][]string{
	StatusPending: {StatusActive, StatusError, StatusDeleted},
	StatusActive:  {StatusPaused, StatusError, StatusDeleted},
	StatusPaused:  {StatusActive, StatusError, StatusDeleted},
	StatusError:   {StatusActive, StatusDeleted},
	StatusDeleted: nil,
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
