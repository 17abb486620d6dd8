package deploy

import "time"

// Event kinds recorded on the audit trail.
const (
	EventDeployed = "deployed"
	EventPaused   = "paused"
	EventResumed  = "resumed"
	EventDeleted  = "deleted"
	EventErrored  = "errored"
)

// Event is one lifecycle change of a deployment, recorded for audit.
type Event struct {
	DeploymentID string    `json:"deployment_id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// EventSink receives lifecycle events. Record must not block; sinks buffer
// and drop under pressure rather than stalling the request path.
type EventSink interface {
	Record(Event)
}
