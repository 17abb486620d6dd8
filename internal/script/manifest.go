package script

import (
	"fmt"
	"sort"
)

// TriggerKind is the class of condition that fires a deployed script.
type TriggerKind string

const (
	TriggerSchedule TriggerKind = "schedule"
	TriggerEvent    TriggerKind = "event"
)

// TriggerSpec is one declared trigger: which function runs and under what
// condition. For schedule triggers Config["cron"] holds the 5-field
// expression; for event triggers Config["event"] holds the event kind.
type TriggerSpec struct {
	Kind           TriggerKind       `json:"kind"`
	TargetFunction string            `json:"target_function"`
	Config         map[string]string `json:"config"`
}

// Manifest is the declarative summary of a script: which integrations it
// references and which triggers it requests. Derived by extraction, never
// hand-authored.
type Manifest struct {
	Integrations []string      `json:"integrations"`
	Triggers     []TriggerSpec `json:"triggers"`
}

// HasTarget reports whether any trigger targets the named function.
func (m *Manifest) HasTarget(function string) bool {
	for _, t := range m.Triggers {
		if t.TargetFunction == function {
			return true
		}
	}
	return false
}

// ExtractionError wraps a failure to derive a manifest. The underlying
// message is surfaced verbatim to the script author.
type ExtractionError struct {
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Detail)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Registry collects metadata as module-level statements execute during
// extraction. One fresh instance per Extract call; the SDK builtins close
// over it, so there is no process-wide mutable state.
type Registry struct {
	integrations map[string]struct{}
	triggers     []TriggerSpec
}

func NewRegistry() *Registry {
	return &Registry{integrations: make(map[string]struct{})}
}

// RecordIntegration notes that the script initialized an integration.
func (r *Registry) RecordIntegration(name string) {
	r.integrations[name] = struct{}{}
}

// RecordTrigger notes a trigger registration.
func (r *Registry) RecordTrigger(spec TriggerSpec) {
	r.triggers = append(r.triggers, spec)
}

// Manifest freezes the collected metadata into a Manifest. Integration
// names are sorted and de-duplicated.
func (r *Registry) Manifest() *Manifest {
	names := make([]string, 0, len(r.integrations))
	for name := range r.integrations {
		names = append(names, name)
	}
	sort.Strings(names)

	triggers := make([]TriggerSpec, len(r.triggers))
	copy(triggers, r.triggers)

	return &Manifest{Integrations: names, Triggers: triggers}
}
