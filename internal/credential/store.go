package credential

import (
	"context"
	"sort"
	"sync"
	"time"

	"scriptflow/internal/integration"
)

// Record is a stored credential set for one (user, integration) pair. Field
// values are secret material: they are resolved into the execution
// environment and never echoed through any read API.
type Record struct {
	UserID      string
	Integration string
	Fields      map[string]string
	UpdatedAt   time.Time
}

// Status is the only externally visible projection of a credential record.
type Status struct {
	Integration string    `json:"integration"`
	Configured  bool      `json:"configured"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Store persists per-user, per-integration credentials. Save upserts by
// (user, integration); Save and Delete are idempotent.
type Store interface {
	Save(ctx context.Context, userID, integration string, fields map[string]string) error
	Delete(ctx context.Context, userID, integration string) error
	Has(ctx context.Context, userID, integration string) (bool, error)
	Get(ctx context.Context, userID, integration string) (*Record, error)
	List(ctx context.Context, userID string) ([]Status, error)
}

// Resolver turns stored credentials into the environment map injected into an
// execution. Integrations with no stored record are omitted entirely; the
// executor treats a missing required variable as a failed precondition rather
// than injecting an empty string.
type Resolver struct {
	store    Store
	registry *integration.Registry
}

func NewResolver(store Store, registry *integration.Registry) *Resolver {
	return &Resolver{store: store, registry: registry}
}

// EnvForExecution resolves each requested integration's stored fields to
// their mapped environment variable names. The second return lists the
// integrations that had no stored record.
func (r *Resolver) EnvForExecution(ctx context.Context, userID string, integrations []string) (map[string]string, []string, error) {
	env := make(map[string]string)
	var missing []string

	for _, name := range integrations {
		rec, err := r.store.Get(ctx, userID, name)
		if err != nil {
			return nil, nil, err
		}
		if rec == nil {
			missing = append(missing, name)
			continue
		}

		spec, ok := r.registry.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		mapping := spec.EnvMapping()
		for key, value := range rec.Fields {
			envVar, ok := mapping[key]
			if !ok || value == "" {
				continue
			}
			env[envVar] = value
		}
	}

	sort.Strings(missing)
	return env, missing, nil
}

// MemoryStore is the in-process Store used in tests and DSN-less development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record // userID -> integration -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*Record)}
}

func (s *MemoryStore) Save(ctx context.Context, userID, name string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[userID] == nil {
		s.records[userID] = make(map[string]*Record)
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.records[userID][name] = &Record{
		UserID:      userID,
		Integration: name,
		Fields:      copied,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[userID], name)
	return nil
}

func (s *MemoryStore) Has(ctx context.Context, userID, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[userID][name]
	return ok, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID, name string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID][name]
	if !ok {
		return nil, nil
	}
	fields := make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	out := *rec
	out.Fields = fields
	return &out, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []Status
	for name, rec := range s.records[userID] {
		statuses = append(statuses, Status{Integration: name, Configured: true, UpdatedAt: rec.UpdatedAt})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Integration < statuses[j].Integration })
	return statuses, nil
}
