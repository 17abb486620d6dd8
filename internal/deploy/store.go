package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrIllegalTransition is returned by SetStatus when the requested change
// violates the lifecycle state machine. Everything else a store returns is a
// storage failure.
var ErrIllegalTransition = errors.New("illegal status transition")

// Store persists deployments. Delete is logical: implementations flip the
// status to deleted and keep the row.
type Store interface {
	Create(ctx context.Context, dep *Deployment) error
	Get(ctx context.Context, id string) (*Deployment, error)
	List(ctx context.Context, userID string) ([]Deployment, error)
	ListActive(ctx context.Context) ([]Deployment, error)
	SetStatus(ctx context.Context, id, status, errorDetail string) error
}

// MemoryStore is the in-process Store used in tests and DSN-less development.
type MemoryStore struct {
	mu   sync.RWMutex
	deps map[string]*Deployment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deps: make(map[string]*Deployment)}
}

func (s *MemoryStore) Create(ctx context.Context, dep *Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deps[dep.ID]; exists {
		return fmt.Errorf("deployment %s already exists", dep.ID)
	}
	copied := *dep
	s.deps[dep.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dep, ok := s.deps[id]
	if !ok {
		return nil, nil
	}
	copied := *dep
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string) ([]Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Deployment
	for _, dep := range s.deps {
		if dep.UserID != userID || dep.Status == StatusDeleted {
			continue
		}
		results = append(results, *dep)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Deployment
	for _, dep := range s.deps {
		if dep.Status == StatusActive {
			results = append(results, *dep)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id, status, errorDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.deps[id]
	if !ok {
		return fmt.Errorf("deployment %s not found", id)
	}
	if !CanTransition(dep.Status, status) {
		return fmt.Errorf("deployment %s: %w: %s -> %s", id, ErrIllegalTransition, dep.Status, status)
	}
	dep.Status = status
	dep.ErrorDetail = errorDetail
	dep.UpdatedAt = time.Now().UTC()
	return nil
}
