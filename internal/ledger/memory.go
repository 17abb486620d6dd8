package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps runs in process memory. It backs tests and DSN-less
// development; the postgres store is the durable implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (s *MemoryStore) Create(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already recorded", run.ID)
	}
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *MemoryStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	if run.Status != StatusPending {
		return fmt.Errorf("run %s is %s, cannot mark running", id, run.Status)
	}
	run.Status = StatusRunning
	run.StartedAt = at
	return nil
}

func (s *MemoryStore) Complete(ctx context.Context, id string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	if Terminal(run.Status) {
		return fmt.Errorf("run %s already terminal (%s)", id, run.Status)
	}
	if !Terminal(outcome.Status) {
		return fmt.Errorf("completing run %s with non-terminal status %q", id, outcome.Status)
	}
	run.Status = outcome.Status
	run.Output = outcome.Output
	run.Stderr = outcome.Stderr
	run.ErrorDetail = outcome.ErrorDetail
	run.ExitCode = outcome.ExitCode
	run.DurationMS = outcome.DurationMS
	completed := outcome.CompletedAt
	run.CompletedAt = &completed
	return nil
}

func (s *MemoryStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for _, run := range s.runs {
		if Terminal(run.Status) || !run.StartedAt.Before(cutoff) {
			continue
		}
		completed := time.Now().UTC()
		run.Status = StatusFailed
		run.ErrorDetail = AbandonedDetail
		run.ExitCode = -1
		run.CompletedAt = &completed
		swept++
	}
	return swept, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Run
	for _, run := range s.runs {
		if filter.DeploymentID != "" && run.DeploymentID != filter.DeploymentID {
			continue
		}
		if filter.UserID != "" && run.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		results = append(results, *run)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if filter.Offset >= len(results) {
		return nil, nil
	}
	results = results[filter.Offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
