package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

// RunStore provides an in-memory run ledger.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]stager.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]stager.Run)}
}

// SaveRun inserts or replaces the run.
func (s *RunStore) SaveRun(_ context.Context, run stager.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.Finished != nil {
		finished := *run.Finished
		run.Finished = &finished
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (stager.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return stager.Run{}, fmt.Errorf("get run %s: %w", id, stager.ErrRunNotFound)
	}
	return run, nil
}
