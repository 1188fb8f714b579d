package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local tooling.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job

	// Now is swappable so tests can control UpdatedAt.
	Now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), Now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, upd Update) (*Job, error) {
	return s.update(id, nil, upd)
}

func (s *MemoryStore) Transition(ctx context.Context, id string, expect Status, upd Update) (*Job, error) {
	return s.update(id, &expect, upd)
}

func (s *MemoryStore) update(id string, expect *Status, upd Update) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if expect != nil && j.Status != *expect {
		return nil, ErrStatusConflict
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.Source != nil {
		j.Source = *upd.Source
	}
	if upd.CachedSourceText != nil {
		j.CachedSourceText = *upd.CachedSourceText
	}
	if upd.AccumulatedOutput != nil {
		j.AccumulatedOutput = *upd.AccumulatedOutput
	}
	if upd.ErrorMessage != nil {
		j.ErrorMessage = *upd.ErrorMessage
	}
	j.UpdatedAt = s.Now().UTC()
	cp := *j
	return &cp, nil
}

// SetUpdatedAt backdates a job's UpdatedAt; test helper for staleness cases.
func (s *MemoryStore) SetUpdatedAt(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.UpdatedAt = t
	}
}

// Verify interface
var _ Store = (*MemoryStore)(nil)
