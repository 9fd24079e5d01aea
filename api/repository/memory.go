package repository

import (
	"context"
	"sync"
	"time"

	"plateCover/api/models"
)

type memoryEntry struct {
	status    models.TaskStatus
	results   []models.ResultFile
	expiresAt time.Time
}

type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*memoryEntry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*memoryEntry),
		now:   time.Now,
	}
}

// live returns the entry for id if it exists and has not expired. Caller holds mu.
func (s *MemoryStore) live(id string) (*memoryEntry, bool) {
	e, ok := s.tasks[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Create(ctx context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(id); ok {
		return ErrTaskAlreadyExists
	}
	s.tasks[id] = &memoryEntry{
		status:    models.StatusPending,
		results:   []models.ResultFile{},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Set(ctx context.Context, id string, status models.TaskStatus, results []models.ResultFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok {
		return ErrTaskNotFound
	}
	if !e.status.CanTransitionTo(status) {
		return ErrInvalidTransition
	}
	e.status = status
	e.results = copyResults(results)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &models.Task{
		ID:      id,
		Status:  e.status,
		Results: copyResults(e.results),
	}, nil
}

func (s *MemoryStore) SetExpiry(ctx context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok {
		return ErrTaskNotFound
	}
	e.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for id, e := range s.tasks {
		if !now.Before(e.expiresAt) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}
