package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned for operations against an unknown case id.
var ErrNotFound = errors.New("case not found")

// ErrExists is returned when creating a case whose id is already taken.
var ErrExists = errors.New("case already exists")

// MemoryStore keeps cases for the lifetime of the process. Records are copied on the
// way in and out so no caller ever holds a reference into the map.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]Case
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]Case)}
}

func (s *MemoryStore) Create(_ context.Context, c Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[c.ID]; ok {
		return ErrExists
	}
	s.cases[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, ErrNotFound
	}
	return c.Clone(), nil
}

// Update runs mutate against the latest record under the write lock. The record is only
// replaced when mutate returns nil.
func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*Case) error) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.cases[id]
	if !ok {
		return Case{}, ErrNotFound
	}
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return Case{}, err
	}
	next.ID = id
	s.cases[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[id]; !ok {
		return ErrNotFound
	}
	delete(s.cases, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Case, error) {
	s.mu.RLock()
	items := make([]Case, 0, len(s.cases))
	for _, c := range s.cases {
		items = append(items, c.Clone())
	}
	s.mu.RUnlock()
	sortNewestFirst(items)
	return items, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func sortNewestFirst(items []Case) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
