package cache

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryCounterStore is a process-local CounterStore for development and tests.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[Counter]int64
	hits   map[Counter]float64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counts: make(map[Counter]int64),
		hits:   make(map[Counter]float64),
	}
}

func (s *MemoryCounterStore) Get(_ context.Context, c Counter) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[c]
	return n, ok, nil
}

func (s *MemoryCounterStore) Set(_ context.Context, c Counter, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[c] = n
	return nil
}

func (s *MemoryCounterStore) CondIncr(_ context.Context, c Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.counts[c]; ok {
		s.counts[c] = n + 1
	}
	return nil
}

func (s *MemoryCounterStore) CondDecr(_ context.Context, c Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.counts[c]; ok && n > 0 {
		s.counts[c] = n - 1
	}
	return nil
}

func (s *MemoryCounterStore) RecordAccess(_ context.Context, c Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[c]++
	return nil
}

func (s *MemoryCounterStore) TopHotKeys(_ context.Context, n int64) ([]Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Counter, 0, len(s.hits))
	for c := range s.hits {
		keys = append(keys, c)
	}
	slices.SortFunc(keys, func(a, b Counter) int {
		if d := cmp.Compare(s.hits[b], s.hits[a]); d != 0 {
			return d
		}
		return cmp.Compare(a.String(), b.String())
	})
	if int64(len(keys)) > n {
		keys = keys[:n]
	}
	return keys, nil
}

func (s *MemoryCounterStore) ResetHotKeys(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.hits)
	return nil
}

func (s *MemoryCounterStore) Close() error { return nil }

var _ CounterStore = (*MemoryCounterStore)(nil)
