package storage

import (
	"context"
	"slices"
	"sync"
)

// Memory is a process-local Store. The zero value is not usable; use NewMemory.
type Memory struct {
	mu    sync.Mutex
	ids   []int64
	saved bool
	saves int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadDestinations(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return nil, ErrNotFound
	}
	return slices.Clone(m.ids), nil
}

func (m *Memory) SaveDestinations(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = slices.Clone(ids)
	m.saved = true
	m.saves++
	return nil
}

// Saves reports how many times SaveDestinations ran.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
