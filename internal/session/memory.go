package session

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store. Values are stored encoded so callers never
// share mutable state with the store.
type Memory struct {
	mu   sync.Mutex
	data map[int64][]byte
}

func NewMemory() *Memory { return &Memory{data: map[int64][]byte{}} }

func (m *Memory) Get(ctx context.Context, key int64, v any) error {
	m.mu.Lock()
	b, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	return json.Unmarshal(b, v)
}

func (m *Memory) Put(ctx context.Context, key int64, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key int64) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Len reports how many sessions are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Memory) Close() error { return nil }
