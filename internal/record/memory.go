package record

import (
	"context"
	"sync"
)

// MemoryStore keeps every table in process memory. Data does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[Table][]byte
	versions map[Table]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Table][]byte), versions: make(map[Table]int64)}
}

func (m *MemoryStore) Load(ctx context.Context, t Table) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, unavailable("load "+string(t), err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.data[t]
	if !ok {
		return nil, 0, nil
	}
	return append([]byte(nil), p...), m.versions[t], nil
}

func (m *MemoryStore) Replace(ctx context.Context, writes ...Write) error {
	if err := ctx.Err(); err != nil {
		return unavailable("replace", err)
	}
	for _, w := range writes {
		if _, err := ParseTable(string(w.Table)); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if m.versions[w.Table] != w.Version {
			return conflict(w)
		}
	}
	for _, w := range writes {
		if w.CheckOnly {
			continue
		}
		m.data[w.Table] = append([]byte(nil), w.Payload...)
		m.versions[w.Table]++
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
