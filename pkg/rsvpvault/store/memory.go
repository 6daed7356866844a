package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory store for tests and single-process use.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]map[string]record // namespace -> key -> record
	nextSeq map[string]int64
	closed  bool
	failErr error
}

type record struct {
	data     []byte
	sequence int64
	savedAt  time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]map[string]record),
		nextSeq: make(map[string]int64),
	}
}

// FailSaves makes every subsequent Save return err without storing anything.
// Pass nil to restore normal behavior. Used to exercise rollback paths.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, namespace, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.failErr != nil {
		return m.failErr
	}

	ns := m.data[namespace]
	if ns == nil {
		ns = make(map[string]record)
		m.data[namespace] = ns
	}

	seq := ns[key].sequence
	if seq == 0 {
		m.nextSeq[namespace]++
		seq = m.nextSeq[namespace]
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	ns[key] = record{
		data:     stored,
		sequence: seq,
		savedAt:  time.Now().UTC(),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := m.data[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}

	result := make([]byte, len(rec.data))
	copy(result, rec.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, namespace string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	ns := m.data[namespace]
	infos := make([]Info, 0, len(ns))
	for key, rec := range ns {
		infos = append(infos, Info{
			Namespace: namespace,
			Key:       key,
			Sequence:  rec.sequence,
			SavedAt:   rec.savedAt,
			Size:      int64(len(rec.data)),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})
	return infos, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of records across all namespaces.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, ns := range m.data {
		count += len(ns)
	}
	return count
}
