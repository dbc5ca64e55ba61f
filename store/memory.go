package store

import (
	"sync"

	"github.com/ledgerlens/x402/types"
)

// MemoryStore is the bundled Store backed by a map with per-record locks.
// Update holds only the one record's lock, so slow work inside fn (such as
// invoking the protected handler at confirmation) never stalls unrelated
// requests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*memEntry
}

type memEntry struct {
	mu  sync.Mutex
	rec *types.PaymentRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*memEntry)}
}

func (s *MemoryStore) Get(id string) (*types.PaymentRecord, error) {
	s.mu.RLock()
	e, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Clone(e.rec), nil
}

func (s *MemoryStore) Put(id string, rec *types.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = &memEntry{rec: Clone(rec)}
	return nil
}

func (s *MemoryStore) Update(id string, fn func(*types.PaymentRecord) error) (*types.PaymentRecord, error) {
	s.mu.RLock()
	e, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// fn mutates a working copy; the committed record changes only when fn
	// succeeds, keeping the read-modify-write all-or-nothing.
	work := Clone(e.rec)
	if err := fn(work); err != nil {
		return Clone(e.rec), err
	}
	e.rec = work
	return Clone(work), nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *MemoryStore) Each(fn func(id string, rec *types.PaymentRecord) bool) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		rec, err := s.Get(id)
		if err != nil {
			continue
		}
		if !fn(id, rec) {
			return
		}
	}
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ Store = (*MemoryStore)(nil)
