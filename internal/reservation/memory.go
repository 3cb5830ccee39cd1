package reservation

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store used by tests and local development
// runs without a database. It enforces the same (owner, kind) uniqueness as
// the Postgres schema.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]Record // id -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.OwnerID == rec.OwnerID && existing.Kind == rec.Kind {
			return "", ErrDuplicate
		}
	}

	s.nextID++
	id := strconv.FormatInt(s.nextID, 10)
	rec.ID = id
	s.records[id] = rec
	return id, nil
}

func (s *MemoryStore) CancelAll(_ context.Context, kind Kind, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, rec := range s.records {
		if rec.OwnerID == ownerID && rec.Kind == kind {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Live returns how many live reservations the owner holds, across kinds.
func (s *MemoryStore) Live(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.OwnerID == ownerID {
			n++
		}
	}
	return n
}
