package contact

import (
	"fmt"
	"sync"
)

// Store holds the contact currently being edited. One editing surface owns
// it; the mutex only protects against overlapping HTTP requests.
type Store struct {
	mu     sync.RWMutex
	record Record
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{}
}

// Get returns a snapshot of the record
func (s *Store) Get() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// Set updates a single field. Values are stored verbatim, without validation.
func (s *Store) Set(f Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.record.field(f)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	*p = value
	return nil
}

// ReplaceAll replaces the whole record, photo included
func (s *Store) ReplaceAll(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = r
}
