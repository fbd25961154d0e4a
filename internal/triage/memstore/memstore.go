// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/grievance/internal/complaint"
)

// Store holds complaints in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records map[string]*complaint.Record
	order   []string // ids, newest first
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{records: make(map[string]*complaint.Record)}
}

// Insert stores a copy of rec under a fresh ULID.
func (s *Store) Insert(_ context.Context, rec *complaint.Record) (string, error) {
	id := ulid.Make().String()
	cp := *rec
	cp.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = &cp

	// keep order sorted by created_at desc; equal timestamps keep insertion
	// order reversed so the later insert lists first
	i := sort.Search(len(s.order), func(i int) bool {
		return !s.records[s.order[i]].CreatedAt.After(cp.CreatedAt)
	})
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = id
	return id, nil
}

// Get retrieves a complaint by id. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*complaint.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// List returns copies of matching complaints, newest first.
func (s *Store) List(_ context.Context, f complaint.ListFilter) ([]*complaint.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*complaint.Record{}
	skipped := 0
	for _, id := range s.order {
		r := s.records[id]
		if f.Email != "" && r.Email != f.Email {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// SetStatus updates the status of a stored complaint and returns a copy.
func (s *Store) SetStatus(_ context.Context, id string, st complaint.Status) (*complaint.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false, nil
	}
	r.Status = st
	cp := *r
	return &cp, true, nil
}

// Len reports the number of stored complaints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
