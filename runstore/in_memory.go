package runstore

import (
	"context"
	"slices"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// InMemoryStore is a volatile RunStore keeping records in a process local
// map. It is safe for concurrent access and best suited for tests or
// single-process deployments. Records are cloned on the way in and out.
type InMemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]core.RunRecord
	bySession map[string][]string
}

// NewInMemoryStore constructs an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:      make(map[string]core.RunRecord),
		bySession: make(map[string][]string),
	}
}

// Save stores a copy of rec, replacing any record with the same ID.
func (s *InMemoryStore) Save(_ context.Context, rec core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[rec.ID]; !exists && rec.SessionID != "" {
		s.bySession[rec.SessionID] = append(s.bySession[rec.SessionID], rec.ID)
	}
	s.runs[rec.ID] = Clone(rec)
	return nil
}

// Get returns a copy of the record or core.ErrRunNotFound.
func (s *InMemoryStore) Get(_ context.Context, id string) (core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return core.RunRecord{}, core.ErrRunNotFound
	}
	return Clone(rec), nil
}

// ListBySession returns the session's records, newest first.
func (s *InMemoryStore) ListBySession(_ context.Context, sessionID string, limit int) ([]core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySession[sessionID]
	out := make([]core.RunRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, Clone(s.runs[id]))
	}
	SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Clone copies the slices of rec so callers cannot alias stored state.
// Turns themselves are immutable and shared.
func Clone(rec core.RunRecord) core.RunRecord {
	rec.Transcript = slices.Clone(rec.Transcript)
	rec.Event = slices.Clone(rec.Event)
	if rec.Reply != nil {
		reply := *rec.Reply
		rec.Reply = &reply
	}
	return rec
}

// SortNewestFirst orders records by start time, newest first.
func SortNewestFirst(recs []core.RunRecord) {
	slices.SortStableFunc(recs, func(a, b core.RunRecord) int {
		return b.Started.Compare(a.Started)
	})
}
