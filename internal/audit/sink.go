package audit

import (
	"context"
	"sync"
)

// Sink is the storage strategy behind the trail. Implementations must make
// Append atomic per record and must never modify or drop stored events.
type Sink interface {
	Append(ctx context.Context, evt Event) error
	Query(ctx context.Context, q Query) ([]Event, error)
}

// MemorySink keeps events for the process lifetime.
type MemorySink struct {
	mu     sync.RWMutex
	seq    uint64
	events []sequenced
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.seq++
	s.events = append(s.events, sequenced{seq: s.seq, evt: evt.clone()})
	s.mu.Unlock()
	return nil
}

// Query answers from a snapshot taken at call time; appends racing with the
// query are not visible to it.
func (s *MemorySink) Query(ctx context.Context, q Query) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snapshot := s.events[:len(s.events):len(s.events)]
	s.mu.RUnlock()
	return selectPage(snapshot, q), nil
}

// Len returns the number of stored events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
