package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitflow/taskdaemon/internal/errkind"
)

// MemoryStore is the default journal backend: a single process-level mutex
// (the teacher's "single-writer" pattern from idempotency.Store, applied to
// a map-of-copies store like store.MemoryStore) plus an in-process monotone
// sequence counter, loaded on open as max(sequence) per §4.7.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	nextSeq  uint64
}

// NewMemoryStore opens (creates) an empty journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry), nextSeq: 1}
}

func (s *MemoryStore) Append(ctx context.Context, t Transition) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e := &Entry{
		ID:         uuid.NewString(),
		Transition: t,
		Status:     StatusPending,
		Sequence:   s.nextSeq,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.nextSeq++
	cp := *e
	s.entries[e.ID] = &cp
	out := *e
	return &out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return errkind.New(errkind.KindValidation, "journal.update_status", "unknown journal entry "+id)
	}
	if !validStatusTransition(e.Status, status) {
		return errkind.New(errkind.KindValidation, "journal.update_status",
			"illegal transition "+string(e.Status)+"->"+string(status)+" for entry "+id)
	}
	if (status == StatusRolledBack || status == StatusApplied) && errMsg != "" {
		e.Error = errMsg
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, errkind.New(errkind.KindValidation, "journal.get", "unknown journal entry "+id)
	}
	out := *e
	return &out, nil
}

// GetPending returns Pending or Applied entries, ordered by sequence.
func (s *MemoryStore) GetPending(ctx context.Context) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0)
	for _, e := range s.entries {
		if e.Status == StatusPending || e.Status == StatusApplied {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStore) Checkpoint(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, StatusCommitted, "")
}

func (s *MemoryStore) Rollback(ctx context.Context, id string, errMsg string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return errkind.New(errkind.KindValidation, "journal.rollback", "unknown journal entry "+id)
	}
	_ = e
	return s.UpdateStatus(ctx, id, StatusRolledBack, errMsg)
}

// Compact removes Committed entries older than retention, relative to now.
func (s *MemoryStore) Compact(ctx context.Context, retention time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.Status == StatusCommitted && now.Sub(e.UpdatedAt) > retention {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) GetStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, e := range s.entries {
		st.Total++
		switch e.Status {
		case StatusPending:
			st.Pending++
		case StatusApplied:
			st.Applied++
		case StatusCommitted:
			st.Committed++
		case StatusRolledBack:
			st.RolledBack++
		}
		if e.Sequence > st.MaxSequence {
			st.MaxSequence = e.Sequence
		}
	}
	return st, nil
}
