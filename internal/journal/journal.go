// Package journal implements C2: an append-only write-ahead log of state
// transitions with a Pending/Applied/Committed/RolledBack lifecycle,
// grounded on the teacher's idempotency.Store (backend-with-fallback
// shape) and store.MemoryStore/PostgresStore (row-per-entry CRUD).
package journal

import (
	"context"
	"time"
)

// TransitionKind tags which variant of Transition is populated. Go has no
// native sum type, so — per the "use tagged enums" design note — we use a
// discriminant field instead of modeling this as an interface hierarchy.
type TransitionKind string

const (
	TransitionTaskState    TransitionKind = "task_state"
	TransitionTimerState   TransitionKind = "timer_state"
	TransitionSessionEvent TransitionKind = "session_event"
	TransitionCustom       TransitionKind = "custom"
)

// Transition is the tagged union described in §3. Only the fields for
// Kind are meaningful; the rest are zero.
type Transition struct {
	Kind TransitionKind

	// TransitionTaskState
	TaskID   string
	FromTask string
	ToTask   string

	// TransitionTimerState
	FromTimer string
	ToTimer   string

	// TransitionSessionEvent
	SessionID string
	Event     string

	// TransitionCustom
	Category  string
	Operation string
	Payload   map[string]string
}

// Status is the entry lifecycle state (§3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplied    Status = "applied"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
)

// Entry is a durable record of an intended or completed state transition.
type Entry struct {
	ID            string
	Transition    Transition
	Status        Status
	Sequence      uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CorrelationID string
	Error         string
}

// Stats summarizes the journal for get_stats() (§6).
type Stats struct {
	Total       int
	Pending     int
	Applied     int
	Committed   int
	RolledBack  int
	MaxSequence uint64
}

// Store is the journal contract (§4.7). Single-writer, multi-reader: the
// orchestrator is the only caller of Append/UpdateStatus/Checkpoint/
// Rollback (§5 locking discipline — Journal is always acquired first).
type Store interface {
	Append(ctx context.Context, t Transition) (*Entry, error)
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	Get(ctx context.Context, id string) (*Entry, error)
	GetPending(ctx context.Context) ([]*Entry, error)
	Checkpoint(ctx context.Context, id string) error
	Rollback(ctx context.Context, id string, errMsg string) error
	Compact(ctx context.Context, retention time.Duration, now time.Time) (removed int, err error)
	GetStats(ctx context.Context) (Stats, error)
}

// validStatusTransition enforces §3's lifecycle: Pending->Applied->Committed,
// Pending|Applied->RolledBack, nothing moves once Committed or RolledBack.
func validStatusTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApplied || to == StatusRolledBack
	case StatusApplied:
		return to == StatusCommitted || to == StatusRolledBack
	default:
		return false
	}
}
