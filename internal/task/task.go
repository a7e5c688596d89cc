// Package task holds the Task aggregate (§3) shared by the task store,
// the scorer, the auto-scheduler, and the JIT suggester.
package task

import (
	"time"

	"github.com/orbitflow/taskdaemon/internal/errkind"
)

// Kind distinguishes how a task is placed on the calendar.
type Kind string

const (
	KindFixedEvent  Kind = "fixed_event"
	KindFlexWindow  Kind = "flex_window"
	KindDurationOnly Kind = "duration_only"
	KindBreak       Kind = "break"
)

// State is the task lifecycle (§3 Lifecycle).
type State string

const (
	StateReady   State = "ready"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateDone    State = "done"
)

// Energy is the task's energy requirement, matched against time-of-day
// preference by the scorer and the JIT suggester.
type Energy string

const (
	EnergyLow    Energy = "low"
	EnergyMedium Energy = "medium"
	EnergyHigh   Energy = "high"
)

// Category distinguishes tasks still eligible for scheduling/suggestion
// from archived ones. Only Active-category tasks participate in
// suggestion (§4.5, Ready tasks) and scheduling (§4.4, Ready or Running
// tasks).
type Category string

const (
	CategoryActive   Category = "active"
	CategoryArchived Category = "archived"
)

// Volatility is how unpredictable a task's actual duration tends to run
// relative to its estimate. The auto-scheduler's slack-insertion policy
// sizes a task's buffer off this field instead of a single flat
// percentage for every task.
type Volatility string

const (
	VolatilityLow    Volatility = "low"
	VolatilityMedium Volatility = "medium"
	VolatilityHigh   Volatility = "high"
)

// Task is the identity+attributes aggregate described in §3.
type Task struct {
	ID          string
	Title       string
	Description string

	Kind             Kind
	RequiredMinutes  int
	EstimatedMinutes int

	FixedStartAt *time.Time
	FixedEndAt   *time.Time

	WindowStartAt *time.Time
	WindowEndAt   *time.Time

	State          State
	ElapsedMinutes int

	Energy     Energy
	Priority   int // 0-100, default 50
	Category   Category
	Volatility Volatility

	Tags     map[string]struct{}
	Projects map[string]struct{}

	ParentTaskID  string
	SegmentOrder  int
	AllowSplit    bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	PausedAt    *time.Time

	SourceService    string
	SourceExternalID string
}

// NewTask builds a Ready task with defaults applied and validates the §3
// invariants up front.
func NewTask(id, title string, kind Kind, requiredMinutes int, createdAt time.Time) (*Task, error) {
	t := &Task{
		ID:               id,
		Title:            title,
		Kind:             kind,
		RequiredMinutes:  requiredMinutes,
		EstimatedMinutes: requiredMinutes,
		State:            StateReady,
		Energy:           EnergyMedium,
		Priority:         50,
		Category:         CategoryActive,
		Volatility:       VolatilityMedium,
		Tags:             make(map[string]struct{}),
		Projects:         make(map[string]struct{}),
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	// Return t alongside any validation error (rather than nil) so a caller
	// building a task incrementally (e.g. a FlexWindow whose window isn't
	// set yet) can still assign remaining fields and re-validate.
	err := t.Validate()
	return t, err
}

// Validate enforces the §3 invariants. Called on creation and before any
// store write.
func (t *Task) Validate() error {
	const op = "task.validate"
	if t.RequiredMinutes < 0 || t.EstimatedMinutes < 0 {
		return errkind.New(errkind.KindValidation, op, "required/estimated minutes must be non-negative")
	}
	switch t.Kind {
	case KindFixedEvent:
		if t.FixedStartAt == nil || t.FixedEndAt == nil {
			return errkind.New(errkind.KindValidation, op, "fixed event requires fixed_start_at and fixed_end_at")
		}
		if !t.FixedEndAt.After(*t.FixedStartAt) {
			return errkind.New(errkind.KindValidation, op, "fixed_end_at must be after fixed_start_at")
		}
	case KindFlexWindow:
		if t.WindowStartAt == nil || t.WindowEndAt == nil {
			return errkind.New(errkind.KindValidation, op, "flex window requires window_start_at and window_end_at")
		}
		minEnd := t.WindowStartAt.Add(time.Duration(t.RequiredMinutes) * time.Minute)
		if t.WindowEndAt.Before(minEnd) {
			return errkind.New(errkind.KindValidation, op, "window_end_at must be at least required_minutes after window_start_at")
		}
	case KindDurationOnly, KindBreak:
		if t.RequiredMinutes <= 0 {
			return errkind.New(errkind.KindValidation, op, "duration-only task requires required_minutes > 0")
		}
	default:
		return errkind.New(errkind.KindValidation, op, "unknown task kind")
	}
	if (t.CompletedAt != nil) != (t.State == StateDone) {
		return errkind.New(errkind.KindValidation, op, "completed_at must be set iff state is Done")
	}
	if t.ElapsedMinutes > t.RequiredMinutes+carryOverAllowanceMinutes {
		return errkind.New(errkind.KindValidation, op, "elapsed_minutes exceeds required_minutes plus carry-over allowance")
	}
	if t.SourceService != "" && t.SourceExternalID == "" {
		return errkind.New(errkind.KindValidation, op, "source_external_id required when source_service is set")
	}
	return nil
}

// carryOverAllowanceMinutes bounds how far elapsed_minutes may run past
// required_minutes before a task is considered out of its estimate
// entirely (e.g. a focus block that ran one extra pomodoro).
const carryOverAllowanceMinutes = 60

// Transition validates and applies a state transition per the §3 lifecycle:
// Ready->Running, Running<->Paused, Running->Done, Paused->Done. Reopening
// Done is rejected — callers must create a new task instead.
func (t *Task) Transition(to State, now time.Time) error {
	const op = "task.transition"
	ok := false
	switch t.State {
	case StateReady:
		ok = to == StateRunning
	case StateRunning:
		ok = to == StatePaused || to == StateDone
	case StatePaused:
		ok = to == StateRunning || to == StateDone
	case StateDone:
		ok = false
	}
	if !ok {
		return errkind.New(errkind.KindValidation, op, "illegal state transition "+string(t.State)+"->"+string(to))
	}
	t.State = to
	t.UpdatedAt = now
	switch to {
	case StateDone:
		t.CompletedAt = &now
		t.PausedAt = nil
	case StatePaused:
		t.PausedAt = &now
	case StateRunning:
		t.PausedAt = nil
	}
	return nil
}
