// Package timer implements C5: a wall-clock FSM over
// {Idle, Running, Paused, Drifting, Completed} driving a schedule of steps,
// grounded on the teacher's scheduler.CircuitBreaker — a mutex-guarded
// enum with time-based thresholds and an explicit String() table.
package timer

import (
	"sync"
	"time"
)

// State is the timer's FSM state (§4.1).
type State int

const (
	Idle State = iota
	Running
	Paused
	Drifting
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Drifting:
		return "drifting"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// StepType is the kind of a schedule step.
type StepType string

const (
	Focus     StepType = "focus"
	Break     StepType = "break"
	LongBreak StepType = "long_break"
)

// Step is one entry of a Schedule.
type Step struct {
	Type       StepType
	DurationMs int64
	Label      string
}

// DriftingState tracks break debt once a step runs out without user action.
type DriftingState struct {
	SinceEpochMs    int64
	BreakDebtMs     int64
	EscalationLevel int
}

// driftThresholdsMs are the escalation boundaries from §4.1: {0, 30s, 60s, 120s}.
var driftThresholdsMs = []int64{0, 30_000, 60_000, 120_000}

// Event is emitted by a command that changed state, for C6/C13 consumption.
type Event string

const (
	EventStarted   Event = "timer_started"
	EventPaused    Event = "timer_paused"
	EventResumed   Event = "timer_resumed"
	EventSkipped   Event = "timer_skipped"
	EventReset     Event = "timer_reset"
	EventCompleted Event = "timer_completed"
	EventNone      Event = ""
)

// Snapshot is the read-only view returned by Snapshot().
type Snapshot struct {
	State               State
	StepIndex           int
	RemainingMs         int64
	Drifting            DriftingState
	StepProgress        float64
	ScheduleProgressPct float64
}

// Engine is the timer FSM. Owned exclusively by the orchestrator (§5); not
// safe to share across goroutines without relying on its internal mutex,
// which exists only to match the teacher's defensive-locking idiom for
// state owned by a single logical writer.
type Engine struct {
	mu sync.Mutex

	schedule []Step
	state    State

	stepIndex   int
	remainingMs int64
	lastTick    time.Time
	drifting    DriftingState

	cumulativeCompletedMin float64
}

// NewEngine builds an Idle engine over schedule. An empty schedule is
// legal: remaining_ms starts at 0 and commands still move the FSM.
func NewEngine(schedule []Step) *Engine {
	e := &Engine{schedule: schedule, state: Idle}
	if len(schedule) > 0 {
		e.remainingMs = schedule[0].DurationMs
	}
	return e
}

func (e *Engine) Start(now time.Time) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Idle, Paused, Completed:
		e.state = Running
		e.lastTick = now
		return EventStarted
	case Drifting:
		e.state = Running
		e.lastTick = now
		e.drifting = DriftingState{}
		return EventStarted
	default:
		return EventNone
	}
}

func (e *Engine) Pause(now time.Time) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return EventNone
	}
	e.flushElapsed(now)
	e.state = Paused
	return EventPaused
}

func (e *Engine) Resume(now time.Time) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Paused {
		return EventNone
	}
	e.state = Running
	e.lastTick = now
	return EventResumed
}

// Skip advances to the next step regardless of current state, wrapping at
// the end of the schedule, and returns to Idle.
func (e *Engine) Skip(now time.Time) Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Drifting {
		e.drifting = DriftingState{}
	}
	e.state = Idle
	e.advanceStep()
	return EventSkipped
}

// Reset returns to Idle at step zero with a fresh remaining_ms budget.
func (e *Engine) Reset() Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Idle
	e.stepIndex = 0
	e.drifting = DriftingState{}
	e.cumulativeCompletedMin = 0
	if len(e.schedule) > 0 {
		e.remainingMs = e.schedule[0].DurationMs
	} else {
		e.remainingMs = 0
	}
	return EventReset
}

// Tick advances wall-clock accounting. While Running it decrements
// remaining_ms and transitions to Drifting at zero; while Drifting it
// updates break debt and escalation level per §4.1's drift algorithm.
// Wall-clock regression is clamped at zero elapsed (no negative deltas).
func (e *Engine) Tick(now time.Time) Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Running:
		elapsed := now.Sub(e.lastTick).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
		e.lastTick = now
		e.remainingMs -= elapsed
		if e.remainingMs <= 0 {
			e.remainingMs = 0
			e.state = Drifting
			e.drifting = DriftingState{SinceEpochMs: now.UnixMilli()}
			return EventCompleted
		}
		return EventNone
	case Drifting:
		debt := now.UnixMilli() - e.drifting.SinceEpochMs
		if debt < 0 {
			debt = 0
		}
		e.drifting.BreakDebtMs = debt
		e.drifting.EscalationLevel = escalationLevel(debt)
		return EventNone
	default:
		return EventNone
	}
}

func escalationLevel(debtMs int64) int {
	level := 0
	for i, threshold := range driftThresholdsMs {
		if debtMs >= threshold {
			level = i
		}
	}
	return level
}

func (e *Engine) flushElapsed(now time.Time) {
	elapsed := now.Sub(e.lastTick).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	e.remainingMs -= elapsed
	if e.remainingMs < 0 {
		e.remainingMs = 0
	}
}

func (e *Engine) advanceStep() {
	if len(e.schedule) == 0 {
		e.remainingMs = 0
		return
	}
	e.cumulativeCompletedMin += float64(e.schedule[e.stepIndex].DurationMs) / 60000
	e.stepIndex = (e.stepIndex + 1) % len(e.schedule)
	e.remainingMs = e.schedule[e.stepIndex].DurationMs
}

// Snapshot reports current progress (§4.1 progress reporting formulas).
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stepProgress float64
	var totalScheduleMin float64
	for _, s := range e.schedule {
		totalScheduleMin += float64(s.DurationMs) / 60000
	}
	if len(e.schedule) > 0 {
		total := float64(e.schedule[e.stepIndex].DurationMs)
		if total > 0 {
			stepProgress = 1 - float64(e.remainingMs)/total
		}
	}

	var schedulePct float64
	if totalScheduleMin > 0 {
		currentStepMin := 0.0
		if len(e.schedule) > 0 {
			currentStepMin = float64(e.schedule[e.stepIndex].DurationMs) / 60000
		}
		schedulePct = (e.cumulativeCompletedMin + currentStepMin*stepProgress) / totalScheduleMin * 100
	}
	if schedulePct < 0 {
		schedulePct = 0
	}
	if schedulePct > 100 {
		schedulePct = 100
	}

	return Snapshot{
		State:               e.state,
		StepIndex:           e.stepIndex,
		RemainingMs:         e.remainingMs,
		Drifting:            e.drifting,
		StepProgress:        stepProgress,
		ScheduleProgressPct: schedulePct,
	}
}
