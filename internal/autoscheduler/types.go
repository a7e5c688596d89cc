// Package autoscheduler implements C8: the daily auto-scheduler that lays
// out ScheduledBlocks from a DailyTemplate, a Task inventory and calendar
// events, consulting the scorer (C7) for every placement decision.
//
// Grounded on the teacher's scheduler.Scheduler admission/placement loop
// (scheduler/scheduler.go) for the "enumerate candidates, score, pick a
// winner, log the decision" shape, and on scheduler.SchedulingDecision for
// the decision-logging idiom — here applied to placement instead of
// dispatch.
package autoscheduler

import (
	"time"

	"github.com/orbitflow/taskdaemon/internal/scorer"
	"github.com/orbitflow/taskdaemon/internal/streakdecay"
	"github.com/orbitflow/taskdaemon/internal/task"
)

// Interval is a half-open [Start, End) span of wall-clock time.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) minutes() float64 {
	return iv.End.Sub(iv.Start).Minutes()
}

// DailyTemplate fixes the working window and the immovable windows within
// it (meals, configured fixed breaks) per §4.4 step 1.
type DailyTemplate struct {
	WakeUp      time.Time
	Sleep       time.Time
	MealWindows []Interval
	FixedBreaks []Interval
}

// CalendarEvent is the §3 CalendarEvent record.
type CalendarEvent struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
}

// BlockType distinguishes the three kinds of ScheduledBlock.
type BlockType string

const (
	BlockFocus BlockType = "focus"
	BlockBreak BlockType = "break"
	BlockFixed BlockType = "fixed"
)

// ScheduledBlock is the §3 ScheduledBlock record.
type ScheduledBlock struct {
	TaskID       string
	TaskTitle    string
	Start        time.Time
	End          time.Time
	BlockType    BlockType
	Notes        string
	PomodoroCount int
	Priority     int
	ParentTaskID string
	SegmentOrder int
}

// UnplacedReason is one of the three literal reasons §4.4 names.
type UnplacedReason string

const (
	ReasonNoGap         UnplacedReason = "no_gap"
	ReasonWindowConflict UnplacedReason = "window_conflict"
	ReasonFixedOverlap  UnplacedReason = "fixed_overlap"
)

// Unplaced reports a task (or task remainder) that could not be placed.
type Unplaced struct {
	TaskID          string
	Reason          UnplacedReason
	RemainingMinutes int
}

// Config configures break insertion and split policy (§4.4 steps 5-6).
type Config struct {
	PomodorosBeforeLongBreak int
	DefaultBreakMinutes      int
	DefaultLongBreakMinutes  int
	// MinSplitSegmentMinutes is the conservative floor an Open Question in
	// §9 leaves to the implementer; see DESIGN.md for the rationale.
	MinSplitSegmentMinutes int
	// CandidateStepMinutes is the discretization used to scan a FlexWindow
	// for the scorer-maximizing sub-interval. Smaller is more exhaustive
	// and slower; 5 minutes matches the teacher's 5s/100ms tick-granularity
	// habit of picking a small but not microscopic step.
	CandidateStepMinutes int
	Weights              scorer.Weights
	// BreakMinutes, when non-nil, is consulted instead of the default break
	// durations — the seam the Bayesian tuner (C10) plugs into.
	BreakMinutes func(isLong bool) int
	// InitialStreak seeds the streak-without-break counter the scorer
	// consumes, letting a schedule regenerated mid-day continue from the
	// streak already accumulated instead of restarting at zero.
	InitialStreak int
	// StreakDecay erodes that counter whenever a break is placed, instead
	// of letting it grow for the rest of the day once the first break is
	// inserted. Defaults to streakdecay.New() when nil.
	StreakDecay *streakdecay.Calculator
	// Slack configures deadline/volatility buffer insertion (§4.4
	// enrichment). Zero value disables buffer insertion entirely.
	Slack SlackConfig
}

// DefaultConfig returns sane defaults matching spec §4.4/§4.6.
func DefaultConfig() Config {
	return Config{
		PomodorosBeforeLongBreak: 4,
		DefaultBreakMinutes:      5,
		DefaultLongBreakMinutes:  15,
		MinSplitSegmentMinutes:   15,
		CandidateStepMinutes:     5,
		Weights:                  scorer.PresetBalanced,
		StreakDecay:              streakdecay.New(),
		Slack:                    DefaultSlackConfig(),
	}
}

func (c Config) breakMinutes(isLong bool) int {
	if c.BreakMinutes != nil {
		return c.BreakMinutes(isLong)
	}
	if isLong {
		return c.DefaultLongBreakMinutes
	}
	return c.DefaultBreakMinutes
}

// Result is the full output of Generate (§4.4).
type Result struct {
	Blocks   []ScheduledBlock
	Unplaced []Unplaced
	// Slack lists every buffer block reserved during generation (deadline
	// buffers, volatility buffers, the trailing reclaimable contingency
	// block), in placement order.
	Slack []SlackBlock
	// ReclaimedSlackMinutes is how much of the trailing reclaimable block
	// was given back to placement instead of sitting idle at day's end.
	ReclaimedSlackMinutes float64
	// FinalStreak is the streak-without-break value scoring left off at,
	// for a caller that wants to seed the next Generate call's
	// Config.InitialStreak.
	FinalStreak int
}

// eligible reports whether t participates in scheduling at all: Ready or
// Running state, Active category (§4.4 Inputs).
func eligible(t *task.Task) bool {
	if t.Category != task.CategoryActive {
		return false
	}
	return t.State == task.StateReady || t.State == task.StateRunning
}
