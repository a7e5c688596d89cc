// Package recovery implements C11: a planner/replay engine over the
// journal (C2), grounded on the teacher's resilience.DegradedMode
// pending-write reconciliation (resilience/reconciliation.go) — the same
// "partition into succeed/skip/fail, replay each, report totals" shape,
// applied here to journal entries instead of buffered Redis writes.
package recovery

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/orbitflow/taskdaemon/internal/errkind"
	"github.com/orbitflow/taskdaemon/internal/journal"
)

// Config bounds how old a pending entry may be before it is treated as
// expired rather than replayed (§4.7).
type Config struct {
	MaxAge               time.Duration
	AutoRollbackExpired  bool
	ContinueOnFailure    bool
}

func DefaultConfig() Config {
	return Config{MaxAge: 10 * time.Minute, AutoRollbackExpired: true, ContinueOnFailure: true}
}

// ActionKind tags what the recovery run did with one entry.
type ActionKind string

const (
	ActionReplayed       ActionKind = "replayed"
	ActionSkipped        ActionKind = "skipped"
	ActionExpired        ActionKind = "expired"
	ActionFailed         ActionKind = "failed"
)

// Action records the outcome for a single journal entry.
type Action struct {
	EntryID string
	Kind    ActionKind
	Error   string
}

// Plan is the pre-run partition produced by Plan() (§4.7 plan()).
type Plan struct {
	ToReplay []*journal.Entry
	ToSkip   []*journal.Entry
	Expired  []*journal.Entry
}

// ImpactEstimate previews a Plan's effect per transition kind, for a
// user-visible confirmation prompt (§4.7 "Impact estimate").
type ImpactEstimate struct {
	TaskTransitions    int
	TimerTransitions   int
	SessionTransitions int
	CustomTransitions  int
}

func (p Plan) Impact() ImpactEstimate {
	var est ImpactEstimate
	for _, e := range p.ToReplay {
		switch e.Transition.Kind {
		case journal.TransitionTaskState:
			est.TaskTransitions++
		case journal.TransitionTimerState:
			est.TimerTransitions++
		case journal.TransitionSessionEvent:
			est.SessionTransitions++
		case journal.TransitionCustom:
			est.CustomTransitions++
		}
	}
	return est
}

// Result is the §4.7 RecoveryResult.
type Result struct {
	Actions        []Action
	RecoveredCount int
	ExpiredCount   int
	FailedCount    int
}

// IsComplete reports whether the run finished with no failed entry
// (§8 scenario 5).
func (r Result) IsComplete() bool {
	return r.FailedCount == 0
}

// ApplyFunc executes the domain effect for one transition; it is supplied
// by the orchestrator, which owns the task/timer/session stores. Returning
// an error leaves the entry Applied-with-error (never rolled back by the
// replay itself — only Plan's expired entries are rolled back here).
type ApplyFunc func(ctx context.Context, t journal.Transition) error

// Engine runs recovery against a journal.Store.
type Engine struct {
	store journal.Store
	cfg   Config
}

func New(store journal.Store, cfg Config) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Plan partitions get_pending() into to_replay, to_skip and expired (§4.7).
func (e *Engine) Plan(ctx context.Context, now time.Time) (Plan, error) {
	pending, err := e.store.GetPending(ctx)
	if err != nil {
		return Plan{}, errkind.Wrap(errkind.KindStorage, "recovery.plan", err)
	}

	var plan Plan
	for _, entry := range pending {
		age := now.Sub(entry.CreatedAt)
		switch {
		case age > e.cfg.MaxAge:
			plan.Expired = append(plan.Expired, entry)
		case entry.Status == journal.StatusCommitted || entry.Status == journal.StatusRolledBack:
			plan.ToSkip = append(plan.ToSkip, entry)
		default:
			plan.ToReplay = append(plan.ToReplay, entry)
		}
	}
	return plan, nil
}

// Run executes a Plan: expired entries are rolled back (or just flagged,
// per cfg.AutoRollbackExpired); to_replay entries are applied, then
// checkpointed on success. A failure halts the run unless
// cfg.ContinueOnFailure is set (§4.7 run() steps 1-3).
func (e *Engine) Run(ctx context.Context, plan Plan, now time.Time, apply ApplyFunc) Result {
	var result Result

	for _, entry := range plan.Expired {
		result.ExpiredCount++
		if e.cfg.AutoRollbackExpired {
			errMsg := "Entry expired (age " + ageSeconds(now, entry.CreatedAt) + "s)"
			if err := e.store.Rollback(ctx, entry.ID, errMsg); err != nil {
				log.Printf("[recovery] failed to roll back expired entry %s: %v", entry.ID, err)
			}
			result.Actions = append(result.Actions, Action{EntryID: entry.ID, Kind: ActionExpired, Error: errMsg})
		} else {
			result.Actions = append(result.Actions, Action{EntryID: entry.ID, Kind: ActionExpired})
		}
	}

	for _, entry := range plan.ToReplay {
		if err := apply(ctx, entry.Transition); err != nil {
			result.FailedCount++
			result.Actions = append(result.Actions, Action{EntryID: entry.ID, Kind: ActionFailed, Error: err.Error()})
			if msgErr := e.store.UpdateStatus(ctx, entry.ID, journal.StatusApplied, err.Error()); msgErr != nil {
				log.Printf("[recovery] failed to mark entry %s applied-with-error: %v", entry.ID, msgErr)
			}
			if !e.cfg.ContinueOnFailure {
				break
			}
			continue
		}

		if entry.Status == journal.StatusPending {
			if err := e.store.UpdateStatus(ctx, entry.ID, journal.StatusApplied, ""); err != nil {
				log.Printf("[recovery] failed to mark entry %s applied: %v", entry.ID, err)
			}
		}
		if err := e.store.Checkpoint(ctx, entry.ID); err != nil {
			log.Printf("[recovery] failed to checkpoint entry %s: %v", entry.ID, err)
		}
		result.RecoveredCount++
		result.Actions = append(result.Actions, Action{EntryID: entry.ID, Kind: ActionReplayed})
	}

	for _, entry := range plan.ToSkip {
		result.Actions = append(result.Actions, Action{EntryID: entry.ID, Kind: ActionSkipped})
	}

	return result
}

func ageSeconds(now, created time.Time) string {
	return strconv.Itoa(int(now.Sub(created).Seconds()))
}
