// Package orchestrator implements C13: it serializes every mutating
// operation behind a single logical writer, journals the transition
// (C2) around the domain effect (C3/C4/C5), and emits an Event for
// subscribers afterward. Grounded on the teacher's control_plane wiring
// (main.go's "Rehydrate -> Start" startup sequence and reconciler.go's
// per-command timeout/shadow-mode idiom), adapted from a distributed
// leader-election model to this daemon's single-process, single-writer
// model (§5).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitflow/taskdaemon/internal/clock"
	"github.com/orbitflow/taskdaemon/internal/errkind"
	"github.com/orbitflow/taskdaemon/internal/eventhub"
	"github.com/orbitflow/taskdaemon/internal/gatekeeper"
	"github.com/orbitflow/taskdaemon/internal/journal"
	"github.com/orbitflow/taskdaemon/internal/observability"
	"github.com/orbitflow/taskdaemon/internal/recovery"
	"github.com/orbitflow/taskdaemon/internal/reconciliation"
	"github.com/orbitflow/taskdaemon/internal/sessionstore"
	"github.com/orbitflow/taskdaemon/internal/switchcost"
	"github.com/orbitflow/taskdaemon/internal/task"
	"github.com/orbitflow/taskdaemon/internal/taskstore"
	"github.com/orbitflow/taskdaemon/internal/timer"
	"github.com/orbitflow/taskdaemon/internal/tuner"
)

// timerPromptKey is the single Gatekeeper prompt key this daemon tracks:
// one timer, one active escalation at a time (single-user, §1 Non-goals).
const timerPromptKey = "timer"

// Orchestrator wires C2-C6, C11 and C12 behind one logical writer (§5:
// "never hold two store locks simultaneously; order is Journal -> Task ->
// Session"). Timer state is owned exclusively by the Orchestrator.
type Orchestrator struct {
	mu sync.Mutex

	journal journal.Store
	tasks   taskstore.Store
	sessions *sessionstore.Store
	timer   *timer.Engine
	gate    *gatekeeper.Gatekeeper
	clock   clock.Clock
	hub     *eventhub.Hub

	recoveryCfg      recovery.Config
	reconciliationCfg reconciliation.Config

	matrix       *switchcost.Matrix
	tuner        *tuner.Tuner
	learnedStore *switchcost.RedisLearnedStore
	lastActive   *activeTask

	started bool
}

// activeTask remembers the project context of the task most recently
// moved out of Running, so the next task moved into Running can have its
// switch cost observed (§3 SwitchCostMatrix: learned entries carry
// observation/success counts built up exactly this way).
type activeTask struct {
	project string
	at      time.Time
}

// New builds an Orchestrator. Call Bootstrap before accepting new
// commands (§2: "On startup, C13 runs C11 then C12 before accepting new
// commands").
func New(j journal.Store, tasks taskstore.Store, sessions *sessionstore.Store, tm *timer.Engine, gate *gatekeeper.Gatekeeper, ck clock.Clock, hub *eventhub.Hub) *Orchestrator {
	return &Orchestrator{
		journal:           j,
		tasks:             tasks,
		sessions:          sessions,
		timer:             tm,
		gate:              gate,
		clock:             ck,
		hub:               hub,
		recoveryCfg:       recovery.DefaultConfig(),
		reconciliationCfg: reconciliation.DefaultConfig(),
	}
}

// ConfigureLearning wires the switch-cost matrix and Bayesian break tuner
// plus their (possibly nil-backed, memory-falling-back) persistence
// store. Safe to skip entirely — every call site below is nil-safe.
func (o *Orchestrator) ConfigureLearning(matrix *switchcost.Matrix, t *tuner.Tuner, store *switchcost.RedisLearnedStore) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matrix = matrix
	o.tuner = t
	o.learnedStore = store
}

// LoadLearned seeds the matrix from the persisted store, if one is
// configured. The break tuner's stats are not loaded here.
func (o *Orchestrator) LoadLearned(ctx context.Context) error {
	if o.learnedStore == nil {
		return nil
	}
	if o.matrix != nil {
		if err := o.learnedStore.LoadMatrix(ctx, o.matrix); err != nil {
			return err
		}
	}
	return nil
}

// PersistLearned writes the current matrix snapshot back to the learned
// store. Call periodically or on shutdown.
func (o *Orchestrator) PersistLearned(ctx context.Context) error {
	if o.learnedStore == nil || o.matrix == nil {
		return nil
	}
	return o.learnedStore.SaveMatrix(ctx, o.matrix)
}

// RecommendBreak consults the Bayesian tuner (C10); returns the zero
// Recommendation if no tuner is configured.
func (o *Orchestrator) RecommendBreak() tuner.Recommendation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tuner == nil {
		return tuner.Recommendation{}
	}
	return o.tuner.Recommend()
}

// ObserveBreak records a completed break's outcome with the tuner (C10)
// and accounts its minutes against the daily budget.
func (o *Orchestrator) ObserveBreak(obs tuner.Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tuner == nil {
		return
	}
	o.tuner.Observe(obs)
	o.tuner.RecordBreakUsed(obs.BreakLength)
}

// SwitchCost reports the learned (or default) cost of moving from one
// project context to another.
func (o *Orchestrator) SwitchCost(from, to string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.matrix == nil {
		return switchcost.DefaultMinutes
	}
	return o.matrix.Cost(from, to)
}

// BootstrapResult reports what startup recovery and reconciliation did.
type BootstrapResult struct {
	Recovery        recovery.Result
	Reconciliation  reconciliation.Summary
}

// Bootstrap runs C11 then C12 before the orchestrator accepts new
// mutating commands (§2, §4.9).
func (o *Orchestrator) Bootstrap(ctx context.Context) (BootstrapResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	recEngine := recovery.New(o.journal, o.recoveryCfg)
	plan, err := recEngine.Plan(ctx, now)
	if err != nil {
		return BootstrapResult{}, err
	}
	recResult := recEngine.Run(ctx, plan, now, o.applyTransition)
	for _, action := range recResult.Actions {
		observability.JournalEntriesTotal.WithLabelValues(string(action.Kind)).Inc()
	}

	all, err := o.tasks.List(ctx)
	if err != nil {
		return BootstrapResult{Recovery: recResult}, err
	}
	updated, summary := reconciliation.Reconcile(all, now, o.reconciliationCfg)
	for _, t := range updated {
		if err := o.tasks.Upsert(ctx, t); err != nil {
			return BootstrapResult{Recovery: recResult}, err
		}
	}
	for _, r := range summary.Reconciled {
		o.hub.Publish("TaskStateChanged", map[string]interface{}{
			"task_id": r.ID, "from": string(r.OriginalState), "to": string(r.NewState), "resume_hint": r.ResumeHint,
		})
	}

	o.started = true
	return BootstrapResult{Recovery: recResult, Reconciliation: summary}, nil
}

// applyTransition replays a journal transition's domain effect during
// recovery (§4.7 run() step 2). Effects are idempotent: re-applying a
// transition already reflected in the task/timer state is a no-op, not an
// error, matching §4.7's durability model.
func (o *Orchestrator) applyTransition(ctx context.Context, t journal.Transition) error {
	switch t.Kind {
	case journal.TransitionTaskState:
		existing, err := o.tasks.Get(ctx, t.TaskID)
		if err != nil {
			return err
		}
		if string(existing.State) == t.ToTask {
			return nil
		}
		if err := existing.Transition(task.State(t.ToTask), o.clock.Now()); err != nil {
			return err
		}
		return o.tasks.Upsert(ctx, existing)
	case journal.TransitionTimerState:
		return nil
	case journal.TransitionSessionEvent, journal.TransitionCustom:
		return nil
	default:
		return errkind.New(errkind.KindValidation, "orchestrator.apply", "unknown transition kind")
	}
}

// run is the journal-discipline template every mutating command follows
// (§4.9 steps 1-5): append Pending, execute the effect, then Applied ->
// Committed on success or RolledBack on failure. Pure queries never call
// this (§4.9: "pure queries bypass the journal").
func (o *Orchestrator) run(ctx context.Context, t journal.Transition, eventType string, effect func() (map[string]interface{}, error)) error {
	entry, err := o.journal.Append(ctx, t)
	if err != nil {
		return err
	}

	payload, effectErr := effect()
	if effectErr != nil {
		kind := errkind.As(effectErr)
		_ = o.journal.UpdateStatus(ctx, entry.ID, journal.StatusRolledBack, effectErr.Error())
		observability.OrchestratorRollbacks.WithLabelValues(kind.String()).Inc()
		return effectErr
	}

	if err := o.journal.UpdateStatus(ctx, entry.ID, journal.StatusApplied, ""); err != nil {
		return err
	}
	if err := o.journal.Checkpoint(ctx, entry.ID); err != nil {
		return err
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	o.hub.Publish(eventType, payload)
	return nil
}

// --- Timer commands (§6) ---

func (o *Orchestrator) StartTimer(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	before := o.timer.Snapshot()
	return o.run(ctx, journal.Transition{
		Kind: journal.TransitionTimerState, FromTimer: before.State.String(),
	}, "TimerStarted", func() (map[string]interface{}, error) {
		event := o.timer.Start(o.clock.Now())
		after := o.timer.Snapshot()
		if event == timer.EventStarted {
			o.gate.Stop(timerPromptKey)
		}
		return map[string]interface{}{"state": after.State.String(), "step_index": after.StepIndex}, nil
	})
}

func (o *Orchestrator) PauseTimer(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, journal.Transition{Kind: journal.TransitionTimerState, FromTimer: "running", ToTimer: "paused"},
		"TimerPaused", func() (map[string]interface{}, error) {
			o.timer.Pause(o.clock.Now())
			return nil, nil
		})
}

func (o *Orchestrator) ResumeTimer(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, journal.Transition{Kind: journal.TransitionTimerState, FromTimer: "paused", ToTimer: "running"},
		"TimerResumed", func() (map[string]interface{}, error) {
			o.timer.Resume(o.clock.Now())
			return nil, nil
		})
}

func (o *Orchestrator) SkipTimer(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, journal.Transition{Kind: journal.TransitionTimerState, ToTimer: "idle"},
		"TimerSkipped", func() (map[string]interface{}, error) {
			o.timer.Skip(o.clock.Now())
			o.gate.Stop(timerPromptKey)
			return nil, nil
		})
}

func (o *Orchestrator) ResetTimer(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, journal.Transition{Kind: journal.TransitionTimerState, ToTimer: "idle"},
		"TimerReset", func() (map[string]interface{}, error) {
			o.timer.Reset()
			o.gate.Stop(timerPromptKey)
			return nil, nil
		})
}

// Snapshot is a pure query: it bypasses the journal entirely (§4.9).
func (o *Orchestrator) Snapshot() timer.Snapshot {
	return o.timer.Snapshot()
}

// Tick drives the fixed-cadence loop (§4.9): TimerEngine.tick, then
// Gatekeeper.tick, writing any resulting transition through the same
// journal discipline as a user command.
func (o *Orchestrator) Tick(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.clock.Now()
	defer func() {
		observability.OrchestratorTickDuration.Observe(o.clock.Now().Sub(start).Seconds())
	}()

	event := o.timer.Tick(start)
	if event == timer.EventCompleted {
		o.gate.Start(timerPromptKey, start)
		if err := o.run(ctx, journal.Transition{Kind: journal.TransitionTimerState, ToTimer: "drifting"},
			"TimerCompleted", func() (map[string]interface{}, error) { return nil, nil }); err != nil {
			return err
		}
	}
	o.gate.Tick(timerPromptKey, start)
	observability.TimerEscalationLevel.Set(float64(o.timer.Snapshot().Drifting.EscalationLevel))
	return nil
}

// NotificationChannel is a pure query consulting the Gatekeeper (§4.2).
func (o *Orchestrator) NotificationChannel(ctx context.Context, gkCtx gatekeeper.Context) gatekeeper.Channel {
	return o.gate.GetNotificationChannel(timerPromptKey, gkCtx)
}

// CanDismiss is a pure query (§4.2).
func (o *Orchestrator) CanDismiss() bool {
	return o.gate.CanDismiss(timerPromptKey)
}

// AcknowledgePrompt clears the ignore-count ladder for the active prompt.
func (o *Orchestrator) AcknowledgePrompt() {
	o.gate.Acknowledge(timerPromptKey)
}

// --- Task commands (§6) ---

// CreateTask journals a Custom transition (no prior task state exists to
// tag as from/to) and upserts the new task.
func (o *Orchestrator) CreateTask(ctx context.Context, t *task.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return o.run(ctx, journal.Transition{Kind: journal.TransitionCustom, Category: "task", Operation: "create", Payload: map[string]string{"task_id": t.ID}},
		"TaskCreated", func() (map[string]interface{}, error) {
			if err := o.tasks.Upsert(ctx, t); err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": t.ID}, nil
		})
}

// UpdateTask journals a Custom transition and upserts mutated fields
// (title/description/estimate/etc.) without changing task.State — state
// changes go through TransitionTask so the journal records a TaskState
// transition instead of a generic Custom one.
func (o *Orchestrator) UpdateTask(ctx context.Context, t *task.Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, journal.Transition{Kind: journal.TransitionCustom, Category: "task", Operation: "update", Payload: map[string]string{"task_id": t.ID}},
		"TaskUpdated", func() (map[string]interface{}, error) {
			if err := o.tasks.Upsert(ctx, t); err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": t.ID}, nil
		})
}

// DeleteTask journals a Custom transition and deletes the task.
func (o *Orchestrator) DeleteTask(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run(ctx, journal.Transition{Kind: journal.TransitionCustom, Category: "task", Operation: "delete", Payload: map[string]string{"task_id": id}},
		"TaskDeleted", func() (map[string]interface{}, error) {
			if err := o.tasks.Delete(ctx, id); err != nil {
				return nil, err
			}
			return map[string]interface{}{"task_id": id}, nil
		})
}

// TransitionTask journals a TaskState transition and applies it (§3
// Lifecycle: Ready->Running, Running<->Paused, Running/Paused->Done).
func (o *Orchestrator) TransitionTask(ctx context.Context, id string, to task.State) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	existing, err := o.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	from := existing.State

	return o.run(ctx, journal.Transition{Kind: journal.TransitionTaskState, TaskID: id, FromTask: string(from), ToTask: string(to)},
		"TaskStateChanged", func() (map[string]interface{}, error) {
			t, err := o.tasks.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			now := o.clock.Now()
			project := firstProject(t)
			if err := t.Transition(to, now); err != nil {
				return nil, err
			}
			if err := o.tasks.Upsert(ctx, t); err != nil {
				return nil, err
			}
			o.sessions.Append(sessionstore.Record{
				ID: uuid.NewString(), TaskID: id,
				StepType: fmt.Sprintf("task_%s", to), StartedAt: now, EndedAt: now,
			})

			if o.matrix != nil {
				if to == task.StateRunning && o.lastActive != nil && o.lastActive.project != project {
					o.matrix.Observe(o.lastActive.project, project, int(now.Sub(o.lastActive.at).Minutes()), true)
				}
				if from == task.StateRunning {
					o.lastActive = &activeTask{project: project, at: now}
				}
			}
			return map[string]interface{}{"task_id": id, "from": string(from), "to": string(to)}, nil
		})
}

// firstProject returns the lexicographically smallest project of a task's
// project set for switch-cost bookkeeping (§3's SwitchCostMatrix keys on a
// single from/to context, not a set) — stable across calls, unlike map
// iteration order.
func firstProject(t *task.Task) string {
	var best string
	for p := range t.Projects {
		if best == "" || p < best {
			best = p
		}
	}
	return best
}

// --- Journal queries (§6) ---

func (o *Orchestrator) GetPendingJournal(ctx context.Context) ([]*journal.Entry, error) {
	return o.journal.GetPending(ctx)
}

func (o *Orchestrator) JournalStats(ctx context.Context) (journal.Stats, error) {
	return o.journal.GetStats(ctx)
}

func (o *Orchestrator) PlanRecovery(ctx context.Context) (recovery.Plan, error) {
	now := o.clock.Now()
	return recovery.New(o.journal, o.recoveryCfg).Plan(ctx, now)
}

func (o *Orchestrator) RunRecovery(ctx context.Context, plan recovery.Plan) recovery.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return recovery.New(o.journal, o.recoveryCfg).Run(ctx, plan, o.clock.Now(), o.applyTransition)
}

// CompactJournal removes Committed entries older than retention (§4.7
// compact()).
func (o *Orchestrator) CompactJournal(ctx context.Context, retention time.Duration) (int, error) {
	return o.journal.Compact(ctx, retention, o.clock.Now())
}
