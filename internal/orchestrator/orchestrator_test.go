package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/orbitflow/taskdaemon/internal/clock"
	"github.com/orbitflow/taskdaemon/internal/eventhub"
	"github.com/orbitflow/taskdaemon/internal/gatekeeper"
	"github.com/orbitflow/taskdaemon/internal/journal"
	"github.com/orbitflow/taskdaemon/internal/sessionstore"
	"github.com/orbitflow/taskdaemon/internal/switchcost"
	"github.com/orbitflow/taskdaemon/internal/task"
	"github.com/orbitflow/taskdaemon/internal/taskstore"
	"github.com/orbitflow/taskdaemon/internal/timer"
	"github.com/orbitflow/taskdaemon/internal/tuner"
)

func newTestOrchestrator(t *testing.T, now time.Time) (*Orchestrator, *taskstore.MemoryStore, *clock.Fake) {
	t.Helper()
	j := journal.NewMemoryStore()
	ts := taskstore.NewMemoryStore()
	ss := sessionstore.NewStore()
	tm := timer.NewEngine([]timer.Step{
		{Type: timer.Focus, DurationMs: 25 * 60 * 1000},
		{Type: timer.Break, DurationMs: 5 * 60 * 1000},
	})
	gk := gatekeeper.New(gatekeeper.DefaultConfig())
	ck := clock.NewFake(now)
	hub := eventhub.New()
	return New(j, ts, ss, tm, gk, ck, hub), ts, ck
}

func TestBootstrapPausesStaleRunningTaskThenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	orch, ts, _ := newTestOrchestrator(t, now)

	tk, err := task.NewTask("t1", "stale task", task.KindDurationOnly, 30, now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if err := tk.Transition(task.StateRunning, now.Add(-90*time.Minute)); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := ts.Upsert(ctx, tk); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	result, err := orch.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if result.Reconciliation.ReconciledCount() != 1 {
		t.Fatalf("expected 1 reconciled task, got %d", result.Reconciliation.ReconciledCount())
	}
	got, err := ts.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != task.StatePaused {
		t.Fatalf("task state after Bootstrap = %v, want Paused", got.State)
	}

	result2, err := orch.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if result2.Reconciliation.ReconciledCount() != 0 {
		t.Fatal("second Bootstrap must be idempotent: 0 newly reconciled tasks")
	}
}

func TestStartTimerRunsAndJournalsCommitted(t *testing.T) {
	ctx := context.Background()
	orch, _, _ := newTestOrchestrator(t, time.Now())
	if _, err := orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if err := orch.StartTimer(ctx); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	snap := orch.Snapshot()
	if snap.State != timer.Running {
		t.Fatalf("timer state = %v, want Running", snap.State)
	}

	stats, err := orch.JournalStats(ctx)
	if err != nil {
		t.Fatalf("JournalStats: %v", err)
	}
	if stats.Committed != 1 {
		t.Fatalf("expected 1 committed journal entry, got %+v", stats)
	}
}

func TestCreateTaskAssignsIDWhenEmpty(t *testing.T) {
	ctx := context.Background()
	orch, ts, _ := newTestOrchestrator(t, time.Now())
	if _, err := orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	tk, err := task.NewTask("", "no id yet", task.KindDurationOnly, 20, time.Now())
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if err := orch.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.ID == "" {
		t.Fatal("expected CreateTask to assign a non-empty ID")
	}
	if _, err := ts.Get(ctx, tk.ID); err != nil {
		t.Fatalf("expected the task to be stored under its assigned ID: %v", err)
	}
}

func TestUpdateTaskRollsBackJournalOnValidationFailure(t *testing.T) {
	ctx := context.Background()
	orch, _, _ := newTestOrchestrator(t, time.Now())
	if _, err := orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	invalid := &task.Task{ID: "bad", Kind: task.KindDurationOnly, RequiredMinutes: 0}
	if err := orch.UpdateTask(ctx, invalid); err == nil {
		t.Fatal("expected UpdateTask to fail on an invalid task")
	}

	stats, err := orch.JournalStats(ctx)
	if err != nil {
		t.Fatalf("JournalStats: %v", err)
	}
	if stats.RolledBack != 1 {
		t.Fatalf("expected 1 rolled-back journal entry, got %+v", stats)
	}
}

func TestTransitionTaskAppendsSessionRecordAndObservesSwitchCost(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	orch, ts, ck := newTestOrchestrator(t, now)
	if _, err := orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	matrix := switchcost.New(10)
	orch.ConfigureLearning(matrix, tuner.New(tuner.DefaultConfig(), nil), nil)

	a, err := task.NewTask("a", "task a", task.KindDurationOnly, 20, now)
	if err != nil {
		t.Fatalf("NewTask a: %v", err)
	}
	a.Projects = map[string]struct{}{"proj-a": {}}
	b, err := task.NewTask("b", "task b", task.KindDurationOnly, 20, now)
	if err != nil {
		t.Fatalf("NewTask b: %v", err)
	}
	b.Projects = map[string]struct{}{"proj-b": {}}
	if err := ts.Upsert(ctx, a); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := ts.Upsert(ctx, b); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}

	if err := orch.TransitionTask(ctx, "a", task.StateRunning); err != nil {
		t.Fatalf("TransitionTask a->running: %v", err)
	}
	ck.Advance(10 * time.Minute)
	if err := orch.TransitionTask(ctx, "a", task.StatePaused); err != nil {
		t.Fatalf("TransitionTask a->paused: %v", err)
	}
	if err := orch.TransitionTask(ctx, "b", task.StateRunning); err != nil {
		t.Fatalf("TransitionTask b->running: %v", err)
	}

	if n := len(orch.sessions.ForTask("a")); n != 2 {
		t.Fatalf("expected 2 session records for a (running, paused), got %d", n)
	}
	if cost := orch.SwitchCost("proj-a", "proj-b"); cost == switchcost.DefaultMinutes {
		t.Fatalf("expected a learned switch cost distinct from the unlearned default, got %d", cost)
	}
}

func TestSwitchCostDefaultsWhenNoMatrixConfigured(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, time.Now())
	if cost := orch.SwitchCost("x", "y"); cost != switchcost.DefaultMinutes {
		t.Fatalf("SwitchCost with no matrix configured = %d, want default %d", cost, switchcost.DefaultMinutes)
	}
}

func TestRecommendBreakZeroValueWithNoTunerConfigured(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, time.Now())
	if rec := orch.RecommendBreak(); rec != (tuner.Recommendation{}) {
		t.Fatalf("expected zero-value Recommendation with no tuner configured, got %+v", rec)
	}
}

func TestTickCompletesStepAndStartsGatekeeperPrompt(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	orch, _, ck := newTestOrchestrator(t, now)
	if _, err := orch.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if err := orch.StartTimer(ctx); err != nil {
		t.Fatalf("StartTimer: %v", err)
	}

	ck.Advance(26 * time.Minute) // past the 25-minute focus step
	if err := orch.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	snap := orch.Snapshot()
	if snap.State != timer.Drifting {
		t.Fatalf("timer state after overrunning the step = %v, want Drifting", snap.State)
	}

	ch := orch.NotificationChannel(ctx, gatekeeper.Context{})
	if ch != gatekeeper.ChannelBadge {
		t.Fatalf("immediately after completion the channel should still be Badge (Nudge level), got %v", ch)
	}
	if !orch.CanDismiss() {
		t.Fatal("a fresh Nudge-level prompt should be dismissable")
	}
}
