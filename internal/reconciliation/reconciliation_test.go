package reconciliation

import (
	"testing"
	"time"

	"github.com/orbitflow/taskdaemon/internal/task"
)

func runningTask(t *testing.T, id string, updatedAt time.Time) *task.Task {
	t.Helper()
	tk, err := task.NewTask(id, id, task.KindDurationOnly, 30, updatedAt)
	if err != nil {
		t.Fatalf("NewTask(%s): %v", id, err)
	}
	if err := tk.Transition(task.StateRunning, updatedAt); err != nil {
		t.Fatalf("Transition(%s) to Running: %v", id, err)
	}
	return tk
}

// TestReconciliationScenario drives §8 scenario 4.
func TestReconciliationScenario(t *testing.T) {
	now := time.Now()
	t1 := runningTask(t, "T1", now.Add(-60*time.Minute))
	t2 := runningTask(t, "T2", now.Add(-10*time.Minute))
	t3, _ := task.NewTask("T3", "T3", task.KindDurationOnly, 30, now.Add(-90*time.Minute))
	t3.Transition(task.StateRunning, now.Add(-90*time.Minute))
	t3.Transition(task.StatePaused, now.Add(-60*time.Minute))

	out, summary := Reconcile([]*task.Task{t1, t2, t3}, now, Config{StaleThresholdMinutes: 30, AutoPause: true})

	if summary.ReconciledCount() != 1 {
		t.Fatalf("ReconciledCount = %d, want 1", summary.ReconciledCount())
	}
	r := summary.Reconciled[0]
	if r.ID != "T1" {
		t.Fatalf("reconciled task = %s, want T1", r.ID)
	}
	if r.NewState != task.StatePaused {
		t.Fatalf("NewState = %v, want Paused", r.NewState)
	}
	if want := 30.0; absDiff(r.StaleDurationMinutes, want) > 0.01 {
		t.Fatalf("StaleDurationMinutes = %v, want %v", r.StaleDurationMinutes, want)
	}
	if r.ResumeHint != "task resume T1" {
		t.Fatalf("ResumeHint = %q, want %q", r.ResumeHint, "task resume T1")
	}

	var outT1, outT2, outT3 *task.Task
	for _, tk := range out {
		switch tk.ID {
		case "T1":
			outT1 = tk
		case "T2":
			outT2 = tk
		case "T3":
			outT3 = tk
		}
	}
	if outT1.State != task.StatePaused {
		t.Fatalf("T1 state in output = %v, want Paused", outT1.State)
	}
	if outT2.State != task.StateRunning {
		t.Fatalf("T2 must be left unchanged, got %v", outT2.State)
	}
	if outT3.State != task.StatePaused {
		t.Fatalf("T3 (already Paused) must be left unchanged, got %v", outT3.State)
	}

	// Second call must be idempotent: T1 is now Paused and never re-evaluated.
	_, summary2 := Reconcile(out, now, Config{StaleThresholdMinutes: 30, AutoPause: true})
	if summary2.ReconciledCount() != 0 {
		t.Fatalf("second reconcile: ReconciledCount = %d, want 0 (idempotent)", summary2.ReconciledCount())
	}
}

func TestReportOnlyWhenAutoPauseDisabled(t *testing.T) {
	now := time.Now()
	t1 := runningTask(t, "T1", now.Add(-60*time.Minute))
	out, summary := Reconcile([]*task.Task{t1}, now, Config{StaleThresholdMinutes: 30, AutoPause: false})

	if summary.ReconciledCount() != 1 {
		t.Fatalf("expected the stale task still reported, got count=%d", summary.ReconciledCount())
	}
	if out[0].State != task.StateRunning {
		t.Fatalf("AutoPause=false must leave state unchanged, got %v", out[0].State)
	}
	if summary.Reconciled[0].NewState != task.StateRunning {
		t.Fatalf("NewState with AutoPause=false should equal OriginalState, got %v", summary.Reconciled[0].NewState)
	}
}

func TestThresholdClampedToBounds(t *testing.T) {
	cfg := Config{StaleThresholdMinutes: 0, AutoPause: true}.Clamped()
	if cfg.StaleThresholdMinutes != 1 {
		t.Fatalf("clamp low: got %d, want 1", cfg.StaleThresholdMinutes)
	}
	cfg = Config{StaleThresholdMinutes: 99999, AutoPause: true}.Clamped()
	if cfg.StaleThresholdMinutes != 1440 {
		t.Fatalf("clamp high: got %d, want 1440", cfg.StaleThresholdMinutes)
	}
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
