package suggester

import (
	"context"
	"testing"
	"time"

	"github.com/orbitflow/taskdaemon/internal/task"
)

func mkTask(t *testing.T, id string, priority, required int, energy task.Energy, createdAt time.Time) *task.Task {
	t.Helper()
	tk, err := task.NewTask(id, id, task.KindDurationOnly, required, createdAt)
	if err != nil {
		t.Fatalf("NewTask(%s): %v", id, err)
	}
	tk.Priority = priority
	tk.Energy = energy
	return tk
}

func TestSuggestNextTasksFiltersToReadyActive(t *testing.T) {
	ready := mkTask(t, "ready", 50, 30, task.EnergyMedium, time.Now())
	paused := mkTask(t, "paused", 50, 30, task.EnergyMedium, time.Now())
	paused.State = task.StatePaused
	archived := mkTask(t, "archived", 50, 30, task.EnergyMedium, time.Now())
	archived.Category = task.CategoryArchived

	out := SuggestNextTasks(context.Background(), Context{Energy: 50, Now: time.Now()}, []*task.Task{ready, paused, archived}, 3)
	if len(out) != 1 || out[0].TaskID != "ready" {
		t.Fatalf("expected only the Ready/Active task, got %+v", out)
	}
}

func TestSuggestNextTasksEmptyInventory(t *testing.T) {
	out := SuggestNextTasks(context.Background(), Context{}, nil, 3)
	if out != nil {
		t.Fatalf("expected nil/empty suggestions for an empty inventory, got %+v", out)
	}
}

func TestSuggestNextTasksTruncatesToK(t *testing.T) {
	var tasks []*task.Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, mkTask(t, string(rune('a'+i)), 50, 30, task.EnergyMedium, time.Now().Add(time.Duration(i)*time.Minute)))
	}
	out := SuggestNextTasks(context.Background(), Context{Now: time.Now()}, tasks, 3)
	if len(out) != 3 {
		t.Fatalf("expected 3 suggestions (K truncation), got %d", len(out))
	}
}

func TestScoreHighPriorityBoost(t *testing.T) {
	tk := mkTask(t, "t1", 90, 30, task.EnergyMedium, time.Now())
	s := score(tk, Context{Energy: 50, Now: time.Now()})
	if s.Score <= 50 {
		t.Fatalf("high priority task should score above the base 50, got %d", s.Score)
	}
}

func TestScoreLowPriorityPenalty(t *testing.T) {
	// Energy deliberately mismatched so the -20 priority penalty isn't
	// canceled out by the +20 energy-match bonus.
	tk := mkTask(t, "t1", 10, 30, task.EnergyLow, time.Now())
	s := score(tk, Context{Energy: 50, Now: time.Now()})
	if s.Score >= 50 {
		t.Fatalf("low priority task should score below the base 50, got %d", s.Score)
	}
}

func TestScoreQuickWinBoost(t *testing.T) {
	// Energy deliberately mismatched (task Low vs context bucket Medium) so
	// the +15 quick-win contribution is the only, and thus strongest, one.
	tk := mkTask(t, "t1", 50, 10, task.EnergyLow, time.Now())
	s := score(tk, Context{Energy: 50, Now: time.Now()})
	if s.Reason != ReasonQuickWin {
		t.Fatalf("expected QuickWin as the strongest reason, got %v (score %d)", s.Reason, s.Score)
	}
}

func TestScoreEnergyMatch(t *testing.T) {
	tk := mkTask(t, "t1", 50, 30, task.EnergyHigh, time.Now())
	s := score(tk, Context{Energy: 90, Now: time.Now()}) // 90 -> High bucket
	if s.Reason != ReasonEnergyMatch {
		t.Fatalf("expected EnergyMatch reason, got %v", s.Reason)
	}
}

func TestScoreRoundsToNearestFive(t *testing.T) {
	tk := mkTask(t, "t1", 50, 30, task.EnergyMedium, time.Now())
	s := score(tk, Context{Energy: 50, Now: time.Now()})
	if s.Score%5 != 0 {
		t.Fatalf("score must round to the nearest multiple of 5, got %d", s.Score)
	}
}

func TestScoreSaturatesToBounds(t *testing.T) {
	tk := mkTask(t, "t1", 5, 90, task.EnergyLow, time.Now())
	s := score(tk, Context{Energy: 95, Now: time.Now()}) // energy mismatch, low priority, long task
	if s.Score < 0 || s.Score > 100 {
		t.Fatalf("score must saturate to [0,100], got %d", s.Score)
	}
}

func TestShouldTakeBreakLowEnergy(t *testing.T) {
	if !ShouldTakeBreak(Context{Energy: 20}, DefaultConfig()) {
		t.Fatal("low energy should trigger a break")
	}
}

func TestShouldTakeBreakLongSinceLast(t *testing.T) {
	if !ShouldTakeBreak(Context{Energy: 80, TimeSinceLastBreakMin: 150}, DefaultConfig()) {
		t.Fatal("a long time since the last break should trigger a break")
	}
}

func TestShouldTakeBreakPomodoroCadence(t *testing.T) {
	cfg := Config{PomodorosBeforeLongBreak: 4}
	if !ShouldTakeBreak(Context{Energy: 80, TimeSinceLastBreakMin: 10, CompletedSessions: 4}, cfg) {
		t.Fatal("completing a multiple of the pomodoro cadence should trigger a break")
	}
	if ShouldTakeBreak(Context{Energy: 80, TimeSinceLastBreakMin: 10, CompletedSessions: 3}, cfg) {
		t.Fatal("not on the cadence boundary should not force a break")
	}
}

func TestSuggestBreakDurationLongCycle(t *testing.T) {
	cfg := Config{PomodorosBeforeLongBreak: 4}
	minutes, isLong := SuggestBreakDuration(Context{CompletedSessions: 8}, cfg, 5, 15)
	if !isLong || minutes != 15 {
		t.Fatalf("expected a long break of 15m on the cadence boundary, got %d/%v", minutes, isLong)
	}
	minutes, isLong = SuggestBreakDuration(Context{CompletedSessions: 1}, cfg, 5, 15)
	if isLong || minutes != 5 {
		t.Fatalf("expected a short break of 5m off the cadence boundary, got %d/%v", minutes, isLong)
	}
}
