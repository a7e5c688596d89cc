package autoscheduler

import (
	"context"
	"testing"
	"time"

	"github.com/orbitflow/taskdaemon/internal/scorer"
	"github.com/orbitflow/taskdaemon/internal/task"
)

func day(hour, min int) time.Time {
	return time.Date(2026, 1, 1, hour, min, 0, 0, time.UTC)
}

func flexTask(t *testing.T, id string, start, end time.Time, required, priority int, energy task.Energy) *task.Task {
	t.Helper()
	// NewTask validates a FlexWindow's window up front, so it fails until
	// the window fields are set below; build then re-validate.
	tk, _ := task.NewTask(id, id, task.KindFlexWindow, required, start.Add(-time.Hour))
	tk.WindowStartAt = &start
	tk.WindowEndAt = &end
	tk.Priority = priority
	tk.Energy = energy
	if err := tk.Validate(); err != nil {
		t.Fatalf("flexTask(%s): %v", id, err)
	}
	return tk
}

func durationTask(t *testing.T, id string, required, priority int, energy task.Energy, createdAt time.Time) *task.Task {
	t.Helper()
	tk, err := task.NewTask(id, id, task.KindDurationOnly, required, createdAt)
	if err != nil {
		t.Fatalf("NewTask(%s): %v", id, err)
	}
	tk.Priority = priority
	tk.Energy = energy
	return tk
}

func fixedTask(t *testing.T, id string, start, end time.Time) *task.Task {
	t.Helper()
	tk, _ := task.NewTask(id, id, task.KindFixedEvent, int(end.Sub(start).Minutes()), start.Add(-time.Hour))
	tk.FixedStartAt = &start
	tk.FixedEndAt = &end
	if err := tk.Validate(); err != nil {
		t.Fatalf("fixedTask(%s): %v", id, err)
	}
	return tk
}

// TestGreedyPlacement drives §8 scenario 3: task A (FlexWindow, high energy,
// high priority) is placed before B (DurationOnly) because the morning
// favors high energy + higher priority, and the fixed event C sits untouched.
func TestGreedyPlacement(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(18, 0)}
	a := flexTask(t, "A", day(9, 0), day(12, 0), 60, 80, task.EnergyHigh)
	b := durationTask(t, "B", 30, 40, task.EnergyMedium, day(8, 0))
	c := fixedTask(t, "C", day(14, 0), day(15, 0))

	cfg := DefaultConfig()
	res := Generate(context.Background(), template, []*task.Task{a, b, c}, nil, cfg, 42)

	if len(res.Unplaced) != 0 {
		t.Fatalf("unexpected unplaced items: %+v", res.Unplaced)
	}

	var focusA, focusB, fixedC *ScheduledBlock
	for i := range res.Blocks {
		blk := &res.Blocks[i]
		switch blk.TaskID {
		case "A":
			focusA = blk
		case "B":
			focusB = blk
		case "C":
			fixedC = blk
		}
	}
	if focusA == nil || focusB == nil || fixedC == nil {
		t.Fatalf("expected blocks for A, B and C, got %+v", res.Blocks)
	}
	if !focusA.Start.Before(focusB.Start) {
		t.Fatalf("A (high energy/priority, morning) should be placed before B; A=%v B=%v", focusA.Start, focusB.Start)
	}
	if !fixedC.Start.Equal(day(14, 0)) || !fixedC.End.Equal(day(15, 0)) {
		t.Fatalf("fixed event C must be placed verbatim, got [%v,%v)", fixedC.Start, fixedC.End)
	}
}

func TestNonOverlapInvariant(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(18, 0)}
	var tasks []*task.Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, durationTask(t, string(rune('A'+i)), 30, 50, task.EnergyMedium, day(8, i)))
	}
	res := Generate(context.Background(), template, tasks, nil, DefaultConfig(), 7)

	for i := 0; i < len(res.Blocks); i++ {
		for j := i + 1; j < len(res.Blocks); j++ {
			a, b := res.Blocks[i], res.Blocks[j]
			if a.Start.Before(b.End) && b.Start.Before(a.End) {
				t.Fatalf("blocks overlap: %+v and %+v", a, b)
			}
		}
	}
}

func TestDeterministicAcrossRuns(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(18, 0)}
	mk := func() []*task.Task {
		return []*task.Task{
			durationTask(t, "A", 30, 60, task.EnergyMedium, day(8, 0)),
			durationTask(t, "B", 45, 60, task.EnergyMedium, day(8, 1)),
			flexTask(t, "C", day(9, 0), day(12, 0), 30, 70, task.EnergyHigh),
		}
	}
	r1 := Generate(context.Background(), template, mk(), nil, DefaultConfig(), 99)
	r2 := Generate(context.Background(), template, mk(), nil, DefaultConfig(), 99)

	if len(r1.Blocks) != len(r2.Blocks) {
		t.Fatalf("block count differs across identical runs: %d vs %d", len(r1.Blocks), len(r2.Blocks))
	}
	for i := range r1.Blocks {
		if r1.Blocks[i].TaskID != r2.Blocks[i].TaskID || !r1.Blocks[i].Start.Equal(r2.Blocks[i].Start) {
			t.Fatalf("block %d differs: %+v vs %+v", i, r1.Blocks[i], r2.Blocks[i])
		}
	}
}

func TestFixedEventConflictIsReported(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(18, 0)}
	c1 := fixedTask(t, "C1", day(10, 0), day(11, 0))
	c2 := fixedTask(t, "C2", day(10, 30), day(11, 30))
	res := Generate(context.Background(), template, []*task.Task{c1, c2}, nil, DefaultConfig(), 1)

	if len(res.Unplaced) != 1 {
		t.Fatalf("expected exactly one conflicting fixed event reported, got %+v", res.Unplaced)
	}
	if res.Unplaced[0].Reason != ReasonFixedOverlap {
		t.Fatalf("reason = %v, want fixed_overlap", res.Unplaced[0].Reason)
	}
}

func TestEmptyTaskListYieldsEmptyBlocks(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(18, 0)}
	res := Generate(context.Background(), template, nil, nil, DefaultConfig(), 1)
	if len(res.Blocks) != 0 || len(res.Unplaced) != 0 {
		t.Fatalf("expected empty schedule, got %+v", res)
	}
}

func TestOverlappingCalendarEventsCollapseToUnion(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(12, 0)}
	events := []CalendarEvent{
		{ID: "e1", Start: day(9, 0), End: day(10, 0)},
		{ID: "e2", Start: day(9, 30), End: day(10, 30)},
	}
	a := durationTask(t, "A", 90, 50, task.EnergyMedium, day(8, 0))
	res := Generate(context.Background(), template, []*task.Task{a}, events, DefaultConfig(), 1)

	var focusA *ScheduledBlock
	for i := range res.Blocks {
		if res.Blocks[i].TaskID == "A" {
			focusA = &res.Blocks[i]
		}
	}
	if focusA == nil {
		t.Fatalf("expected A placed once busy union leaves exactly one 90m gap, got %+v", res.Blocks)
	}
	if !focusA.Start.Equal(day(10, 30)) {
		t.Fatalf("A should start right after the merged busy interval ends at 10:30, got %v", focusA.Start)
	}
}

func TestSplitOnOverflowWhenAllowed(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(12, 0)}
	// Splits the 3h window into a 60m gap and a 90m gap; required (120m)
	// fits neither alone but fits their 150m sum, forcing a split.
	events := []CalendarEvent{{ID: "e1", Start: day(10, 0), End: day(10, 30)}}
	a := flexTask(t, "A", day(9, 0), day(12, 0), 120, 50, task.EnergyMedium)
	a.AllowSplit = true
	res := Generate(context.Background(), template, []*task.Task{a}, events, DefaultConfig(), 1)

	var segments []ScheduledBlock
	for _, blk := range res.Blocks {
		if blk.ParentTaskID == "A" {
			segments = append(segments, blk)
		}
	}
	if len(segments) < 2 {
		t.Fatalf("expected task A split across at least 2 segments, got %+v", segments)
	}
	for i, seg := range segments {
		if seg.SegmentOrder != i {
			t.Fatalf("segment order out of sequence: %+v", segments)
		}
	}
}

func TestUnplacedWhenSplitNotAllowed(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(10, 15)}
	// The window itself has room for the 30m requirement, but a calendar
	// event eats most of it down to a 15m gap once the window's own
	// 15-minute deadline buffer is reserved; with AllowSplit=false the
	// remainder must be reported, not silently dropped.
	events := []CalendarEvent{{ID: "e1", Start: day(9, 0), End: day(9, 45)}}
	a := flexTask(t, "A", day(9, 0), day(10, 15), 30, 50, task.EnergyMedium)
	a.AllowSplit = false

	res := Generate(context.Background(), template, []*task.Task{a}, events, DefaultConfig(), 1)
	if len(res.Unplaced) != 1 {
		t.Fatalf("expected A reported unplaced, got blocks=%+v unplaced=%+v", res.Blocks, res.Unplaced)
	}
	if res.Unplaced[0].Reason != ReasonNoGap {
		t.Fatalf("reason = %v, want no_gap", res.Unplaced[0].Reason)
	}
}

func TestCustomWeightsAffectPlacementOrder(t *testing.T) {
	template := DailyTemplate{WakeUp: day(9, 0), Sleep: day(18, 0)}
	a := flexTask(t, "A", day(9, 0), day(18, 0), 30, 90, task.EnergyHigh)
	b := flexTask(t, "B", day(9, 0), day(18, 0), 30, 10, task.EnergyLow)

	cfg := DefaultConfig()
	cfg.Weights = scorer.PresetDeadlineFocused
	res := Generate(context.Background(), template, []*task.Task{a, b}, nil, cfg, 1)
	if len(res.Blocks) == 0 {
		t.Fatal("expected at least one block placed")
	}
}
