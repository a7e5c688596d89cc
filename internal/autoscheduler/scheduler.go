package autoscheduler

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orbitflow/taskdaemon/internal/scorer"
	"github.com/orbitflow/taskdaemon/internal/streakdecay"
	"github.com/orbitflow/taskdaemon/internal/task"
)

// Generate lays out a single day's ScheduledBlocks per §4.4. It is a pure
// function of its inputs: identical (template, tasks, events, day, seed)
// always produces byte-identical output, satisfying the determinism
// invariant in §8. seed drives the tie-break RNG only — every other
// decision is made by sorting and scoring.
func Generate(ctx context.Context, template DailyTemplate, tasks []*task.Task, events []CalendarEvent, cfg Config, seed uint64) Result {
	decay := cfg.StreakDecay
	if decay == nil {
		decay = streakdecay.New()
	}
	g := &generation{
		cfg:    cfg,
		rng:    newRNG(seed),
		now:    template.WakeUp,
		streak: cfg.InitialStreak,
		decay:  decay,
	}
	return g.run(ctx, template, tasks, events)
}

type generation struct {
	cfg Config
	rng *rng

	busy        []Interval
	blocks      []ScheduledBlock
	unplaced    []Unplaced
	focusCount  int
	lastPlaced  *task.Task
	now         time.Time

	// streak is the streak-without-break signal fed to the scorer
	// (§4.3 break_compliance), separate from focusCount's pomodoro-cadence
	// counting: a break decays streak but does not reset focusCount.
	streak      int
	decay       *streakdecay.Calculator
	slack       []SlackBlock
	reclaimable *SlackBlock
}

func (g *generation) run(ctx context.Context, template DailyTemplate, tasks []*task.Task, events []CalendarEvent) Result {
	for _, ev := range events {
		if ev.End.After(ev.Start) {
			g.busy = append(g.busy, Interval{Start: ev.Start, End: ev.End})
		}
	}
	g.busy = append(g.busy, template.MealWindows...)
	g.busy = append(g.busy, template.FixedBreaks...)
	g.busy = mergeIntervals(g.busy)
	g.reserveReclaimableTail(template.Sleep)

	var fixed, flex, durationOnly []*task.Task
	for _, t := range tasks {
		if !eligible(t) {
			continue
		}
		switch t.Kind {
		case task.KindFixedEvent:
			fixed = append(fixed, t)
		case task.KindFlexWindow:
			flex = append(flex, t)
		case task.KindDurationOnly:
			durationOnly = append(durationOnly, t)
		}
	}

	g.placeFixed(fixed)
	g.placeFlex(ctx, flex)
	g.placeDurationOnly(ctx, durationOnly, template.WakeUp, template.Sleep)

	sort.Slice(g.blocks, func(i, j int) bool { return g.blocks[i].Start.Before(g.blocks[j].Start) })

	reclaimed := 0.0
	if g.reclaimable != nil && g.reclaimable.UsedMinutes > 0 {
		reclaimed = g.reclaimable.minutes()
	}
	slack := g.slack
	if g.reclaimable != nil {
		slack = append(slack, *g.reclaimable)
	}
	return Result{Blocks: g.blocks, Unplaced: g.unplaced, Slack: slack, ReclaimedSlackMinutes: reclaimed, FinalStreak: g.streak}
}

// placeFixed handles §4.4 step 2: FixedEvent tasks are placed verbatim at
// their configured times; conflicts are reported, never silently resolved.
func (g *generation) placeFixed(fixed []*task.Task) {
	sort.Slice(fixed, func(i, j int) bool { return fixed[i].FixedStartAt.Before(*fixed[j].FixedStartAt) })
	for _, t := range fixed {
		iv := Interval{Start: *t.FixedStartAt, End: *t.FixedEndAt}
		if g.overlapsBusyOrPlaced(iv) {
			g.unplaced = append(g.unplaced, Unplaced{TaskID: t.ID, Reason: ReasonFixedOverlap, RemainingMinutes: t.RequiredMinutes})
			continue
		}
		g.blocks = append(g.blocks, ScheduledBlock{
			TaskID: t.ID, TaskTitle: t.Title, Start: iv.Start, End: iv.End,
			BlockType: BlockFixed, Priority: t.Priority,
		})
		g.busy = append(g.busy, iv)
		g.busy = mergeIntervals(g.busy)
	}
}

// placeFlex handles §4.4 step 3: for each FlexWindow task (earliest
// deadline first), scan candidate sub-intervals of its window at
// cfg.CandidateStepMinutes granularity and keep the one the scorer likes
// best. Candidates are scored concurrently with an errgroup, grounded on
// the teacher's use of golang.org/x/sync (transitively, via go-redis) —
// promoted here to a direct errgroup.Group use.
func (g *generation) placeFlex(ctx context.Context, flex []*task.Task) {
	sort.Slice(flex, func(i, j int) bool {
		if !flex[i].WindowEndAt.Equal(*flex[j].WindowEndAt) {
			return flex[i].WindowEndAt.Before(*flex[j].WindowEndAt)
		}
		if flex[i].Priority != flex[j].Priority {
			return flex[i].Priority > flex[j].Priority
		}
		return flex[i].CreatedAt.Before(flex[j].CreatedAt)
	})

	for _, t := range flex {
		bufferedWindow, bufferBlock := g.reserveDeadlineSlack(t)
		windowGaps := g.freeGapsWithin(bufferedWindow)
		candidate, ok := g.bestCandidate(ctx, t, windowGaps)
		if !ok {
			if len(windowGaps) == 0 {
				g.unplaced = append(g.unplaced, Unplaced{TaskID: t.ID, Reason: ReasonWindowConflict, RemainingMinutes: t.RequiredMinutes})
			} else if t.AllowSplit {
				g.splitAcrossGaps(t, windowGaps)
			} else {
				g.unplaced = append(g.unplaced, Unplaced{TaskID: t.ID, Reason: ReasonNoGap, RemainingMinutes: t.RequiredMinutes})
			}
			continue
		}
		if bufferBlock != nil {
			g.slack = append(g.slack, *bufferBlock)
			g.busy = append(g.busy, Interval{Start: bufferBlock.Start, End: bufferBlock.End})
			g.busy = mergeIntervals(g.busy)
		}
		g.placeFocusBlock(t, candidate.Start, candidate.End)
	}
}

// bestCandidate scores every CandidateStepMinutes-aligned start position
// across gaps (that is long enough for t.RequiredMinutes) and returns the
// highest scoring one, ties broken by the earliest start.
func (g *generation) bestCandidate(ctx context.Context, t *task.Task, gaps []Interval) (Interval, bool) {
	type scored struct {
		iv    Interval
		score float64
	}
	var candidates []Interval
	step := time.Duration(g.cfg.CandidateStepMinutes) * time.Minute
	required := time.Duration(t.RequiredMinutes) * time.Minute
	for _, gap := range gaps {
		if gap.minutes() < float64(t.RequiredMinutes) {
			continue
		}
		for start := gap.Start; !start.Add(required).After(gap.End); start = start.Add(step) {
			candidates = append(candidates, Interval{Start: start, End: start.Add(required)})
		}
	}
	if len(candidates) == 0 {
		return Interval{}, false
	}

	results := make([]scored, len(candidates))
	eg, _ := errgroup.WithContext(ctx)
	for i, c := range candidates {
		i, c := i, c
		eg.Go(func() error {
			res := scorer.Score(t, scorer.Window{Start: c.Start, End: c.End}, g.lastPlaced, c.Start.Hour(), g.streak, g.cfg.Weights)
			results[i] = scored{iv: c, score: res.TotalScore}
			return nil
		})
	}
	_ = eg.Wait()

	best := results[0]
	for _, r := range results[1:] {
		if r.score > best.score || (r.score == best.score && r.iv.Start.Before(best.iv.Start)) {
			best = r
		}
	}
	return best.iv, true
}

// splitAcrossGaps implements §4.4 step 6 for a FlexWindow task whose
// required_minutes exceeds any single gap: emit sequential child blocks,
// one per gap, floor-bounded by cfg.MinSplitSegmentMinutes, until the
// requirement is satisfied or gaps run out; report the remainder.
func (g *generation) splitAcrossGaps(t *task.Task, gaps []Interval) {
	remaining := t.RequiredMinutes
	segment := 0
	for _, gap := range gaps {
		if remaining <= 0 {
			break
		}
		available := int(gap.minutes())
		if available < g.cfg.MinSplitSegmentMinutes {
			continue
		}
		take := remaining
		if take > available {
			take = available
		}
		end := gap.Start.Add(time.Duration(take) * time.Minute)
		g.blocks = append(g.blocks, ScheduledBlock{
			TaskID: t.ID, TaskTitle: t.Title, Start: gap.Start, End: end,
			BlockType: BlockFocus, Priority: t.Priority,
			ParentTaskID: t.ID, SegmentOrder: segment,
		})
		g.busy = append(g.busy, Interval{Start: gap.Start, End: end})
		g.busy = mergeIntervals(g.busy)
		remaining -= take
		segment++
		g.focusCount++
		g.lastPlaced = t
	}
	if remaining > 0 {
		g.unplaced = append(g.unplaced, Unplaced{TaskID: t.ID, Reason: ReasonNoGap, RemainingMinutes: remaining})
	}
}

// placeDurationOnly implements §4.4 step 4: greedily fill remaining gaps,
// re-scoring the surviving candidate pool against the current gap cursor
// each time a task is placed so later placements see an accurate
// context-switch/energy-fit picture.
func (g *generation) placeDurationOnly(ctx context.Context, pool []*task.Task, workStart, workEnd time.Time) {
	remainingPool := make([]*task.Task, len(pool))
	copy(remainingPool, pool)

	for {
		gaps := g.freeGapsWithin(Interval{Start: workStart, End: workEnd})
		if len(gaps) == 0 || len(remainingPool) == 0 {
			break
		}
		gap := gaps[0]
		placedAny := false

		for {
			winnerIdx, winnerIv, ok := g.bestFittingCandidate(ctx, remainingPool, gap)
			if !ok {
				break
			}
			t := remainingPool[winnerIdx]
			g.placeFocusBlock(t, winnerIv.Start, winnerIv.End)
			remainingPool = append(remainingPool[:winnerIdx], remainingPool[winnerIdx+1:]...)
			placedAny = true

			gaps = g.freeGapsWithin(Interval{Start: workStart, End: workEnd})
			gap = Interval{}
			for _, ngap := range gaps {
				if !ngap.Start.Before(winnerIv.End) {
					gap = ngap
					break
				}
			}
			if gap == (Interval{}) {
				break
			}
		}
		if !placedAny {
			// Nothing in the pool fits this gap; try giving back the
			// trailing reclaimable slack block before giving up on it,
			// in case the freed minutes extend this gap enough to fit.
			if g.reclaimTail() {
				continue
			}
			// Still nothing fits; drop the gap by nudging past it so the
			// outer loop makes progress.
			g.busy = append(g.busy, gap)
			g.busy = mergeIntervals(g.busy)
		}
	}

	for _, t := range remainingPool {
		if t.AllowSplit {
			gaps := g.freeGapsWithin(Interval{Start: workStart, End: workEnd})
			g.splitAcrossGaps(t, gaps)
			continue
		}
		g.unplaced = append(g.unplaced, Unplaced{TaskID: t.ID, Reason: ReasonNoGap, RemainingMinutes: t.RequiredMinutes})
	}
}

// bestFittingCandidate finds, among pool, the task that fits at the start
// of gap and maximizes total_score there; ties broken by priority then
// created_at per §4.4 step 4.
func (g *generation) bestFittingCandidate(ctx context.Context, pool []*task.Task, gap Interval) (int, Interval, bool) {
	type scored struct {
		idx   int
		iv    Interval
		score float64
	}
	var fits []scored
	for i, t := range pool {
		if float64(t.RequiredMinutes) > gap.minutes() {
			continue
		}
		end := gap.Start.Add(time.Duration(t.RequiredMinutes) * time.Minute)
		res := scorer.Score(t, scorer.Window{Start: gap.Start, End: end}, g.lastPlaced, gap.Start.Hour(), g.streak, g.cfg.Weights)
		fits = append(fits, scored{idx: i, iv: Interval{Start: gap.Start, End: end}, score: res.TotalScore})
	}
	if len(fits) == 0 {
		return 0, Interval{}, false
	}
	sort.SliceStable(fits, func(i, j int) bool {
		if fits[i].score != fits[j].score {
			return fits[i].score > fits[j].score
		}
		if pool[fits[i].idx].Priority != pool[fits[j].idx].Priority {
			return pool[fits[i].idx].Priority > pool[fits[j].idx].Priority
		}
		return pool[fits[i].idx].CreatedAt.Before(pool[fits[j].idx].CreatedAt)
	})

	// When score, priority and created_at all tie with the leader, §4.4's
	// tie-break is underspecified (an Open Question, resolved in DESIGN.md):
	// use the seeded RNG so the choice is still deterministic per (seed, inputs).
	tied := 1
	for tied < len(fits) &&
		fits[tied].score == fits[0].score &&
		pool[fits[tied].idx].Priority == pool[fits[0].idx].Priority &&
		pool[fits[tied].idx].CreatedAt.Equal(pool[fits[0].idx].CreatedAt) {
		tied++
	}
	best := fits[g.rng.intn(tied)]
	return best.idx, best.iv, true
}

// placeFocusBlock records a Focus block for t, then inserts the
// appropriate Break or LongBreak per §4.4 step 5.
func (g *generation) placeFocusBlock(t *task.Task, start, end time.Time) {
	g.blocks = append(g.blocks, ScheduledBlock{
		TaskID: t.ID, TaskTitle: t.Title, Start: start, End: end,
		BlockType: BlockFocus, Priority: t.Priority, PomodoroCount: 1,
	})
	g.busy = append(g.busy, Interval{Start: start, End: end})
	g.busy = mergeIntervals(g.busy)
	g.lastPlaced = t
	g.focusCount++
	g.streak++

	breakStart := g.reserveVolatilityBuffer(t, end)

	isLong := g.cfg.PomodorosBeforeLongBreak > 0 && g.focusCount%g.cfg.PomodorosBeforeLongBreak == 0
	breakMin := g.cfg.breakMinutes(isLong)
	if breakMin <= 0 {
		return
	}
	breakEnd := breakStart.Add(time.Duration(breakMin) * time.Minute)
	if g.overlapsBusyOrPlaced(Interval{Start: breakStart, End: breakEnd}) {
		return
	}
	g.blocks = append(g.blocks, ScheduledBlock{
		TaskID: "", TaskTitle: breakLabel(isLong), Start: breakStart, End: breakEnd,
		BlockType: BlockBreak,
	})
	g.busy = append(g.busy, Interval{Start: breakStart, End: breakEnd})
	g.busy = mergeIntervals(g.busy)

	// A break erodes the streak rather than resetting it outright: a short
	// break only costs a voluntary-pause fraction, a long break costs the
	// heavier extended-break fraction, both scaled further by how long the
	// break actually runs (streakdecay.Calculator.Decay).
	interruption := streakdecay.VoluntaryPause
	if isLong {
		interruption = streakdecay.ExtendedBreak
	}
	g.streak = g.decay.Decay(g.streak, interruption, time.Duration(breakMin)*time.Minute)
}

func breakLabel(isLong bool) string {
	if isLong {
		return "Long break"
	}
	return "Break"
}

func (g *generation) overlapsBusyOrPlaced(iv Interval) bool {
	for _, b := range g.busy {
		if iv.overlaps(b) {
			return true
		}
	}
	return false
}

// freeGapsWithin returns the gaps of window not covered by g.busy,
// sorted and clipped to window (§4.4 step 1/3: "zero-duration windows
// skip").
func (g *generation) freeGapsWithin(window Interval) []Interval {
	if !window.End.After(window.Start) {
		return nil
	}
	busy := mergeIntervals(append([]Interval{}, g.busy...))
	var gaps []Interval
	cursor := window.Start
	for _, b := range busy {
		if b.End.Before(window.Start) || !b.Start.Before(window.End) {
			continue
		}
		bs, be := b.Start, b.End
		if bs.Before(window.Start) {
			bs = window.Start
		}
		if be.After(window.End) {
			be = window.End
		}
		if bs.After(cursor) {
			gaps = append(gaps, Interval{Start: cursor, End: bs})
		}
		if be.After(cursor) {
			cursor = be
		}
	}
	if cursor.Before(window.End) {
		gaps = append(gaps, Interval{Start: cursor, End: window.End})
	}
	return gaps
}

// mergeIntervals sorts and unions overlapping/adjacent intervals (§4.4
// "overlapping calendar events collapse to their union").
func mergeIntervals(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := append([]Interval{}, ivs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
