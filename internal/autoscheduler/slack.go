package autoscheduler

import (
	"time"

	"github.com/orbitflow/taskdaemon/internal/task"
)

// SlackType distinguishes the buffer kinds the original's
// scheduler/slack.rs names: a DeadlineBuffer protects a FlexWindow
// task's deadline from an upstream overrun, a VolatilityBuffer absorbs a
// single task's own overrun risk, and a Reclaimable block is unassigned
// contingency time that placement can take back if the day runs short
// on gaps.
type SlackType string

const (
	SlackDeadlineBuffer   SlackType = "deadline_buffer"
	SlackVolatilityBuffer SlackType = "volatility_buffer"
	SlackReclaimable      SlackType = "reclaimable"
)

// SlackConfig bounds the slack-insertion policy (§4.4 enrichment). The
// zero value disables insertion: every field defaults to 0/nil, so a
// caller that does not care about buffers gets the pre-enrichment
// behavior for free.
type SlackConfig struct {
	// DeadlineBufferMinutes is reserved immediately before a FlexWindow
	// task's window_end_at, unavailable to any other placement.
	DeadlineBufferMinutes int
	// VolatilityPercent maps a task's declared Volatility to the fraction
	// of its placed duration reserved as a buffer right after it.
	VolatilityPercent map[task.Volatility]float64
	// ReclaimableMinutes is reserved at the end of the working day as
	// contingency; placeDurationOnly reclaims it if a task would
	// otherwise go unplaced.
	ReclaimableMinutes int
}

// DefaultSlackConfig mirrors the original's SlackConfig::default(): a
// 15-minute deadline buffer, volatility percentages of 10/20/35% and a
// 10-minute reclaimable tail.
func DefaultSlackConfig() SlackConfig {
	return SlackConfig{
		DeadlineBufferMinutes: 15,
		VolatilityPercent: map[task.Volatility]float64{
			task.VolatilityLow:    0.10,
			task.VolatilityMedium: 0.20,
			task.VolatilityHigh:   0.35,
		},
		ReclaimableMinutes: 10,
	}
}

func (c SlackConfig) volatilityPercent(v task.Volatility) float64 {
	if c.VolatilityPercent == nil {
		return 0
	}
	return c.VolatilityPercent[v]
}

// SlackBlock is a reserved span of time inserted alongside a placement.
// Only a Reclaimable block can be taken back once reserved.
type SlackBlock struct {
	Type        SlackType
	TaskID      string
	Start       time.Time
	End         time.Time
	UsedMinutes float64
}

func (b SlackBlock) minutes() float64 { return b.End.Sub(b.Start).Minutes() }

func (b SlackBlock) remaining() float64 {
	r := b.minutes() - b.UsedMinutes
	if r < 0 {
		return 0
	}
	return r
}

// reserveDeadlineSlack shrinks a FlexWindow task's searchable window by
// DeadlineBufferMinutes, returning the shrunk window and, if any buffer
// was actually reserved, the SlackBlock describing it.
func (g *generation) reserveDeadlineSlack(t *task.Task) (Interval, *SlackBlock) {
	window := Interval{Start: *t.WindowStartAt, End: *t.WindowEndAt}
	bufferMin := g.cfg.Slack.DeadlineBufferMinutes
	if bufferMin <= 0 {
		return window, nil
	}
	bufferStart := window.End.Add(-time.Duration(bufferMin) * time.Minute)
	if !bufferStart.After(window.Start) {
		return window, nil
	}
	block := SlackBlock{Type: SlackDeadlineBuffer, TaskID: t.ID, Start: bufferStart, End: window.End}
	window.End = bufferStart
	return window, &block
}

// reserveVolatilityBuffer reserves VolatilityPercent(t.Volatility) of a
// just-placed block's own duration immediately after it, returning the
// new cursor the next busy/break insertion should start from.
func (g *generation) reserveVolatilityBuffer(t *task.Task, blockEnd time.Time) time.Time {
	pct := g.cfg.Slack.volatilityPercent(t.Volatility)
	if pct <= 0 {
		return blockEnd
	}
	placedMinutes := float64(t.RequiredMinutes)
	bufferMin := placedMinutes * pct
	if bufferMin < 1 {
		return blockEnd
	}
	bufferEnd := blockEnd.Add(time.Duration(bufferMin * float64(time.Minute)))
	block := SlackBlock{Type: SlackVolatilityBuffer, TaskID: t.ID, Start: blockEnd, End: bufferEnd}
	g.slack = append(g.slack, block)
	g.busy = append(g.busy, Interval{Start: blockEnd, End: bufferEnd})
	g.busy = mergeIntervals(g.busy)
	return bufferEnd
}

// reserveReclaimableTail reserves the day's trailing contingency block,
// busy until reclaimed.
func (g *generation) reserveReclaimableTail(sleep time.Time) {
	min := g.cfg.Slack.ReclaimableMinutes
	if min <= 0 {
		return
	}
	start := sleep.Add(-time.Duration(min) * time.Minute)
	if !start.Before(sleep) {
		return
	}
	g.reclaimable = &SlackBlock{Type: SlackReclaimable, Start: start, End: sleep}
	g.busy = append(g.busy, Interval{Start: start, End: sleep})
	g.busy = mergeIntervals(g.busy)
}

// reclaimTail gives back the reclaimable tail block (if any, and not
// already reclaimed), so placeDurationOnly can retry a placement that
// would otherwise go unplaced. Returns whether anything was reclaimed.
func (g *generation) reclaimTail() bool {
	if g.reclaimable == nil || g.reclaimable.UsedMinutes > 0 {
		return false
	}
	g.reclaimable.UsedMinutes = g.reclaimable.minutes()
	reclaimed := Interval{Start: g.reclaimable.Start, End: g.reclaimable.End}
	g.busy = removeInterval(g.busy, reclaimed)
	return true
}

// removeInterval carves victim out of busy, splitting any interval that
// only partially overlaps it (e.g. because mergeIntervals folded the
// reclaimable block into a neighboring one).
func removeInterval(busy []Interval, victim Interval) []Interval {
	out := make([]Interval, 0, len(busy))
	for _, b := range busy {
		if !b.overlaps(victim) {
			out = append(out, b)
			continue
		}
		if b.Start.Before(victim.Start) {
			out = append(out, Interval{Start: b.Start, End: victim.Start})
		}
		if b.End.After(victim.End) {
			out = append(out, Interval{Start: victim.End, End: b.End})
		}
	}
	return out
}
