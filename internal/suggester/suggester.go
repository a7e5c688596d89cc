// Package suggester implements C9: on-demand next-task ranking under live
// context, plus the break-now heuristic and duration pick. Grounded on the
// teacher's scheduler.NodeHealth.CalculateCompositeScore (additive,
// saturating composite score) and on scheduler/scheduler.go's
// concurrent-candidate-scoring idiom, here run through an errgroup exactly
// as internal/autoscheduler does for its own candidate pool.
package suggester

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orbitflow/taskdaemon/internal/task"
)

// Context is the live state the suggester scores against (§4.5).
type Context struct {
	Energy                 int // 0-100
	TimeSinceLastBreakMin  int
	CurrentTaskID          string
	CompletedSessions      int
	Now                    time.Time
}

// Reason tags the strongest-contributing factor in a suggestion's score.
type Reason string

const (
	ReasonHighPriority     Reason = "high_priority"
	ReasonEnergyMatch      Reason = "energy_match"
	ReasonQuickWin         Reason = "quick_win"
	ReasonRecentlyDeferred Reason = "recently_deferred"
	ReasonActiveProject    Reason = "active_project"
)

// Suggestion is one ranked next-task (§4.5 contract).
type Suggestion struct {
	TaskID string
	Title  string
	Score  int // 0-100, rounded to nearest multiple of 5
	Reason Reason
}

// Config holds the break-cadence knob shared with the auto-scheduler.
type Config struct {
	PomodorosBeforeLongBreak int
}

func DefaultConfig() Config {
	return Config{PomodorosBeforeLongBreak: 4}
}

// energyBucket maps a 0-100 energy reading to a task.Energy bucket per
// §4.5's "energy-level match" rule.
func energyBucket(energy int) task.Energy {
	switch {
	case energy <= 30:
		return task.EnergyLow
	case energy <= 70:
		return task.EnergyMedium
	default:
		return task.EnergyHigh
	}
}

// SuggestNextTasks ranks up to K Ready/Active tasks under ctx (§4.5).
// Scoring of each candidate is independent, so it runs concurrently via
// errgroup; the final ordering is still deterministic because every
// candidate's score and reason are pure functions of (task, ctx).
func SuggestNextTasks(ctx context.Context, liveCtx Context, tasks []*task.Task, k int) []Suggestion {
	var pool []*task.Task
	for _, t := range tasks {
		if t.State == task.StateReady && t.Category == task.CategoryActive {
			pool = append(pool, t)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	suggestions := make([]Suggestion, len(pool))
	eg, _ := errgroup.WithContext(ctx)
	for i, t := range pool {
		i, t := i, t
		eg.Go(func() error {
			suggestions[i] = score(t, liveCtx)
			return nil
		})
	}
	_ = eg.Wait()

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		return pool[indexOf(pool, suggestions[i].TaskID)].CreatedAt.Before(
			pool[indexOf(pool, suggestions[j].TaskID)].CreatedAt)
	})

	if k > 0 && len(suggestions) > k {
		suggestions = suggestions[:k]
	}
	return suggestions
}

func indexOf(pool []*task.Task, id string) int {
	for i, t := range pool {
		if t.ID == id {
			return i
		}
	}
	return 0
}

// score implements §4.5's additive, saturating scoring rule, tagging the
// strongest single contributor as the Reason.
func score(t *task.Task, ctx Context) Suggestion {
	type contribution struct {
		reason Reason
		delta  int
	}
	total := 50
	var contributions []contribution

	if t.Energy == energyBucket(ctx.Energy) {
		total += 20
		contributions = append(contributions, contribution{ReasonEnergyMatch, 20})
	}
	switch {
	case t.Priority > 70:
		total += 30
		contributions = append(contributions, contribution{ReasonHighPriority, 30})
	case t.Priority < 30:
		total -= 20
		contributions = append(contributions, contribution{ReasonHighPriority, -20})
	}
	switch {
	case t.RequiredMinutes < 15:
		total += 15
		contributions = append(contributions, contribution{ReasonQuickWin, 15})
	case t.RequiredMinutes > 60:
		total -= 10
		contributions = append(contributions, contribution{ReasonQuickWin, -10})
	}
	if len(t.Projects) > 0 {
		contributions = append(contributions, contribution{ReasonActiveProject, 1})
	}
	if ctx.Now.Sub(t.UpdatedAt) > 24*time.Hour {
		contributions = append(contributions, contribution{ReasonRecentlyDeferred, 1})
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	rounded := int(roundToNearest(float64(total), 5))

	reason := ReasonActiveProject
	best := -1 << 30
	for _, c := range contributions {
		abs := c.delta
		if abs < 0 {
			abs = -abs
		}
		if abs > best {
			best = abs
			reason = c.reason
		}
	}

	return Suggestion{TaskID: t.ID, Title: t.Title, Score: rounded, Reason: reason}
}

func roundToNearest(v float64, step float64) float64 {
	return float64(int((v+step/2)/step)) * step
}

// ShouldTakeBreak implements §4.5's break heuristic.
func ShouldTakeBreak(ctx Context, cfg Config) bool {
	if ctx.Energy < 30 {
		return true
	}
	if ctx.TimeSinceLastBreakMin > 120 {
		return true
	}
	if cfg.PomodorosBeforeLongBreak > 0 && ctx.CompletedSessions > 0 && ctx.CompletedSessions%cfg.PomodorosBeforeLongBreak == 0 {
		return true
	}
	return false
}

// SuggestBreakDuration picks LongBreak vs ShortBreak per the long-break
// cycle (§4.5); actual minutes come from the Bayesian tuner (C10) or a
// fixed policy default supplied by the caller.
func SuggestBreakDuration(ctx Context, cfg Config, shortMinutes, longMinutes int) (minutes int, isLong bool) {
	if cfg.PomodorosBeforeLongBreak > 0 && ctx.CompletedSessions > 0 && ctx.CompletedSessions%cfg.PomodorosBeforeLongBreak == 0 {
		return longMinutes, true
	}
	return shortMinutes, false
}
