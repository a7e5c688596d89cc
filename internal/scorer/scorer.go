// Package scorer implements C7: a weighted multi-term scoring function
// over a candidate placement, grounded on the teacher's
// NodeHealth.CalculateCompositeScore — a fixed set of named terms each
// producing a [0,1] value, combined by a weighted sum.
package scorer

import (
	"time"

	"github.com/orbitflow/taskdaemon/internal/task"
)

// Weights assigns an importance to each scoring term (§4.3). Values are
// expected in [0,1] but are not forced to sum to 1; callers may normalize.
type Weights struct {
	DueDateRisk     float64
	ContextSwitch   float64
	EnergyFit       float64
	BreakCompliance float64
	Priority        float64
}

// Presets from §4.3.
var (
	PresetBalanced        = Weights{0.25, 0.20, 0.20, 0.15, 0.20}
	PresetDeadlineFocused = Weights{0.40, 0.15, 0.15, 0.10, 0.20}
	PresetDeepWork        = Weights{0.15, 0.35, 0.25, 0.15, 0.10}
	PresetSustainable     = Weights{0.15, 0.15, 0.30, 0.30, 0.10}
)

// Window is the candidate placement being scored.
type Window struct {
	Start time.Time
	End   time.Time
}

// Term is one named component of a score, carrying enough detail for the
// caller to render an explanation.
type Term struct {
	Name         string
	Weight       float64
	Score        float64
	Contribution float64
}

// Result is the full scoring breakdown (§4.3 contract).
type Result struct {
	Terms      []Term
	TotalScore float64
}

// Score evaluates every term in §4.3 for placing t in window, given the
// previously scheduled task (nil if none), the hour of day the window
// starts in, and the current streak of focus blocks without a break.
func Score(t *task.Task, window Window, previousTask *task.Task, hourOfDay int, streakWithoutBreak int, weights Weights) Result {
	terms := []Term{
		{Name: "due_date_risk", Weight: weights.DueDateRisk, Score: dueDateRisk(t, window)},
		{Name: "context_switch", Weight: weights.ContextSwitch, Score: contextSwitch(t, previousTask)},
		{Name: "energy_fit", Weight: weights.EnergyFit, Score: energyFit(t, hourOfDay)},
		{Name: "break_compliance", Weight: weights.BreakCompliance, Score: breakCompliance(streakWithoutBreak)},
		{Name: "priority", Weight: weights.Priority, Score: float64(t.Priority) / 100},
	}

	var total float64
	for i := range terms {
		terms[i].Contribution = terms[i].Weight * terms[i].Score
		total += terms[i].Contribution
	}

	return Result{Terms: terms, TotalScore: total}
}

func dueDateRisk(t *task.Task, window Window) float64 {
	if t.WindowEndAt == nil {
		return 0.5
	}
	hoursUntil := t.WindowEndAt.Sub(window.End).Hours()
	if hoursUntil <= 0 {
		return 0
	}
	estimatedHours := float64(t.EstimatedMinutes) / 60
	if estimatedHours < 1 {
		estimatedHours = 1
	}
	ratio := hoursUntil / estimatedHours
	return ratio / (ratio + 1)
}

func contextSwitch(t *task.Task, previous *task.Task) float64 {
	if previous == nil {
		return 1
	}
	if sharesProject(t, previous) {
		return 1
	}
	if t.Energy == previous.Energy {
		return 0.7
	}
	return 0.4
}

func sharesProject(a, b *task.Task) bool {
	for p := range a.Projects {
		if _, ok := b.Projects[p]; ok {
			return true
		}
	}
	return false
}

func energyFit(t *task.Task, hourOfDay int) float64 {
	var preferred task.Energy
	switch {
	case hourOfDay >= 6 && hourOfDay <= 11:
		preferred = task.EnergyHigh
	case hourOfDay >= 12 && hourOfDay <= 16:
		preferred = task.EnergyMedium
	default:
		preferred = task.EnergyLow
	}

	if t.Energy == preferred {
		return 1
	}
	if energyDistance(t.Energy, preferred) == 1 {
		return 0.6
	}
	return 0.2
}

func energyLevel(e task.Energy) int {
	switch e {
	case task.EnergyLow:
		return 0
	case task.EnergyMedium:
		return 1
	default:
		return 2
	}
}

func energyDistance(a, b task.Energy) int {
	d := energyLevel(a) - energyLevel(b)
	if d < 0 {
		d = -d
	}
	return d
}

func breakCompliance(streakWithoutBreak int) float64 {
	if streakWithoutBreak < 3 {
		return 1
	}
	score := 1 - 0.2*float64(streakWithoutBreak-2)
	if score < 0 {
		return 0
	}
	return score
}
