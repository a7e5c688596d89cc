// Package reconciliation implements C12: the startup sweep that converts
// stale RUNNING tasks to PAUSED, grounded on the teacher's
// resilience.DegradedMode reconciliation report (successCount/skippedCount/
// failCount tallies in resilience/reconciliation.go) — here the tally is
// reconciled/unchanged instead of succeeded/skipped/failed, since
// reconciliation here cannot fail, only report.
package reconciliation

import (
	"log"
	"time"

	"github.com/orbitflow/taskdaemon/internal/task"
)

// Config bounds the staleness threshold (§4.8, clamped [1, 1440] per §8).
type Config struct {
	StaleThresholdMinutes int
	AutoPause             bool
}

func DefaultConfig() Config {
	return Config{StaleThresholdMinutes: 30, AutoPause: true}
}

// Clamped returns cfg with StaleThresholdMinutes clamped to [1, 1440].
func (c Config) Clamped() Config {
	if c.StaleThresholdMinutes < 1 {
		c.StaleThresholdMinutes = 1
	}
	if c.StaleThresholdMinutes > 1440 {
		c.StaleThresholdMinutes = 1440
	}
	return c
}

// ReconciledTask records one task the sweep acted on (§4.8).
type ReconciledTask struct {
	ID                    string
	Title                 string
	OriginalState         task.State
	NewState              task.State
	StaleDurationMinutes  float64
	LastUpdatedAt         time.Time
	Reason                string
	ResumeHint            string
}

// Summary is the §8 ReconciliationSummary.
type Summary struct {
	Reconciled []ReconciledTask
}

func (s Summary) ReconciledCount() int { return len(s.Reconciled) }

// Reconcile runs the §4.8 sweep over tasks, returning the (possibly
// mutated) task list alongside a summary. It is idempotent: a Paused task
// is never re-evaluated, so reconcile(reconcile(x, now).0, now) always
// reports zero reconciled tasks (§8).
func Reconcile(tasks []*task.Task, now time.Time, cfg Config) ([]*task.Task, Summary) {
	cfg = cfg.Clamped()
	threshold := time.Duration(cfg.StaleThresholdMinutes) * time.Minute

	out := make([]*task.Task, len(tasks))
	var summary Summary

	for i, t := range tasks {
		cp := *t
		out[i] = &cp

		if cp.State != task.StateRunning {
			continue
		}
		age := now.Sub(cp.UpdatedAt)
		if age <= threshold {
			continue
		}

		staleDuration := (age - threshold).Minutes()
		reconciled := ReconciledTask{
			ID:                   cp.ID,
			Title:                cp.Title,
			OriginalState:        task.StateRunning,
			NewState:             task.StateRunning,
			StaleDurationMinutes: staleDuration,
			LastUpdatedAt:        cp.UpdatedAt,
			Reason:               "task has been running without an update for longer than the stale threshold",
			ResumeHint:           "task resume " + cp.ID,
		}

		if cfg.AutoPause {
			if err := cp.Transition(task.StatePaused, now); err != nil {
				log.Printf("[reconciliation] could not pause stale task %s: %v", cp.ID, err)
				continue
			}
			reconciled.NewState = task.StatePaused
		}

		summary.Reconciled = append(summary.Reconciled, reconciled)
		log.Printf("[reconciliation] task %s (%q) stale for %.1fm past threshold, reason=%q resume_hint=%q",
			reconciled.ID, reconciled.Title, reconciled.StaleDurationMinutes, reconciled.Reason, reconciled.ResumeHint)
	}

	return out, summary
}
