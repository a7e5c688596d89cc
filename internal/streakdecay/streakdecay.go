// Package streakdecay models how a focus streak erodes when it is
// interrupted, grounded on the original implementation's
// timer/streak_decay.rs: different interruption kinds erode the streak
// by different fractions, a grace window downgrades short interruptions
// to a quick check regardless of their nominal type, and longer
// interruptions erode more. The scorer (C7) and auto-scheduler (C8)
// consume the resulting streak value directly in place of a bare,
// monotonically-growing counter.
package streakdecay

import (
	"fmt"
	"time"
)

// InterruptionType is the kind of event that broke a focus streak.
type InterruptionType int

const (
	VoluntaryPause InterruptionType = iota
	QuickCheck
	ExternalNotification
	ForcedInterruption
	ExtendedBreak
)

// DecayFactor is the fraction of the current streak an interruption of
// this type erodes, before any duration adjustment.
func (it InterruptionType) DecayFactor() float64 {
	switch it {
	case VoluntaryPause:
		return 0.1
	case QuickCheck:
		return 0.05
	case ExternalNotification:
		return 0.25
	case ForcedInterruption:
		return 0.5
	case ExtendedBreak:
		return 0.75
	default:
		return 0.1
	}
}

func (it InterruptionType) String() string {
	switch it {
	case VoluntaryPause:
		return "voluntary pause"
	case QuickCheck:
		return "quick context check"
	case ExternalNotification:
		return "external notification"
	case ForcedInterruption:
		return "forced interruption"
	case ExtendedBreak:
		return "extended break"
	default:
		return "unknown interruption"
	}
}

// Config bounds the decay model (original default: 30s grace window,
// streak clamped to [0, 100]).
type Config struct {
	GraceWindow time.Duration
	MinStreak   int
	MaxStreak   int
}

func DefaultConfig() Config {
	return Config{GraceWindow: 30 * time.Second, MinStreak: 0, MaxStreak: 100}
}

// Event is a single decay application, kept for the same kind of
// human-readable audit trail the original's StreakDecayEvent logs.
type Event struct {
	At                   time.Time
	Type                 InterruptionType
	StreakBefore         int
	StreakAfter          int
	DecayFraction        float64
	Reason               string
	InterruptionDuration time.Duration
}

// Calculator applies the decay model. Stateless aside from its config,
// so a nil *Calculator is not valid — callers use New() or
// NewWithConfig().
type Calculator struct {
	cfg Config
}

func New() *Calculator {
	return &Calculator{cfg: DefaultConfig()}
}

func NewWithConfig(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Decay returns the streak after an interruption of the given type and
// duration. duration of 0 means "unknown", matching the original's
// Option<Duration>::None: the base factor is used unadjusted.
func (c *Calculator) Decay(currentStreak int, it InterruptionType, duration time.Duration) int {
	factor := it.DecayFactor()
	if duration > 0 {
		factor = c.adjustFactorByDuration(factor, duration)
	}

	decayAmount := int(float64(currentStreak) * factor)
	// At least one point of decay for any non-zero streak, so a string of
	// minimal-factor interruptions (QuickCheck) can't stall forever.
	if currentStreak > 0 && decayAmount == 0 {
		decayAmount = 1
	}

	newStreak := currentStreak - decayAmount
	if newStreak < c.cfg.MinStreak {
		newStreak = c.cfg.MinStreak
	}
	if newStreak > c.cfg.MaxStreak {
		newStreak = c.cfg.MaxStreak
	}
	return newStreak
}

// adjustFactorByDuration treats any interruption shorter than the grace
// window as a quick check regardless of its nominal type, and otherwise
// scales the factor up to 2x as the interruption approaches 5 minutes.
func (c *Calculator) adjustFactorByDuration(base float64, duration time.Duration) float64 {
	if duration <= c.cfg.GraceWindow {
		return QuickCheck.DecayFactor()
	}
	multiplier := 1.0 + minFloat(duration.Seconds()/300.0, 1.0)
	return minFloat(base*multiplier, 1.0)
}

// RecordEvent builds the Event for an interruption, for audit logging
// alongside the journal.
func (c *Calculator) RecordEvent(now time.Time, streakBefore int, it InterruptionType, duration time.Duration) Event {
	streakAfter := c.Decay(streakBefore, it, duration)
	fraction := 0.0
	if streakBefore > 0 {
		fraction = float64(streakBefore-streakAfter) / float64(streakBefore)
	}
	return Event{
		At:                   now,
		Type:                 it,
		StreakBefore:         streakBefore,
		StreakAfter:          streakAfter,
		DecayFraction:        fraction,
		Reason:               c.reason(it, duration),
		InterruptionDuration: duration,
	}
}

func (c *Calculator) reason(it InterruptionType, duration time.Duration) string {
	if duration <= 0 {
		return capitalize(it.String())
	}
	if duration < time.Minute {
		return fmt.Sprintf("%s (%d seconds)", capitalize(it.String()), int(duration.Seconds()))
	}
	return fmt.Sprintf("%s (%d minutes)", capitalize(it.String()), int(duration.Minutes()))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-32) + s[1:]
}

// FocusDurationAdjustmentMinutes bands the streak into a recommended
// adjustment (in minutes) to the next focus session's length: a cold
// streak gets a shorter session, a long unbroken streak earns a longer
// one, matching the original's five-band table.
func FocusDurationAdjustmentMinutes(streak int) int {
	switch {
	case streak <= 5:
		return -5
	case streak <= 15:
		return 0
	case streak <= 30:
		return 5
	case streak <= 50:
		return 10
	default:
		return 15
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
