// Package gatekeeper implements C6: an escalation ladder that upgrades the
// user-visible notification channel as an ignored prompt ages, subject to
// DND/quiet-hours overrides, grounded on the teacher's
// scheduler.CircuitBreaker (threshold-triggered state ladder) and
// scheduler.TokenBucketLimiter (per-key map guarded by one mutex), reused
// here to throttle repeat notification delivery per prompt_key.
package gatekeeper

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Level is the escalation ladder position for a single prompt (§4.2).
type Level int

const (
	Nudge Level = iota
	Alert
	Gravity
)

func (l Level) String() string {
	switch l {
	case Nudge:
		return "nudge"
	case Alert:
		return "alert"
	case Gravity:
		return "gravity"
	default:
		return "unknown"
	}
}

// Channel is the notification surface handed back to the UI collaborator.
type Channel string

const (
	ChannelBadge Channel = "badge"
	ChannelToast Channel = "toast"
	ChannelModal Channel = "modal"
)

// Context carries the ambient state the channel decision depends on.
type Context struct {
	IsDND        bool
	IsQuietHours bool
}

// prompt tracks one active escalation plus its parallel ignore count.
type prompt struct {
	completedAt time.Time
	level       Level
	ignoreCount int
}

// Config holds the two escalation thresholds (§4.2 defaults: 3min, 5min).
type Config struct {
	AlertThreshold   time.Duration
	GravityThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{AlertThreshold: 3 * time.Minute, GravityThreshold: 5 * time.Minute}
}

// Gatekeeper tracks escalation state per prompt_key and throttles repeat
// notification delivery with a token bucket per key, mirroring the
// teacher's TokenBucketLimiter map-of-limiters pattern.
type Gatekeeper struct {
	mu      sync.Mutex
	cfg     Config
	prompts map[string]*prompt
	notify  *rateLimiter
}

func New(cfg Config) *Gatekeeper {
	return &Gatekeeper{
		cfg:     cfg,
		prompts: make(map[string]*prompt),
		notify:  newRateLimiter(1, 1), // at most one notification delivery burst per prompt per second
	}
}

// Start begins tracking a completed step's escalation.
func (g *Gatekeeper) Start(promptKey string, completedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts[promptKey] = &prompt{completedAt: completedAt}
}

// Stop clears tracking for promptKey (e.g. the user started a new step).
func (g *Gatekeeper) Stop(promptKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.prompts, promptKey)
}

// Tick recomputes the level for promptKey from elapsed time since
// completedAt, per §4.2's threshold ladder.
func (g *Gatekeeper) Tick(promptKey string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prompts[promptKey]
	if !ok {
		return
	}
	elapsed := now.Sub(p.completedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	switch {
	case elapsed >= g.cfg.GravityThreshold:
		p.level = Gravity
	case elapsed >= g.cfg.AlertThreshold:
		p.level = Alert
	default:
		p.level = Nudge
	}
}

// CanDismiss is false only while the level is Gravity (§4.2).
func (g *Gatekeeper) CanDismiss(promptKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.prompts[promptKey]
	if !ok {
		return true
	}
	return p.level != Gravity
}

// GetNotificationChannel applies the strict precedence from §4.2: DND or
// quiet-hours force Badge regardless of level; otherwise level maps
// Gravity->Modal, Alert->Toast, Nudge->Badge. The parallel ignore-count
// ladder (Badge/Toast/Modal at 0/>=1/>=2) is subordinate to both.
func (g *Gatekeeper) GetNotificationChannel(promptKey string, ctx Context) Channel {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ctx.IsDND || ctx.IsQuietHours {
		return ChannelBadge
	}

	p, ok := g.prompts[promptKey]
	if !ok {
		return ChannelBadge
	}

	levelChannel := ChannelBadge
	switch p.level {
	case Gravity:
		levelChannel = ChannelModal
	case Alert:
		levelChannel = ChannelToast
	}

	ignoreChannel := ChannelBadge
	switch {
	case p.ignoreCount >= 2:
		ignoreChannel = ChannelModal
	case p.ignoreCount >= 1:
		ignoreChannel = ChannelToast
	}

	return higherChannel(levelChannel, ignoreChannel)
}

func channelRank(c Channel) int {
	switch c {
	case ChannelModal:
		return 2
	case ChannelToast:
		return 1
	default:
		return 0
	}
}

func higherChannel(a, b Channel) Channel {
	if channelRank(a) >= channelRank(b) {
		return a
	}
	return b
}

// MarkIgnored increments the parallel ignore counter for promptKey. Returns
// false if notification delivery for this key is currently throttled.
func (g *Gatekeeper) MarkIgnored(promptKey string) bool {
	g.mu.Lock()
	p, ok := g.prompts[promptKey]
	if ok {
		p.ignoreCount++
	}
	g.mu.Unlock()
	return g.notify.Allow(promptKey)
}

// Acknowledge clears the ignore count, per §4.2.
func (g *Gatekeeper) Acknowledge(promptKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.prompts[promptKey]; ok {
		p.ignoreCount = 0
	}
}

// rateLimiter is the teacher's TokenBucketLimiter, trimmed to Allow only.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newRateLimiter(r float64, b int) *rateLimiter {
	return &rateLimiter{limiters: make(map[string]*rate.Limiter), r: rate.Limit(r), b: b}
}

func (l *rateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	return lim.Allow()
}
