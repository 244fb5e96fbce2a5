package engine

import (
	"math"
	"time"

	"github.com/drivepacer/drivepacer/internal/core"
)

// Backoff multipliers applied when the engine reports new errors.
const (
	errorBackoff  = 0.5
	severeBackoff = 0.25
)

// Tuning holds every bound and threshold the controller works with. All of
// them are configuration, not constants, so tests and operators can override
// each one independently.
type Tuning struct {
	MinTransfers  int
	MaxTransfers  int
	MinTPS        float64
	MaxTPS        float64
	StableTicks   int
	StallTicks    int
	StallSpeed    float64
	CooldownPause time.Duration
}

// DefaultTuning returns the conservative defaults tuned for providers that
// throttle aggressively above a handful of concurrent transfers.
func DefaultTuning() Tuning {
	return Tuning{
		MinTransfers:  1,
		MaxTransfers:  4,
		MinTPS:        2,
		MaxTPS:        8,
		StableTicks:   12,
		StallTicks:    6,
		StallSpeed:    100,
		CooldownPause: 30 * time.Second,
	}
}

// normalized clamps a tuning into a usable shape instead of rejecting it.
func (t Tuning) normalized() Tuning {
	if t.MinTransfers < 1 {
		t.MinTransfers = 1
	}
	if t.MaxTransfers < t.MinTransfers {
		t.MaxTransfers = t.MinTransfers
	}
	if t.MinTPS <= 0 {
		t.MinTPS = 1
	}
	if t.MaxTPS < t.MinTPS {
		t.MaxTPS = t.MinTPS
	}
	if t.StableTicks < 1 {
		t.StableTicks = 1
	}
	if t.StallTicks < 1 {
		t.StallTicks = 1
	}
	if t.StallSpeed < 0 {
		t.StallSpeed = 0
	}
	if t.CooldownPause < 0 {
		t.CooldownPause = 0
	}
	return t
}

// Event names the kind of adjustment a decision carries.
type Event int

const (
	EventNone Event = iota
	EventBackoff
	EventStall
	EventGrowth
)

// Decision is the outcome of one controller tick: the full desired throttle,
// which knobs moved, and whether the loop must pause before polling again.
type Decision struct {
	Transfers        int
	TPSLimit         float64
	TransfersChanged bool
	TPSChanged       bool
	Changed          bool
	Pause            time.Duration
	Severity         Severity
	Event            Event
	Reason           string
}

// Controller owns the adaptive throttle state. It never fails: out-of-range
// inputs are clamped into the configured bounds. It is not safe for
// concurrent use; the control loop is its only caller.
type Controller struct {
	tuning Tuning

	transfers int
	tps       float64

	lastErrors   int64
	lastBytes    int64
	stableStreak int
	stallStreak  int
}

// NewController creates a controller starting at the given transfer count
// (clamped into bounds) and the minimum TPS limit.
func NewController(tuning Tuning, initialTransfers int) *Controller {
	t := tuning.normalized()
	return &Controller{
		tuning:    t,
		transfers: clampInt(initialTransfers, t.MinTransfers, t.MaxTransfers),
		tps:       t.MinTPS,
	}
}

// Seed initializes the error and byte baselines from the first successful
// snapshot so that pre-existing errors are not treated as new ones.
func (c *Controller) Seed(snap *core.StatsSnapshot) {
	if snap == nil {
		return
	}
	c.lastErrors = snap.Errors
	c.lastBytes = snap.Bytes
}

// Throttle returns the current desired throttle.
func (c *Controller) Throttle() core.Throttle {
	return core.Throttle{Transfers: c.transfers, TPSLimit: c.tps}
}

// StableStreak returns the count of consecutive ticks with no new errors.
func (c *Controller) StableStreak() int { return c.stableStreak }

// StallStreak returns the count of consecutive stalled ticks.
func (c *Controller) StallStreak() int { return c.stallStreak }

// Decide consumes one snapshot and returns the next throttle decision.
// Backoff is multiplicative and scaled by severity; growth is additive and
// gated on a sustained stable streak, with transfer-count headroom exhausted
// before the TPS limit is raised.
func (c *Controller) Decide(snap *core.StatsSnapshot) Decision {
	d := Decision{Transfers: c.transfers, TPSLimit: c.tps, Severity: SeverityNone}
	if snap == nil {
		return d
	}

	newErrors := snap.Errors - c.lastErrors
	if newErrors > 0 {
		c.backoff(snap, &d)
	} else {
		c.recover(snap, &d)
	}

	// Baselines advance every tick regardless of which branch ran.
	c.lastBytes = snap.Bytes
	c.lastErrors = snap.Errors

	d.Changed = d.TransfersChanged || d.TPSChanged
	return d
}

func (c *Controller) backoff(snap *core.StatsSnapshot, d *Decision) {
	sev := Classify(snap.LastError)

	next := c.transfers
	nextTPS := c.tps
	switch sev {
	case SeverityRateLimited:
		next = maxInt(c.tuning.MinTransfers, int(float64(c.transfers)*severeBackoff))
		nextTPS = math.Max(c.tuning.MinTPS, c.tps*severeBackoff)
		d.Pause = c.tuning.CooldownPause
		d.Reason = "rate limited, aggressive backoff"
	case SeverityServer:
		next = maxInt(c.tuning.MinTransfers, int(float64(c.transfers)*errorBackoff))
		nextTPS = math.Max(c.tuning.MinTPS, c.tps*errorBackoff)
		d.Reason = "server error, moderate backoff"
	default:
		next = maxInt(c.tuning.MinTransfers, c.transfers-1)
		nextTPS = math.Max(c.tuning.MinTPS, c.tps-0.5)
		d.Reason = "transfer error, gentle backoff"
	}

	d.Severity = sev
	d.Event = EventBackoff
	d.TransfersChanged = next != c.transfers
	d.TPSChanged = nextTPS != c.tps
	c.transfers = next
	c.tps = nextTPS
	d.Transfers = next
	d.TPSLimit = nextTPS

	c.stableStreak = 0
	c.stallStreak = 0
}

func (c *Controller) recover(snap *core.StatsSnapshot, d *Decision) {
	c.stableStreak++

	if snap.Bytes == c.lastBytes && snap.Speed < c.tuning.StallSpeed {
		c.stallStreak++
		if c.stallStreak > c.tuning.StallTicks {
			next := maxInt(c.tuning.MinTransfers, c.transfers-1)
			if next != c.transfers {
				d.TransfersChanged = true
			}
			c.transfers = next
			d.Transfers = next
			d.Event = EventStall
			d.Reason = "progress stalled, reducing load"
			// Stall reduction does not touch the stable streak.
			c.stallStreak = 0
		}
	} else {
		c.stallStreak = 0
	}

	if c.stableStreak >= c.tuning.StableTicks {
		switch {
		case c.transfers < c.tuning.MaxTransfers:
			c.transfers++
			d.Transfers = c.transfers
			d.TransfersChanged = true
			d.Event = EventGrowth
			d.Reason = "stable, increasing transfers"
			c.stableStreak = 0
		case c.tps < c.tuning.MaxTPS:
			c.tps = math.Min(c.tuning.MaxTPS, c.tps+0.5)
			d.TPSLimit = c.tps
			d.TPSChanged = true
			d.Event = EventGrowth
			d.Reason = "stable, increasing tps limit"
			c.stableStreak = 0
		}
	}
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
