package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drivepacer/drivepacer/internal/core"
)

func newTestController(transfers int, tps float64) *Controller {
	c := NewController(DefaultTuning(), transfers)
	c.tps = tps
	return c
}

func TestBackoffRateLimited(t *testing.T) {
	c := newTestController(4, 8)

	d := c.Decide(&core.StatsSnapshot{Errors: 1, LastError: "429 Too Many Requests"})

	require.Equal(t, 1, d.Transfers)
	require.Equal(t, 2.0, d.TPSLimit)
	require.True(t, d.Changed)
	require.Equal(t, 30*time.Second, d.Pause)
	require.Equal(t, SeverityRateLimited, d.Severity)
	require.Zero(t, c.StableStreak())
	require.Zero(t, c.StallStreak())
}

func TestBackoffServerError(t *testing.T) {
	c := newTestController(4, 8)

	d := c.Decide(&core.StatsSnapshot{Errors: 1, LastError: "502 Bad Gateway"})

	require.Equal(t, 2, d.Transfers)
	require.Equal(t, 4.0, d.TPSLimit)
	require.True(t, d.Changed)
	require.Zero(t, d.Pause)
}

func TestBackoffOtherError(t *testing.T) {
	c := newTestController(4, 8)

	d := c.Decide(&core.StatsSnapshot{Errors: 1, LastError: "connection reset by peer"})

	require.Equal(t, 3, d.Transfers)
	require.Equal(t, 7.5, d.TPSLimit)
	require.True(t, d.Changed)
	require.Zero(t, d.Pause)
}

func TestBackoffAtFloorIsIdempotent(t *testing.T) {
	c := newTestController(1, 2)

	d := c.Decide(&core.StatsSnapshot{Errors: 1, LastError: "connection reset by peer"})

	require.Equal(t, 1, d.Transfers)
	require.Equal(t, 2.0, d.TPSLimit)
	require.False(t, d.Changed)
}

func TestErrorDeltaUsesBaseline(t *testing.T) {
	c := newTestController(4, 8)
	c.Seed(&core.StatsSnapshot{Errors: 17, Bytes: 1000})

	// Same cumulative count as the baseline: no new errors.
	d := c.Decide(&core.StatsSnapshot{Errors: 17, Bytes: 2000, Speed: 5000, LastError: "429 old news"})
	require.False(t, d.Changed)
	require.Equal(t, 1, c.StableStreak())

	// One more cumulative error triggers backoff.
	d = c.Decide(&core.StatsSnapshot{Errors: 18, Bytes: 3000, Speed: 5000, LastError: "429 fresh"})
	require.True(t, d.Changed)
	require.Equal(t, 1, d.Transfers)
}

func TestGrowthIncreasesTransfersFirst(t *testing.T) {
	c := newTestController(2, 2)

	var d Decision
	for i := 0; i < 12; i++ {
		d = c.Decide(&core.StatsSnapshot{Bytes: int64(1000 * (i + 1)), Speed: 5000})
		if i < 11 {
			require.False(t, d.Changed, "tick %d should not change throttle", i)
		}
	}

	require.True(t, d.TransfersChanged)
	require.Equal(t, 3, d.Transfers)
	require.Equal(t, 2.0, d.TPSLimit)
	require.Zero(t, c.StableStreak())
}

func TestGrowthRaisesTPSAtMaxTransfers(t *testing.T) {
	c := newTestController(4, 2)

	var d Decision
	for i := 0; i < 12; i++ {
		d = c.Decide(&core.StatsSnapshot{Bytes: int64(1000 * (i + 1)), Speed: 5000})
	}

	require.False(t, d.TransfersChanged)
	require.True(t, d.TPSChanged)
	require.Equal(t, 2.5, d.TPSLimit)
	require.Zero(t, c.StableStreak())
}

func TestGrowthStopsAtMaxTPS(t *testing.T) {
	c := newTestController(4, 7.8)

	var d Decision
	bytes := int64(0)
	for i := 0; i < 12; i++ {
		bytes += 1000
		d = c.Decide(&core.StatsSnapshot{Bytes: bytes, Speed: 5000})
	}
	require.Equal(t, 8.0, d.TPSLimit)

	// Fully grown: further stable ticks produce no changes.
	for i := 0; i < 24; i++ {
		bytes += 1000
		d = c.Decide(&core.StatsSnapshot{Bytes: bytes, Speed: 5000})
		require.False(t, d.Changed)
	}
	require.Equal(t, core.Throttle{Transfers: 4, TPSLimit: 8}, c.Throttle())
}

func TestStallReducesTransfersOnce(t *testing.T) {
	c := newTestController(4, 2)
	c.Seed(&core.StatsSnapshot{Bytes: 5000})

	var d Decision
	for i := 0; i < 7; i++ {
		d = c.Decide(&core.StatsSnapshot{Bytes: 5000, Speed: 10})
		if i < 6 {
			require.False(t, d.Changed, "tick %d should not change throttle", i)
		}
	}

	require.True(t, d.TransfersChanged)
	require.Equal(t, 3, d.Transfers)
	require.Zero(t, c.StallStreak())
	// Stall reduction leaves the stable streak alone.
	require.Equal(t, 7, c.StableStreak())
}

func TestStallStreakResetsOnProgress(t *testing.T) {
	c := newTestController(4, 2)
	c.Seed(&core.StatsSnapshot{Bytes: 5000})

	for i := 0; i < 6; i++ {
		c.Decide(&core.StatsSnapshot{Bytes: 5000, Speed: 10})
	}
	require.Equal(t, 6, c.StallStreak())

	// Byte progress clears the stall streak.
	c.Decide(&core.StatsSnapshot{Bytes: 6000, Speed: 5000})
	require.Zero(t, c.StallStreak())
	require.Equal(t, 4, c.Throttle().Transfers)
}

func TestFastTickWithoutProgressIsNotAStall(t *testing.T) {
	c := newTestController(4, 2)
	c.Seed(&core.StatsSnapshot{Bytes: 5000})

	// No byte progress but the engine still reports throughput.
	for i := 0; i < 10; i++ {
		c.Decide(&core.StatsSnapshot{Bytes: 5000, Speed: 2000})
	}
	require.Zero(t, c.StallStreak())
}

func TestBoundsInvariantUnderMixedLoad(t *testing.T) {
	tuning := DefaultTuning()
	c := NewController(tuning, 2)

	snapshots := []*core.StatsSnapshot{
		{Errors: 1, LastError: "429 too many"},
		{Errors: 2, Bytes: 100, LastError: "502 bad gateway"},
		{Errors: 2, Bytes: 200, Speed: 5000},
		{Errors: 3, Bytes: 200, Speed: 0, LastError: "eof"},
		{Errors: 9, Bytes: 200, LastError: "429"},
		{Errors: 9, Bytes: 300, Speed: 50},
	}
	for i := 0; i < 50; i++ {
		snap := snapshots[i%len(snapshots)]
		c.Decide(snap)
		throttle := c.Throttle()
		require.GreaterOrEqual(t, throttle.Transfers, tuning.MinTransfers)
		require.LessOrEqual(t, throttle.Transfers, tuning.MaxTransfers)
		require.GreaterOrEqual(t, throttle.TPSLimit, tuning.MinTPS)
		require.LessOrEqual(t, throttle.TPSLimit, tuning.MaxTPS)
	}
}

func TestNewControllerClampsInitialTransfers(t *testing.T) {
	require.Equal(t, 4, NewController(DefaultTuning(), 99).Throttle().Transfers)
	require.Equal(t, 1, NewController(DefaultTuning(), -3).Throttle().Transfers)
}

func TestTuningNormalization(t *testing.T) {
	c := NewController(Tuning{MinTransfers: -1, MaxTransfers: -5, MinTPS: -2, MaxTPS: -9}, 0)
	throttle := c.Throttle()
	require.Equal(t, 1, throttle.Transfers)
	require.Equal(t, 1.0, throttle.TPSLimit)
}
