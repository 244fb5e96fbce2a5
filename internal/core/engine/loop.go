package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/drivepacer/drivepacer/internal/core"
	"github.com/drivepacer/drivepacer/internal/metrics"
)

// ErrSourceUnavailable reports that the stats source could not be reached,
// either during the startup handshake or for too many consecutive ticks.
var ErrSourceUnavailable = errors.New("stats source unavailable")

// StatsSource is the read side of the transfer engine.
type StatsSource interface {
	Stats(ctx context.Context) (*core.StatsSnapshot, error)
}

// ControlSink is the write side of the transfer engine. Both calls are
// idempotent: re-applying the current values is a no-op for the engine.
type ControlSink interface {
	SetTransfers(ctx context.Context, count int) error
	SetTPSLimit(ctx context.Context, tps float64) error
}

// LoopConfig holds the polling cadence and failure budgets.
type LoopConfig struct {
	// TickInterval is the steady-state polling interval.
	TickInterval time.Duration
	// ConnectInterval and ConnectAttempts bound the startup handshake.
	ConnectInterval time.Duration
	ConnectAttempts int
	// MaxFetchFailures is how many consecutive failed polls the running
	// loop tolerates before terminating.
	MaxFetchFailures int
}

// DefaultLoopConfig mirrors the cadence of the transfer engine itself:
// one-second connect probes for thirty seconds, then ten-second ticks.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickInterval:     10 * time.Second,
		ConnectInterval:  time.Second,
		ConnectAttempts:  30,
		MaxFetchFailures: 3,
	}
}

func (c LoopConfig) normalized() LoopConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.ConnectInterval <= 0 {
		c.ConnectInterval = time.Second
	}
	if c.ConnectAttempts < 1 {
		c.ConnectAttempts = 1
	}
	if c.MaxFetchFailures < 1 {
		c.MaxFetchFailures = 1
	}
	return c
}

// Loop drives the fetch → decide → apply cycle. It is strictly sequential:
// there is no overlap between ticks, and the controller is only ever touched
// from Run. Status is the one read-side exception, guarded by a mutex so the
// status server can observe progress.
type Loop struct {
	source StatsSource
	sink   ControlSink
	ctrl   *Controller
	cfg    LoopConfig
	logger *logging.Logger

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	mu     sync.RWMutex
	status core.Status
}

// NewLoop wires a loop from its collaborators. The logger may be nil.
func NewLoop(source StatsSource, sink ControlSink, ctrl *Controller, cfg LoopConfig, logger *logging.Logger) *Loop {
	l := &Loop{
		source: source,
		sink:   sink,
		ctrl:   ctrl,
		cfg:    cfg.normalized(),
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
		sleep:  sleepContext,
	}
	l.status = core.Status{
		Phase:     core.PhaseConnecting,
		Throttle:  ctrl.Throttle(),
		UpdatedAt: l.clock(),
	}
	return l
}

// Status returns a copy of the most recently published loop state.
func (l *Loop) Status() core.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Run executes the loop until the context is cancelled (clean shutdown,
// returns nil) or the stats source becomes unavailable (returns an error
// wrapping ErrSourceUnavailable). The in-flight tick always finishes before
// a cancellation takes effect.
func (l *Loop) Run(ctx context.Context) error {
	snap, err := l.connect(ctx)
	if err != nil {
		l.terminate()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	l.ctrl.Seed(snap)
	l.applyInitial(ctx)
	l.setPhase(core.PhaseRunning)
	l.info("connected to transfer engine",
		zap.Int64("errors", snap.Errors),
		zap.Int64("bytes", snap.Bytes))

	fetchFailures := 0
	for {
		if !l.sleep(ctx, l.cfg.TickInterval) {
			l.terminate()
			return nil
		}

		snap, err := l.source.Stats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.terminate()
				return nil
			}
			fetchFailures++
			l.countFetchFailure()
			l.warn("stats fetch failed",
				zap.Int("consecutive_failures", fetchFailures),
				zap.Int("budget", l.cfg.MaxFetchFailures),
				zap.Error(err))
			if fetchFailures >= l.cfg.MaxFetchFailures {
				l.terminate()
				return fmt.Errorf("%w after %d consecutive fetch failures: %v",
					ErrSourceUnavailable, fetchFailures, err)
			}
			continue
		}
		fetchFailures = 0

		before := l.ctrl.Throttle()
		d := l.ctrl.Decide(snap)
		l.logDecision(before, d)
		if d.Changed {
			l.apply(ctx, d)
		}
		l.publish(snap, d)

		if d.Pause > 0 {
			l.info("cooldown pause before next poll", zap.Duration("pause", d.Pause))
			if !l.sleep(ctx, d.Pause) {
				l.terminate()
				return nil
			}
		}
	}
}

// connect polls the source until the first successful snapshot or the
// attempt budget runs out.
func (l *Loop) connect(ctx context.Context) (*core.StatsSnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.ConnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		snap, err := l.source.Stats(ctx)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		l.debug("waiting for transfer engine",
			zap.Int("attempt", attempt),
			zap.Int("budget", l.cfg.ConnectAttempts))
		if attempt < l.cfg.ConnectAttempts && !l.sleep(ctx, l.cfg.ConnectInterval) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d connect attempts: %v",
		ErrSourceUnavailable, l.cfg.ConnectAttempts, lastErr)
}

// applyInitial pushes the conservative starting throttle. Best-effort: the
// first tick re-applies on failure.
func (l *Loop) applyInitial(ctx context.Context) {
	throttle := l.ctrl.Throttle()
	l.info("applying initial throttle",
		zap.Int("transfers", throttle.Transfers),
		zap.Float64("tps_limit", throttle.TPSLimit))
	if err := l.sink.SetTransfers(ctx, throttle.Transfers); err != nil {
		l.countApplyFailure("transfers")
		l.warn("initial transfers apply failed", zap.Error(err))
	}
	if err := l.sink.SetTPSLimit(ctx, throttle.TPSLimit); err != nil {
		l.countApplyFailure("tps_limit")
		l.warn("initial tps limit apply failed", zap.Error(err))
	}
}

// apply sends the changed knobs to the sink. Failures are logged, counted,
// and otherwise ignored: the controller always recomputes the full desired
// state, so the next changed tick resends it. The apply context is detached
// from cancellation so a shutdown never leaves the sink half-updated.
func (l *Loop) apply(ctx context.Context, d Decision) {
	applyCtx := context.WithoutCancel(ctx)
	if d.TransfersChanged {
		if err := l.sink.SetTransfers(applyCtx, d.Transfers); err != nil {
			l.countApplyFailure("transfers")
			l.warn("transfers apply failed", zap.Int("transfers", d.Transfers), zap.Error(err))
		}
	}
	if d.TPSChanged {
		if err := l.sink.SetTPSLimit(applyCtx, d.TPSLimit); err != nil {
			l.countApplyFailure("tps_limit")
			l.warn("tps limit apply failed", zap.Float64("tps_limit", d.TPSLimit), zap.Error(err))
		}
	}
}

func (l *Loop) logDecision(before core.Throttle, d Decision) {
	if d.Reason == "" {
		return
	}
	fields := []zap.Field{
		zap.String("reason", d.Reason),
		zap.Int("transfers_before", before.Transfers),
		zap.Int("transfers_after", d.Transfers),
		zap.Float64("tps_before", before.TPSLimit),
		zap.Float64("tps_after", d.TPSLimit),
	}
	if d.Severity != SeverityNone {
		fields = append(fields, zap.String("severity", d.Severity.String()))
		l.warn("backing off", fields...)
		return
	}
	l.info("throttle adjusted", fields...)
}

// publish records the tick outcome for the status server and metrics.
func (l *Loop) publish(snap *core.StatsSnapshot, d Decision) {
	metrics.RecordTick()
	metrics.SetThrottle(d.Transfers, d.TPSLimit)
	switch d.Event {
	case EventBackoff:
		metrics.RecordBackoff(d.Severity.String())
	case EventStall:
		metrics.RecordStall()
	case EventGrowth:
		if d.TransfersChanged {
			metrics.RecordGrowth("transfers")
		} else {
			metrics.RecordGrowth("tps_limit")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Phase = core.PhaseRunning
	l.status.Throttle = core.Throttle{Transfers: d.Transfers, TPSLimit: d.TPSLimit}
	l.status.StableStreak = l.ctrl.StableStreak()
	l.status.StallStreak = l.ctrl.StallStreak()
	l.status.Ticks++
	l.status.Bytes = snap.Bytes
	l.status.Speed = snap.Speed
	l.status.LastError = snap.LastError
	if d.Reason != "" {
		l.status.LastReason = d.Reason
	}
	switch d.Event {
	case EventBackoff:
		l.status.Backoffs++
	case EventStall:
		l.status.Stalls++
	case EventGrowth:
		l.status.Growths++
	}
	l.status.UpdatedAt = l.clock()
}

func (l *Loop) setPhase(phase core.Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Phase = phase
	l.status.UpdatedAt = l.clock()
}

func (l *Loop) terminate() {
	l.setPhase(core.PhaseTerminated)
}

func (l *Loop) countApplyFailure(op string) {
	metrics.RecordApplyFailure(op)
	l.mu.Lock()
	l.status.ApplyFailures++
	l.mu.Unlock()
}

func (l *Loop) countFetchFailure() {
	metrics.RecordFetchFailure()
	l.mu.Lock()
	l.status.FetchFailures++
	l.mu.Unlock()
}

func (l *Loop) info(msg string, fields ...zap.Field) {
	if l.logger != nil {
		l.logger.Info(msg, fields...)
	}
}

func (l *Loop) warn(msg string, fields ...zap.Field) {
	if l.logger != nil {
		l.logger.Warn(msg, fields...)
	}
}

func (l *Loop) debug(msg string, fields ...zap.Field) {
	if l.logger != nil {
		l.logger.Debug(msg, fields...)
	}
}

// sleepContext waits for d or until the context is cancelled. It reports
// false when the wait was interrupted.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
