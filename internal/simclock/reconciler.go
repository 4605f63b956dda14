// Package simclock reconciles the autopilot's simulated clock with the wall
// clock.
//
// The autopilot reports its simulated time intermittently and the reports
// may arrive late, duplicated or out of order. The Reconciler turns them
// into a present-time estimate that accounts for the simulation speedup and
// that never moves backwards.
package simclock

import (
	"sync"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/timeutil"
)

const (
	// DefaultDamping is the fraction of the wall-extrapolated term kept by
	// ConservativeEstimate.
	DefaultDamping = 0.95

	// DefaultEpsilon is the minimum step, in simulated seconds, between two
	// successive monotonic estimates.
	DefaultEpsilon = 0.0001
)

// Options tunes a Reconciler. Zero fields take the package defaults.
type Options struct {
	Damping float64
	Epsilon float64
}

func (o Options) withDefaults() Options {
	if o.Damping <= 0 || o.Damping >= 1 {
		o.Damping = DefaultDamping
	}
	if o.Epsilon <= 0 {
		o.Epsilon = DefaultEpsilon
	}
	return o
}

// Stats reports the anomalies a Reconciler has absorbed.
type Stats struct {
	Accepted   int64
	OutOfOrder int64
	Clamped    int64
	Watermark  float64
}

// Reconciler estimates the current simulated time.
//
// Before the first accepted Update every estimate is 0. A Reconciler is safe
// for concurrent use.
type Reconciler struct {
	clock   timeutil.Clock
	speedup float64
	opts    Options

	mu             sync.Mutex
	anchored       bool
	lastSignalTime float64
	lastSignalWall time.Time
	hasWatermark   bool
	watermark      float64
	stats          Stats
}

// New returns a Reconciler for a simulation running speedup times faster
// than real time. A non-positive speedup is treated as 1.
func New(speedup float64, clock timeutil.Clock, opts Options) *Reconciler {
	if speedup <= 0 {
		speedup = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Reconciler{
		clock:   clock,
		speedup: speedup,
		opts:    opts.withDefaults(),
	}
}

// Speedup returns the configured simulation speedup.
func (r *Reconciler) Speedup() float64 { return r.speedup }

// Update records a timing signal. It returns false, and leaves the state
// untouched, when signalTime does not advance past the previous signal.
func (r *Reconciler) Update(signalTime float64) bool {
	now := r.clock.Now()

	r.mu.Lock()
	if r.anchored && signalTime <= r.lastSignalTime {
		last := r.lastSignalTime
		r.stats.OutOfOrder++
		r.mu.Unlock()

		monitoring.ClockOutOfOrder.Inc()
		monitoring.Logf("simclock: ignoring out-of-order signal %.6f (last %.6f)", signalTime, last)
		return false
	}
	r.anchored = true
	r.lastSignalTime = signalTime
	r.lastSignalWall = now
	r.stats.Accepted++
	r.mu.Unlock()
	return true
}

// extrapolate returns the anchor plus the wall-clock elapsed time scaled by
// speedup and factor. Callers hold r.mu.
func (r *Reconciler) extrapolate(now time.Time, factor float64) float64 {
	if !r.anchored {
		return 0
	}
	elapsed := now.Sub(r.lastSignalWall).Seconds()
	return r.lastSignalTime + elapsed*r.speedup*factor
}

// RoughEstimate returns the last signal time extrapolated by the wall time
// elapsed since it arrived.
func (r *Reconciler) RoughEstimate() float64 {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extrapolate(now, 1)
}

// ConservativeEstimate is RoughEstimate with the extrapolated term damped,
// so that it lags rather than leads the autopilot.
func (r *Reconciler) ConservativeEstimate() float64 {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extrapolate(now, r.opts.Damping)
}

// MonotonicEstimate returns the conservative estimate, raised if necessary
// so that it is strictly greater than every value previously returned.
func (r *Reconciler) MonotonicEstimate() float64 {
	now := r.clock.Now()

	r.mu.Lock()
	est := r.extrapolate(now, r.opts.Damping)
	if !r.hasWatermark || est > r.watermark {
		r.watermark = est
		r.hasWatermark = true
		r.stats.Watermark = est
		r.mu.Unlock()
		return est
	}
	prev := r.watermark
	r.watermark = prev + r.opts.Epsilon
	r.stats.Clamped++
	r.stats.Watermark = r.watermark
	out := r.watermark
	r.mu.Unlock()

	monitoring.ClockClamped.Inc()
	monitoring.Logf("simclock: clamped estimate %.6f to %.6f", est, out)
	return out
}

// Sleep suspends the caller for seconds of simulated time.
func (r *Reconciler) Sleep(seconds float64) {
	r.clock.Sleep(timeutil.Seconds(seconds / r.speedup))
}

// Stats returns a snapshot of the anomaly counts.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
