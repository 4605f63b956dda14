package simclock

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(nil)
}

func TestEstimatesBeforeFirstUpdate(t *testing.T) {
	clock := timeutil.NewFrozenMockClock(epoch)
	r := New(2, clock, Options{})

	assert.Equal(t, 0.0, r.RoughEstimate())
	assert.Equal(t, 0.0, r.ConservativeEstimate())
	assert.Equal(t, 0.0, r.MonotonicEstimate())
}

func TestFirstUpdateAlwaysAccepted(t *testing.T) {
	r := New(1, timeutil.NewFrozenMockClock(epoch), Options{})
	assert.True(t, r.Update(-5))
	assert.Equal(t, -5.0, r.RoughEstimate())
}

func TestRoughAndConservativeEstimate(t *testing.T) {
	clock := timeutil.NewFrozenMockClock(epoch)
	r := New(4, clock, Options{Damping: 0.5})

	require.True(t, r.Update(100))
	clock.Advance(time.Second)

	assert.InDelta(t, 104.0, r.RoughEstimate(), 1e-9)
	assert.InDelta(t, 102.0, r.ConservativeEstimate(), 1e-9)
}

func TestDefaultDamping(t *testing.T) {
	clock := timeutil.NewFrozenMockClock(epoch)
	r := New(1, clock, Options{Damping: 7})

	r.Update(10)
	clock.Advance(2 * time.Second)
	assert.InDelta(t, 10+2*DefaultDamping, r.ConservativeEstimate(), 1e-9)
}

func TestUpdateRejectsStaleSignals(t *testing.T) {
	before := monitoring.ClockOutOfOrder.Value()
	clock := timeutil.NewFrozenMockClock(epoch)
	r := New(1, clock, Options{})

	require.True(t, r.Update(10))
	clock.Advance(time.Second)
	assert.False(t, r.Update(10), "duplicate")
	assert.False(t, r.Update(9.5), "out of order")

	// The anchor still refers to the first signal.
	assert.InDelta(t, 11.0, r.RoughEstimate(), 1e-9)

	s := r.Stats()
	assert.Equal(t, int64(1), s.Accepted)
	assert.Equal(t, int64(2), s.OutOfOrder)
	assert.Equal(t, int64(2), monitoring.ClockOutOfOrder.Value()-before)
}

func TestMonotonicEstimateClampsOnRegression(t *testing.T) {
	clock := timeutil.NewFrozenMockClock(epoch)
	r := New(1, clock, Options{})

	r.Update(10)
	clock.Advance(time.Second)
	first := r.MonotonicEstimate()
	assert.InDelta(t, 10.95, first, 1e-9)

	// A new signal that lands below the watermark pulls the conservative
	// estimate back; the monotonic estimate must still rise.
	r.Update(10.5)
	second := r.MonotonicEstimate()
	assert.InDelta(t, first+DefaultEpsilon, second, 1e-12)
	assert.Equal(t, int64(1), r.Stats().Clamped)

	// Frozen wall time: every call steps by epsilon.
	third := r.MonotonicEstimate()
	assert.InDelta(t, second+DefaultEpsilon, third, 1e-12)
	assert.Equal(t, third, r.Stats().Watermark)
}

func TestMonotonicEstimateUnderJitter(t *testing.T) {
	clock := timeutil.NewFrozenMockClock(epoch)
	r := New(3, clock, Options{})
	rng := rand.New(rand.NewPCG(1, 2))

	simTime := 0.0
	prev := -1.0
	for i := 0; i < 2000; i++ {
		step := time.Duration(rng.IntN(40)+1) * time.Millisecond
		clock.Advance(step)
		simTime += step.Seconds() * 3

		// Signals arrive late by a random amount and are sometimes
		// replayed from the past.
		switch rng.IntN(5) {
		case 0:
			r.Update(simTime - rng.Float64())
		case 1:
			r.Update(simTime - 0.2 - rng.Float64()*0.1)
		default:
			r.Update(simTime)
		}

		got := r.MonotonicEstimate()
		if got <= prev {
			t.Fatalf("iteration %d: estimate %.9f did not exceed %.9f", i, got, prev)
		}
		prev = got
	}
}

func TestSleepScalesBySpeedup(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	r := New(4, clock, Options{})

	r.Sleep(1)
	r.Sleep(0.1)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 2)
	assert.Equal(t, 250*time.Millisecond, sleeps[0])
	assert.Equal(t, 25*time.Millisecond, sleeps[1])
}

func TestNonPositiveSpeedup(t *testing.T) {
	r := New(0, timeutil.NewFrozenMockClock(epoch), Options{})
	assert.Equal(t, 1.0, r.Speedup())
}
