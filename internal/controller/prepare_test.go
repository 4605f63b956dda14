package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangefinder.sim/internal/actuator"
	"github.com/banshee-data/rangefinder.sim/internal/mavlink"
	"github.com/banshee-data/rangefinder.sim/internal/simclock"
	"github.com/banshee-data/rangefinder.sim/internal/timeutil"
	"github.com/banshee-data/rangefinder.sim/internal/transport"
)

var _ Throttler = (*actuator.Writer)(nil)

type throttleLog struct{ values []uint16 }

func (l *throttleLog) SetThrottle(v uint16) { l.values = append(l.values, v) }

func prepareRig(t *testing.T, zs ...float64) (*Controller, *transport.MockTransport, *timeutil.MockClock) {
	t.Helper()
	quietLogs(t)
	clock := timeutil.NewMockClock(time.Time{})
	link := transport.NewMockTransport()
	for i, z := range zs {
		link.Push(transport.Position{SimTime: float64(i) * 0.2, Z: z})
	}
	recon := simclock.New(1, clock, simclock.Options{})
	c, err := New(Config{Delay: 0.3}, link, recon, profileOf(-20), noiseless(), nil)
	require.NoError(t, err)
	return c, link, clock
}

func TestPrepare_DescendsToDepth(t *testing.T) {
	c, link, clock := prepareRig(t, 0, -2, -4, -6, -8, -10, -12)
	throttle := &throttleLog{}

	err := c.Prepare(context.Background(), link, throttle, PrepareConfig{
		Depth:           -10,
		SettleTime:      25,
		PositionRateHz:  5,
		PositionTimeout: time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, []uint16{ThrottleDescend, actuator.PWMNeutral}, throttle.values)
	_, modes := link.Snapshot()
	assert.Equal(t, []uint32{ModeDepthHold}, modes)
	assert.Equal(t, 1, link.ArmCalls)
	assert.Equal(t, 5.0, link.Intervals[mavlink.MsgIDGlobalPositionInt])

	// the dive stops at the first position at or past the target
	assert.Equal(t, 1, link.Pending())
	assert.Equal(t, 6, c.History().Len(), "dive positions feed the history")

	assert.Equal(t, []time.Duration{25 * time.Second}, clock.Sleeps())
}

func TestPrepare_AscendsToDepth(t *testing.T) {
	c, link, _ := prepareRig(t, -15, -13, -11, -9)
	throttle := &throttleLog{}

	err := c.Prepare(context.Background(), link, throttle, PrepareConfig{Depth: -10})
	require.NoError(t, err)
	assert.Equal(t, []uint16{ThrottleAscend, actuator.PWMNeutral}, throttle.values)
	assert.Zero(t, link.Pending())
	assert.Empty(t, link.Intervals, "zero rate leaves the stream alone")
}

func TestPrepare_DiveTimeoutRestoresNeutral(t *testing.T) {
	c, link, _ := prepareRig(t, 0, -1)
	throttle := &throttleLog{}

	err := c.Prepare(context.Background(), link, throttle, PrepareConfig{Depth: -10, PositionTimeout: time.Second})
	assert.True(t, errors.Is(err, ErrPositionTimeout), "got %v", err)
	require.NotEmpty(t, throttle.values)
	assert.Equal(t, uint16(actuator.PWMNeutral), throttle.values[len(throttle.values)-1])
}

func TestPrepare_NoHeartbeat(t *testing.T) {
	c, link, _ := prepareRig(t, 0)
	link.Heartbeat = false
	throttle := &throttleLog{}

	err := c.Prepare(context.Background(), link, throttle, PrepareConfig{Depth: -10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait heartbeat")
	assert.Zero(t, link.ArmCalls)
	assert.Empty(t, throttle.values)
}

func TestPrepare_CancelledContext(t *testing.T) {
	c, link, _ := prepareRig(t, 0, -20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Prepare(ctx, link, &throttleLog{}, PrepareConfig{Depth: -10})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}
