package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/actuator"
	"github.com/banshee-data/rangefinder.sim/internal/mavlink"
	"github.com/banshee-data/rangefinder.sim/internal/transport"
)

// ArduSub flight modes.
const (
	ModeDepthHold = 2
	ModeRangeHold = 21
)

// Throttle commands used while diving.
const (
	ThrottleDescend uint16 = 1300
	ThrottleAscend  uint16 = 1700
)

// ErrPositionTimeout is returned when no position arrives while diving.
var ErrPositionTimeout = errors.New("controller: no position update")

// Throttler holds a throttle command. actuator.Writer implements it.
type Throttler interface {
	SetThrottle(value uint16)
}

// PrepareConfig controls the preparation phase.
type PrepareConfig struct {
	// Depth is the target Z in metres, negative down.
	Depth float64

	// SettleTime is the simulated time to wait after the dive so the
	// autopilot's estimator converges.
	SettleTime float64

	// PositionRateHz is the GLOBAL_POSITION_INT rate requested from the
	// autopilot. Zero leaves the rate alone.
	PositionRateHz float64

	// PositionTimeout bounds each wait for a position while diving. Zero
	// or negative waits indefinitely.
	PositionTimeout time.Duration
}

// Prepare gets the vehicle ready to stream: it waits for a heartbeat,
// requests the position stream, selects depth hold, arms, dives to the
// target depth and waits for the settle time. v is normally the same link
// the Controller was built with; positions seen during the dive are added to
// the history. The throttle is returned to neutral however the dive ends.
func (c *Controller) Prepare(ctx context.Context, v transport.Vehicle, throttle Throttler, cfg PrepareConfig) error {
	c.logf("Wait for HEARTBEAT")
	if err := v.WaitHeartbeat(ctx); err != nil {
		return fmt.Errorf("wait heartbeat: %w", err)
	}

	if cfg.PositionRateHz > 0 {
		c.logf("Set message intervals")
		if err := v.RequestMessageInterval(mavlink.MsgIDGlobalPositionInt, cfg.PositionRateHz); err != nil {
			return fmt.Errorf("request position stream: %w", err)
		}
	}

	c.logf("Set mode to DEPTH_HOLD")
	if err := v.SetMode(ModeDepthHold); err != nil {
		return fmt.Errorf("set depth hold: %w", err)
	}

	c.logf("Arm")
	if err := v.Arm(); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	if err := v.WaitArmed(ctx); err != nil {
		return fmt.Errorf("wait armed: %w", err)
	}

	c.logf("Dive to %.1fm", cfg.Depth)
	if err := c.dive(ctx, v, throttle, cfg); err != nil {
		return err
	}

	if cfg.SettleTime > 0 {
		c.logf("Wait for EKF solution")
		c.clock.Sleep(cfg.SettleTime)
	}
	return nil
}

func (c *Controller) dive(ctx context.Context, v transport.Transport, throttle Throttler, cfg PrepareConfig) error {
	wait := cfg.PositionTimeout
	if wait <= 0 {
		wait = -1
	}
	next := func() (float64, error) {
		p, err := v.RecvPosition(ctx, wait)
		if errors.Is(err, transport.ErrNoData) {
			return 0, fmt.Errorf("dive to %.1fm: %w within %v", cfg.Depth, ErrPositionTimeout, cfg.PositionTimeout)
		}
		if err != nil {
			return 0, fmt.Errorf("dive to %.1fm: %w", cfg.Depth, err)
		}
		c.feed(p)
		return p.Z, nil
	}

	z, err := next()
	if err != nil {
		return err
	}
	descend := z > cfg.Depth

	defer throttle.SetThrottle(actuator.PWMNeutral)
	if descend {
		throttle.SetThrottle(ThrottleDescend)
	} else {
		throttle.SetThrottle(ThrottleAscend)
	}

	for (descend && z > cfg.Depth) || (!descend && z < cfg.Depth) {
		if z, err = next(); err != nil {
			return err
		}
	}
	return nil
}
