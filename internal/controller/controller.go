// Package controller runs the rangefinder streaming loop.
//
// Each cycle drains position updates from the vehicle, estimates the current
// simulated time, looks up where the vehicle was one sensor delay ago and
// turns that, together with the next terrain reading, into a distance report.
// The loop is paced in simulated time by the clock reconciler and is the only
// goroutine that touches the delay line, the clock or the terrain cursor.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/delayline"
	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/rangefinder"
	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
	"github.com/banshee-data/rangefinder.sim/internal/simclock"
	"github.com/banshee-data/rangefinder.sim/internal/terrain"
	"github.com/banshee-data/rangefinder.sim/internal/transport"
)

var (
	// ErrBootstrapTimeout is returned when the vehicle stops sending
	// positions before enough history has been collected.
	ErrBootstrapTimeout = errors.New("controller: timed out waiting for position history")

	// ErrHistoryUnavailable is returned when the delayed position cannot be
	// looked up after bootstrapping succeeded.
	ErrHistoryUnavailable = errors.New("controller: delayed position not in history")
)

// Config holds the run parameters. Times are simulated seconds unless noted.
type Config struct {
	// Delay is the simulated sensor latency.
	Delay float64

	// Duration ends the run once the monotonic estimate passes it. Zero or
	// negative runs until the context is cancelled.
	Duration float64

	// BootstrapTimeout bounds, in wall time, each wait for a position while
	// history is being collected. Zero or negative waits indefinitely.
	BootstrapTimeout time.Duration

	// ModeChangeCycle is the cycle after which Mode is requested, once.
	// Zero or negative disables the change.
	ModeChangeCycle int
	Mode            uint32

	// Retention limits the position history. Zero keeps everything; a
	// positive value must exceed Delay.
	Retention float64
}

// RecordWriter receives one record per transmitted report.
type RecordWriter interface {
	Write(readinglog.Record) error
}

// Summary describes a finished run.
type Summary struct {
	Cycles      int
	Sent        int
	SendErrors  int
	Suppressed  int
	LowSignal   int
	ModeChanged bool
	Laps        int

	// First and Last are the monotonic estimates of the first and last
	// cycle.
	First float64
	Last  float64

	Clock simclock.Stats
}

// Controller owns the per-run state of the streaming loop.
type Controller struct {
	cfg     Config
	link    transport.Transport
	clock   *simclock.Reconciler
	history *delayline.DelayLine
	profile *terrain.Profile
	cursor  *terrain.Cursor
	synth   *rangefinder.Synthesizer
	records RecordWriter

	summary     Summary
	modeSent    bool
	sendFailing bool
}

// New returns a Controller. records may be nil to skip logging.
func New(cfg Config, link transport.Transport, clock *simclock.Reconciler, profile *terrain.Profile, synth *rangefinder.Synthesizer, records RecordWriter) (*Controller, error) {
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("controller: negative delay %v", cfg.Delay)
	}
	if cfg.Retention > 0 && cfg.Retention <= cfg.Delay {
		return nil, fmt.Errorf("controller: retention %vs must exceed delay %vs", cfg.Retention, cfg.Delay)
	}
	if profile == nil || len(profile.Readings) == 0 {
		return nil, terrain.ErrEmptyProfile
	}
	if link == nil || clock == nil || synth == nil {
		return nil, errors.New("controller: link, clock and synthesizer are required")
	}
	return &Controller{
		cfg:     cfg,
		link:    link,
		clock:   clock,
		history: delayline.New(delayline.WithRetention(cfg.Retention)),
		profile: profile,
		cursor:  terrain.NewCursor(profile),
		synth:   synth,
		records: records,
	}, nil
}

// History exposes the position history, for diagnostics.
func (c *Controller) History() *delayline.DelayLine { return c.history }

func (c *Controller) logf(format string, v ...interface{}) {
	monitoring.SimLogf(c.clock.RoughEstimate(), format, v...)
}

// feed applies one position update. Updates the clock rejects are not
// added to the history, which keeps its timestamps increasing.
func (c *Controller) feed(p transport.Position) {
	if c.clock.Update(p.SimTime) {
		c.history.Add(p.SimTime, p.Z)
		monitoring.PositionsApplied.Inc()
	}
}

// drain feeds every update that is already waiting.
func (c *Controller) drain(ctx context.Context) error {
	for {
		p, err := c.link.RecvPosition(ctx, 0)
		if errors.Is(err, transport.ErrNoData) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive position: %w", err)
		}
		c.feed(p)
	}
}

// bootstrap blocks until the history spans more than the sensor delay.
func (c *Controller) bootstrap(ctx context.Context) error {
	wait := c.cfg.BootstrapTimeout
	if wait <= 0 {
		wait = -1
	}
	for c.history.LengthSeconds() <= c.cfg.Delay {
		p, err := c.link.RecvPosition(ctx, wait)
		if errors.Is(err, transport.ErrNoData) {
			return fmt.Errorf("%w: have %.3fs of %.3fs after %v", ErrBootstrapTimeout,
				c.history.LengthSeconds(), c.cfg.Delay, c.cfg.BootstrapTimeout)
		}
		if err != nil {
			return fmt.Errorf("receive position: %w", err)
		}
		c.feed(p)
	}
	return nil
}

// step produces one reading and returns the monotonic time it was taken at.
func (c *Controller) step() (float64, error) {
	now := c.clock.MonotonicEstimate()
	delayed := now - c.cfg.Delay
	position, ok := c.history.Get(delayed)
	if !ok {
		first, _ := c.history.First()
		return now, fmt.Errorf("%w: t=%.4f, history starts at %.4f", ErrHistoryUnavailable, delayed, first.T)
	}

	if c.summary.Cycles == 0 {
		c.summary.First = now
	}
	c.summary.Last = now
	c.summary.Cycles++

	reading := c.cursor.Next()
	report := c.synth.Synthesize(reading, position)

	switch c.synth.Params().Classify(reading) {
	case terrain.Dropout:
		monitoring.Dropouts.Inc()
		c.summary.Suppressed++
	case terrain.LowSignal:
		monitoring.LowSignal.Inc()
		c.summary.LowSignal++
	}

	if !report.Suppressed {
		c.send(report)
		if c.records != nil {
			rec := readinglog.NewRecord(delayed, reading, position, report.DistanceCm(), report.Quality)
			if err := c.records.Write(rec); err != nil {
				return now, fmt.Errorf("write reading log: %w", err)
			}
		}
	}

	if c.cfg.ModeChangeCycle > 0 && !c.modeSent && c.summary.Cycles >= c.cfg.ModeChangeCycle {
		c.modeSent = true
		c.logf("Set mode to %d", c.cfg.Mode)
		if err := c.link.SetMode(c.cfg.Mode); err != nil {
			c.logf("set mode %d failed: %v", c.cfg.Mode, err)
		} else {
			c.summary.ModeChanged = true
		}
	}
	return now, nil
}

// send transmits a report. Failures are counted and logged on the first
// occurrence and on recovery; they never stop the run.
func (c *Controller) send(r rangefinder.Report) {
	if err := c.link.SendDistance(r); err != nil {
		monitoring.ReportSendErrors.Inc()
		c.summary.SendErrors++
		if !c.sendFailing {
			c.logf("send distance failed: %v", err)
			c.sendFailing = true
		}
		return
	}
	monitoring.ReportsSent.Inc()
	c.summary.Sent++
	if c.sendFailing {
		c.logf("send distance recovered")
		c.sendFailing = false
	}
}

// Run streams readings until the configured duration has passed, the
// context is cancelled or a fatal error occurs. The returned Summary is
// valid in every case.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	c.logf("Send rangefinder readings, terrain interval %.3fs, delay %.3fs", c.profile.Interval, c.cfg.Delay)
	for {
		if err := ctx.Err(); err != nil {
			return c.finish(), err
		}
		if err := c.drain(ctx); err != nil {
			return c.finish(), err
		}
		if err := c.bootstrap(ctx); err != nil {
			return c.finish(), err
		}
		now, err := c.step()
		if err != nil {
			return c.finish(), err
		}

		c.clock.Sleep(c.profile.Interval)

		if c.cfg.Duration > 0 && now > c.cfg.Duration {
			c.logf("Time limit reached")
			return c.finish(), nil
		}
	}
}

func (c *Controller) finish() Summary {
	c.summary.Laps = c.cursor.Laps()
	c.summary.Clock = c.clock.Stats()
	return c.summary
}
