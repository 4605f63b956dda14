// Package actuator keeps the autopilot's RC-override input alive.
//
// ArduSub's SITL reads RC channels from a UDP port and fails safe when the
// stream stops, so the simulator re-sends the latest commanded channels at a
// fixed simulated-time cadence from a background goroutine.
package actuator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/timeutil"
)

// NumChannels is the number of RC channels in a frame.
const NumChannels = 16

// Well-known channel indices and PWM values.
const (
	ThrottleChannel = 2

	PWMNeutral = 1500
	PWMLow     = 1000
)

// DefaultPeriod is the re-send period in simulated seconds.
const DefaultPeriod = 0.1

// Channels is one RC frame of PWM values in microseconds.
type Channels [NumChannels]uint16

// DefaultChannels returns neutral sticks on channels 1-6 and low on the
// rest.
func DefaultChannels() Channels {
	var c Channels
	for i := range c {
		if i < 6 {
			c[i] = PWMNeutral
		} else {
			c[i] = PWMLow
		}
	}
	return c
}

// Sender transmits one RC frame.
type Sender interface {
	SendChannels(Channels) error
}

// ErrChannelRange is returned by SetChannel for an index outside the frame.
var ErrChannelRange = errors.New("actuator: channel index out of range")

// State is the lifecycle state of a Writer.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Writer periodically transmits the commanded channels until stopped.
//
// The commanded frame is guarded by a mutex that is never held while
// sending or sleeping.
type Writer struct {
	sender   Sender
	clock    timeutil.Clock
	interval time.Duration

	mu       sync.Mutex
	channels Channels
	state    State
	failing  bool

	wg sync.WaitGroup
}

// NewWriter returns an idle Writer that will send every period simulated
// seconds, i.e. every period/speedup wall seconds.
func NewWriter(sender Sender, clock timeutil.Clock, period, speedup float64) *Writer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	if speedup <= 0 {
		speedup = 1
	}
	return &Writer{
		sender:   sender,
		clock:    clock,
		interval: timeutil.Seconds(period / speedup),
		channels: DefaultChannels(),
	}
}

// Interval returns the wall-clock period between frames.
func (w *Writer) Interval() time.Duration { return w.interval }

// Start launches the send loop. Calling Start on a Writer that is already
// running or stopped has no effect.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Idle {
		return
	}
	w.state = Running
	w.wg.Add(1)
	go w.run()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		if w.state == Stopped {
			w.mu.Unlock()
			return
		}
		frame := w.channels
		w.mu.Unlock()

		w.send(frame)
		w.clock.Sleep(w.interval)
	}
}

func (w *Writer) send(frame Channels) {
	err := w.sender.SendChannels(frame)

	w.mu.Lock()
	wasFailing := w.failing
	w.failing = err != nil
	w.mu.Unlock()

	if err != nil {
		monitoring.ActuatorErrors.Inc()
		if !wasFailing {
			monitoring.Logf("actuator: send failed: %v", err)
		}
		return
	}
	monitoring.ActuatorFrames.Inc()
	if wasFailing {
		monitoring.Logf("actuator: send recovered")
	}
}

// SetChannel sets channel i to value. The change goes out with the next
// frame.
func (w *Writer) SetChannel(i int, value uint16) error {
	if i < 0 || i >= NumChannels {
		return fmt.Errorf("%w: %d", ErrChannelRange, i)
	}
	w.mu.Lock()
	w.channels[i] = value
	w.mu.Unlock()
	return nil
}

// SetThrottle sets the throttle channel.
func (w *Writer) SetThrottle(value uint16) {
	_ = w.SetChannel(ThrottleChannel, value)
}

// Channels returns the currently commanded frame.
func (w *Writer) Channels() Channels {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.channels
}

// State returns the writer's lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stop asks the send loop to exit before its next frame. It does not wait:
// a frame already being sent when Stop is called still goes out, and may
// do so after Stop returns. Frames stop for good once Wait returns.
func (w *Writer) Stop() {
	w.mu.Lock()
	w.state = Stopped
	w.mu.Unlock()
}

// Wait blocks until the send loop has exited.
func (w *Writer) Wait() {
	w.wg.Wait()
}
