package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/mavlink"
	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/rangefinder"
)

// Wire constants for the DISTANCE_SENSOR reports ArduSub's MAVLink
// rangefinder driver accepts.
const (
	reportMinDistanceCm = 50
	reportMaxDistanceCm = 5000
	reportSensorID      = 1
)

// Options configures a Conn.
type Options struct {
	// SysID and CompID identify the simulator on the MAVLink network.
	SysID  uint8
	CompID uint8

	// QueueSize bounds the number of undelivered position updates. When
	// the queue is full the oldest update is dropped.
	QueueSize int

	// ReadTimeout is how long a single link read may block before the read
	// loop checks for shutdown.
	ReadTimeout time.Duration

	// StatusLogf receives relayed STATUSTEXT messages. Defaults to
	// monitoring.Logf.
	StatusLogf func(format string, v ...interface{})
}

// DefaultOptions identifies the simulator as a GCS (255/0), matching the
// SITL runner.
func DefaultOptions() Options {
	return Options{
		SysID:       255,
		CompID:      0,
		QueueSize:   1024,
		ReadTimeout: 100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.StatusLogf == nil {
		o.StatusLogf = func(format string, v ...interface{}) { monitoring.Logf(format, v...) }
	}
	return o
}

// Conn is a MAVLink connection to an autopilot over any Link. A background
// goroutine reads and decodes frames; position updates are queued for
// RecvPosition and heartbeats update the vehicle state. Heartbeats from
// ground stations, including our own echoed by a router, do not describe
// the vehicle and are ignored. Every position update is delivered;
// duplicates and reordering are left to the consumer.
type Conn struct {
	link Link
	opts Options
	enc  *mavlink.Encoder

	positions chan Position
	notify    chan struct{}
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once

	deadlineOnce sync.Once

	writeMu sync.Mutex

	mu         sync.Mutex
	targetSys  uint8
	targetComp uint8
	heard      bool
	armed      bool
	readErr    error
}

// NewConn starts reading from link.
func NewConn(link Link, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		link:       link,
		opts:       opts,
		enc:        mavlink.NewEncoder(opts.SysID, opts.CompID),
		positions:  make(chan Position, opts.QueueSize),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		targetSys:  1,
		targetComp: 1,
	}
	go c.readLoop()
	return c
}

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// errStopped ends a stream read once Close has been called.
var errStopped = errors.New("transport: connection closed")

func (c *Conn) readLoop() {
	defer close(c.readDone)

	var err error
	if isDatagram(c.link) {
		err = c.readDatagrams()
	} else {
		err = c.readStream()
	}
	if err != nil && !errors.Is(err, errStopped) {
		c.mu.Lock()
		c.readErr = err
		c.mu.Unlock()
	}
}

// readDatagrams decodes each datagram on its own; frames never span
// datagrams, so a frame cut short by the end of one is a decode error.
func (c *Conn) readDatagrams() error {
	buf := make([]byte, maxDatagram)
	for {
		if c.stopped() {
			return nil
		}
		c.armDeadline()
		n, err := c.link.Read(buf)
		if n > 0 {
			frames, skipped := mavlink.ParseDatagram(buf[:n])
			monitoring.DecodeErrors.Add(int64(len(skipped)))
			for _, f := range frames {
				c.dispatch(f)
			}
		}
		if err == nil || isTimeout(err) {
			continue
		}
		if isTerminal(err) {
			return err
		}
		if c.stopped() {
			return nil
		}
		monitoring.Logf("transport: read error: %v", err)
	}
}

// readStream decodes a byte stream with a single reader so frames split
// across reads are reassembled.
func (c *Conn) readStream() error {
	r, err := mavlink.NewReader(streamSource{c})
	if err != nil {
		return err
	}
	for {
		f, err := r.Read()
		switch {
		case err == nil:
			c.dispatch(f)
		case mavlink.IsDecodeError(err):
			monitoring.DecodeErrors.Inc()
		default:
			return err
		}
	}
}

// streamSource turns the link's bounded reads into a blocking io.Reader
// for the frame reader. Deadline expiries are retried so a partial frame
// is never discarded; Close ends the read with errStopped.
type streamSource struct {
	c *Conn
}

func (s streamSource) Read(p []byte) (int, error) {
	for {
		if s.c.stopped() {
			return 0, errStopped
		}
		s.c.armDeadline()
		n, err := s.c.link.Read(p)
		switch {
		case n > 0:
			return n, nil
		case err == nil || isTimeout(err):
		case isTerminal(err):
			if s.c.stopped() {
				return 0, errStopped
			}
			return 0, err
		default:
			if s.c.stopped() {
				return 0, errStopped
			}
			monitoring.Logf("transport: read error: %v", err)
		}
	}
}

func (c *Conn) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// armDeadline bounds the next read so shutdown is noticed promptly. A link
// that cannot take a deadline still works, but Close then relies on the
// link unblocking its pending read.
func (c *Conn) armDeadline() {
	err := c.link.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	if err != nil {
		c.deadlineOnce.Do(func() {
			monitoring.Logf("transport: cannot set read deadline: %v", err)
		})
	}
}

func (c *Conn) dispatch(f mavlink.Frame) {
	if f.GetSystemID() == c.opts.SysID && f.GetComponentID() == c.opts.CompID {
		return
	}

	// Messages outside the dialect arrive undecoded and fall through.
	switch msg := f.GetMessage().(type) {
	case *mavlink.GlobalPositionInt:
		c.enqueue(Position{
			SimTime: float64(msg.TimeBootMs) * 0.001,
			Z:       float64(msg.RelativeAlt) * 0.001,
		})
	case *mavlink.Heartbeat:
		if msg.Type == mavlink.TypeGCS {
			return
		}
		c.mu.Lock()
		c.heard = true
		c.armed = mavlink.Armed(msg)
		c.targetSys = f.GetSystemID()
		c.targetComp = f.GetComponentID()
		c.mu.Unlock()
		select {
		case c.notify <- struct{}{}:
		default:
		}
	case *mavlink.StatusText:
		c.opts.StatusLogf("%s: %s", mavlink.SeverityName(msg.Severity), msg.Text)
	}
}

func (c *Conn) enqueue(p Position) {
	monitoring.PositionsRecv.Inc()
	for {
		select {
		case c.positions <- p:
			return
		default:
		}
		// Full: discard the oldest update and retry.
		select {
		case <-c.positions:
			monitoring.PositionsDropped.Inc()
		default:
		}
	}
}

// RecvPosition implements Transport.
func (c *Conn) RecvPosition(ctx context.Context, wait time.Duration) (Position, error) {
	select {
	case p := <-c.positions:
		return p, nil
	default:
	}
	if wait == 0 {
		if err := c.ended(); err != nil {
			return Position{}, err
		}
		return Position{}, ErrNoData
	}

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case p := <-c.positions:
		return p, nil
	case <-timeout:
		return Position{}, ErrNoData
	case <-ctx.Done():
		return Position{}, ctx.Err()
	case <-c.readDone:
		// The reader may have queued updates just before it exited.
		select {
		case p := <-c.positions:
			return p, nil
		default:
		}
		return Position{}, c.ended()
	}
}

// ended returns a non-nil error once the read loop has exited.
func (c *Conn) ended() error {
	select {
	case <-c.readDone:
	default:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
	}
	return ErrClosed
}

func (c *Conn) send(m mavlink.Message) error {
	buf, err := c.enc.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.link.Write(buf); err != nil {
		return fmt.Errorf("failed to send message %d: %w", m.GetID(), err)
	}
	return nil
}

func (c *Conn) target() (uint8, uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetSys, c.targetComp
}

// SendDistance implements Transport.
func (c *Conn) SendDistance(r rangefinder.Report) error {
	return c.send(&mavlink.DistanceSensor{
		MinDistance:     reportMinDistanceCm,
		MaxDistance:     reportMaxDistanceCm,
		CurrentDistance: uint16(max(0, min(r.DistanceCm(), 0xFFFF))),
		Type:            mavlink.DistanceSensorUnknown,
		Id:              reportSensorID,
		Orientation:     mavlink.SensorRotationPitch270,
		SignalQuality:   uint8(r.Quality),
	})
}

// SetMode implements Transport.
func (c *Conn) SetMode(mode uint32) error {
	sys, _ := c.target()
	return c.send(&mavlink.SetMode{
		CustomMode:   mode,
		TargetSystem: sys,
		BaseMode:     mavlink.ModeFlagCustomModeEnabled,
	})
}

// Arm implements Transport.
func (c *Conn) Arm() error {
	sys, comp := c.target()
	return c.send(&mavlink.CommandLong{
		Param1:          1,
		Command:         mavlink.CmdComponentArmDisarm,
		TargetSystem:    sys,
		TargetComponent: comp,
	})
}

// RequestMessageInterval implements Vehicle.
func (c *Conn) RequestMessageInterval(msgID uint32, hz float64) error {
	if hz <= 0 {
		return fmt.Errorf("invalid message rate %v", hz)
	}
	sys, comp := c.target()
	return c.send(&mavlink.CommandLong{
		Param1:          float32(msgID),
		Param2:          float32(1e6 / hz),
		Command:         mavlink.CmdSetMessageInterval,
		TargetSystem:    sys,
		TargetComponent: comp,
	})
}

// WaitHeartbeat implements Vehicle.
func (c *Conn) WaitHeartbeat(ctx context.Context) error {
	return c.waitFor(ctx, func() bool { return c.heard })
}

// WaitArmed implements Vehicle.
func (c *Conn) WaitArmed(ctx context.Context) error {
	return c.waitFor(ctx, func() bool { return c.armed })
}

// waitFor blocks until cond, evaluated under c.mu, holds.
func (c *Conn) waitFor(ctx context.Context, cond func() bool) error {
	for {
		c.mu.Lock()
		ok := cond()
		c.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-c.notify:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.readDone:
			return c.ended()
		}
	}
}

// Close stops the read loop and closes the link.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.link.Close()
		<-c.readDone
	})
	return err
}
