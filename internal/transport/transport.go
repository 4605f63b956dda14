// Package transport connects the simulator to the autopilot.
//
// Telemetry is MAVLink over UDP, TCP, a serial radio or a recorded pcap
// file. The link is unreliable and message oriented: datagrams may be
// duplicated, delayed or lost, and none of that is reported as an error.
// RC-override frames travel on a separate UDP socket (see RCSink).
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/rangefinder"
)

var (
	// ErrNoData is returned by RecvPosition when nothing arrived within the
	// requested wait.
	ErrNoData = errors.New("transport: no data")

	// ErrNoPeer is returned when sending on a listening socket that has not
	// yet heard from anyone.
	ErrNoPeer = errors.New("transport: no peer address yet")

	// ErrClosed is returned once the transport has been closed or its link
	// has ended.
	ErrClosed = errors.New("transport: closed")
)

// Position is one vertical-position update from the autopilot.
type Position struct {
	// SimTime is the autopilot's time since boot in seconds.
	SimTime float64
	// Z is the vehicle's altitude relative to home in metres, negative
	// when submerged.
	Z float64
}

// Transport is the simulator's view of the telemetry link.
type Transport interface {
	// RecvPosition returns the next position update. A zero wait polls
	// without blocking, a negative wait blocks until ctx is done, and a
	// positive wait bounds the block. ErrNoData reports an empty wait.
	RecvPosition(ctx context.Context, wait time.Duration) (Position, error)

	// SendDistance transmits one rangefinder reading.
	SendDistance(r rangefinder.Report) error

	// SetMode requests a flight mode change.
	SetMode(mode uint32) error

	// Arm requests that the motors be armed.
	Arm() error

	Close() error
}

// Vehicle extends Transport with the handshakes used to prepare the
// autopilot before streaming.
type Vehicle interface {
	Transport

	// WaitHeartbeat blocks until the autopilot has been heard from.
	WaitHeartbeat(ctx context.Context) error

	// WaitArmed blocks until the autopilot reports it is armed.
	WaitArmed(ctx context.Context) error

	// RequestMessageInterval asks the autopilot to stream msgID at hz.
	RequestMessageInterval(msgID uint32, hz float64) error
}
