package transport

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/rangefinder"
)

// MockTransport implements Vehicle for testing. Queued positions are
// returned in order; blocking receives on an empty queue call OnBlock once
// and then report ErrNoData immediately instead of waiting.
type MockTransport struct {
	mu sync.Mutex

	queue []Position

	// OnBlock runs when a blocking receive finds the queue empty. It may
	// Push more positions.
	OnBlock func(m *MockTransport)

	Reports   []rangefinder.Report
	Modes     []uint32
	ArmCalls  int
	Intervals map[uint32]float64
	Closed    bool

	// Armed is reported by WaitArmed. Heartbeat is reported by
	// WaitHeartbeat.
	Armed     bool
	Heartbeat bool

	// SendError is returned by SendDistance if set.
	SendError error
}

// NewMockTransport returns an empty mock that has already "heard" a
// heartbeat and arms on request.
func NewMockTransport(positions ...Position) *MockTransport {
	return &MockTransport{
		queue:     positions,
		Intervals: make(map[uint32]float64),
		Heartbeat: true,
	}
}

// Push queues position updates.
func (m *MockTransport) Push(p ...Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, p...)
}

// Pending returns the number of queued updates.
func (m *MockTransport) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *MockTransport) pop() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Position{}, false
	}
	p := m.queue[0]
	m.queue = m.queue[1:]
	return p, true
}

// RecvPosition implements Transport.
func (m *MockTransport) RecvPosition(ctx context.Context, wait time.Duration) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	if p, ok := m.pop(); ok {
		return p, nil
	}
	if wait == 0 {
		return Position{}, ErrNoData
	}
	if m.OnBlock != nil {
		m.OnBlock(m)
		if p, ok := m.pop(); ok {
			return p, nil
		}
	}
	return Position{}, ErrNoData
}

// SendDistance implements Transport.
func (m *MockTransport) SendDistance(r rangefinder.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendError != nil {
		return m.SendError
	}
	m.Reports = append(m.Reports, r)
	return nil
}

// SetMode implements Transport.
func (m *MockTransport) SetMode(mode uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Modes = append(m.Modes, mode)
	return nil
}

// Arm implements Transport.
func (m *MockTransport) Arm() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArmCalls++
	m.Armed = true
	return nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// WaitHeartbeat implements Vehicle.
func (m *MockTransport) WaitHeartbeat(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Heartbeat {
		return ErrNoData
	}
	return ctx.Err()
}

// WaitArmed implements Vehicle.
func (m *MockTransport) WaitArmed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Armed {
		return ErrNoData
	}
	return ctx.Err()
}

// RequestMessageInterval implements Vehicle.
func (m *MockTransport) RequestMessageInterval(msgID uint32, hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Intervals[msgID] = hz
	return nil
}

// Snapshot returns copies of the recorded reports and modes.
func (m *MockTransport) Snapshot() (reports []rangefinder.Report, modes []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rangefinder.Report(nil), m.Reports...), append([]uint32(nil), m.Modes...)
}
