package transport

import (
	"net"
	"sync"
	"time"
)

// UDPSocket defines the UDP socket operations the transport needs.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// ReadFromUDP reads a UDP packet from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// WriteToUDP sends a UDP packet to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// ListenUDP opens a real UDP socket bound to laddr. A nil laddr binds an
// ephemeral port.
func ListenUDP(laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MockUDPSocket implements UDPSocket for testing. It is safe for concurrent
// use so that a transport's read loop and the test can share it.
type MockUDPSocket struct {
	mu sync.Mutex

	// Packets holds the packets still to be returned from ReadFromUDP.
	Packets []MockUDPPacket
	// Writes records every packet passed to WriteToUDP.
	Writes []MockUDPPacket
	// Closed indicates whether Close was called.
	Closed bool
	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
	// WriteError is returned by WriteToUDP if set.
	WriteError error
	// DeadlineError is returned by SetReadDeadline if set.
	DeadlineError error

	// wait bounds how long an empty read blocks before timing out.
	wait time.Duration
}

// MockUDPPacket represents a packet for mock testing.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket with the given packets.
func NewMockUDPSocket(packets ...MockUDPPacket) *MockUDPSocket {
	return &MockUDPSocket{
		Packets: packets,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: 14551,
		},
		wait: time.Millisecond,
	}
}

// Push queues a packet for a later ReadFromUDP.
func (m *MockUDPSocket) Push(data []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packets = append(m.Packets, MockUDPPacket{Data: append([]byte(nil), data...), Addr: addr})
}

// ReadFromUDP returns the next queued packet, or a timeout error when the
// queue is empty.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error) {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	if len(m.Packets) == 0 {
		wait := m.wait
		m.mu.Unlock()
		// Simulate a read deadline expiring.
		time.Sleep(wait)
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.Packets[0]
	m.Packets = m.Packets[1:]
	m.mu.Unlock()
	n = copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

// WriteToUDP records the packet.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.Writes = append(m.Writes, MockUDPPacket{Data: append([]byte(nil), b...), Addr: addr})
	return len(b), nil
}

// Written returns a copy of the recorded writes.
func (m *MockUDPSocket) Written() []MockUDPPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockUDPPacket, len(m.Writes))
	copy(out, m.Writes)
	return out
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBufferSize = bytes
	return nil
}

// SetReadDeadline returns DeadlineError and otherwise ignores t; empty
// reads time out after a short fixed wait.
func (m *MockUDPSocket) SetReadDeadline(time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DeadlineError
}

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
