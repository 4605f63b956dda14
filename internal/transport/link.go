package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Link moves raw MAVLink bytes. Reads may return partial frames (stream
// links) or whole datagrams; the connection's parser copes with both.
type Link interface {
	io.ReadWriteCloser

	// SetReadDeadline bounds the next Read. A read that hits the deadline
	// returns a timeout error or (0, nil).
	SetReadDeadline(t time.Time) error
}

// datagramLink marks links whose reads return whole datagrams.
type datagramLink interface {
	datagram()
}

func isDatagram(l Link) bool {
	if c, ok := l.(*capturingLink); ok {
		l = c.Link
	}
	_, ok := l.(datagramLink)
	return ok
}

// udpLink adapts a UDPSocket to Link. A listening link replies to whoever
// sent the most recent datagram; a dialled link always sends to its fixed
// peer.
type udpLink struct {
	sock  UDPSocket
	fixed bool

	mu   sync.Mutex
	peer *net.UDPAddr
}

// NewUDPListenLink returns a Link that receives on sock and replies to
// the latest sender.
func NewUDPListenLink(sock UDPSocket) Link {
	return &udpLink{sock: sock}
}

// NewUDPDialLink returns a Link that sends to peer and accepts datagrams
// from anyone.
func NewUDPDialLink(sock UDPSocket, peer *net.UDPAddr) Link {
	return &udpLink{sock: sock, fixed: true, peer: peer}
}

func (l *udpLink) Read(p []byte) (int, error) {
	n, addr, err := l.sock.ReadFromUDP(p)
	if err == nil && addr != nil && !l.fixed {
		l.mu.Lock()
		l.peer = addr
		l.mu.Unlock()
	}
	return n, err
}

func (l *udpLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer == nil {
		return 0, ErrNoPeer
	}
	return l.sock.WriteToUDP(p, peer)
}

func (l *udpLink) SetReadDeadline(t time.Time) error { return l.sock.SetReadDeadline(t) }

func (l *udpLink) Close() error { return l.sock.Close() }

func (l *udpLink) datagram() {}

// Peer returns the address replies are sent to, or nil.
func (l *udpLink) Peer() *net.UDPAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peer
}

// SerialPorter is the subset of go.bug.st/serial.Port the transport uses.
type SerialPorter interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
}

// serialLink adapts a serial port's read timeout to a deadline.
type serialLink struct {
	SerialPorter
}

// NewSerialLink wraps an open serial port.
func NewSerialLink(port SerialPorter) Link {
	return serialLink{port}
}

func (s serialLink) SetReadDeadline(t time.Time) error {
	d := time.Until(t)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return s.SetReadTimeout(d)
}

// isTimeout reports whether err is a read deadline expiring.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// isTerminal reports whether err means the link will never deliver again.
func isTerminal(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
