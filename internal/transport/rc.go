package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/banshee-data/rangefinder.sim/internal/actuator"
)

// DefaultRCAddress is where ArduSub SITL listens for RC input.
const DefaultRCAddress = "127.0.0.1:5501"

// rcFrameLen is 16 little-endian uint16 PWM values.
const rcFrameLen = actuator.NumChannels * 2

// EncodeChannels packs an RC frame in the SITL wire layout.
func EncodeChannels(c actuator.Channels) []byte {
	buf := make([]byte, rcFrameLen)
	for i, v := range c {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// DecodeChannels unpacks an RC frame.
func DecodeChannels(b []byte) (actuator.Channels, error) {
	var c actuator.Channels
	if len(b) != rcFrameLen {
		return c, fmt.Errorf("rc frame is %d bytes, want %d", len(b), rcFrameLen)
	}
	for i := range c {
		c[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return c, nil
}

// RCSink sends RC frames to the simulator's RC input port. It implements
// actuator.Sender.
type RCSink struct {
	w io.WriteCloser
}

// NewRCSink returns a sink writing frames to w.
func NewRCSink(w io.WriteCloser) *RCSink {
	return &RCSink{w: w}
}

// DialRC opens a UDP sink to addr.
func DialRC(addr string) (*RCSink, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve RC address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create RC connection: %w", err)
	}
	return NewRCSink(conn), nil
}

// SendChannels implements actuator.Sender.
func (s *RCSink) SendChannels(c actuator.Channels) error {
	_, err := s.w.Write(EncodeChannels(c))
	return err
}

// Close closes the underlying connection.
func (s *RCSink) Close() error { return s.w.Close() }
