package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/rangefinder.sim/internal/timeutil"
)

const captureSnapLen = 65536

// Capture records telemetry as UDP packets in a pcap file so that a run can
// be replayed offline, analysed, or inspected with Wireshark's MAVLink
// dissector. Received bytes are labelled src to dst and sent bytes dst to
// src.
type Capture struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	clock   timeutil.Clock
	src     *net.UDPAddr
	dst     *net.UDPAddr
	packets int
}

// NewCapture writes a pcap file header to w and returns a Capture that
// labels every packet as sent from src to dst.
func NewCapture(w io.Writer, clock timeutil.Clock, src, dst *net.UDPAddr) (*Capture, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(captureSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	c := &Capture{w: pw, clock: clock, src: src, dst: dst}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}
	return c, nil
}

// CreateCapture creates path and returns a Capture writing to it.
func CreateCapture(path string, clock timeutil.Clock, src, dst *net.UDPAddr) (*Capture, error) {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	c, err := NewCapture(f, clock, src, dst)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// Record appends received payload as one UDP packet.
func (c *Capture) Record(payload []byte) error {
	return c.record(payload, c.src, c.dst)
}

// RecordOutbound appends sent payload as one UDP packet in the reverse
// direction.
func (c *Capture) RecordOutbound(payload []byte) error {
	return c.record(payload, c.dst, c.src)
}

func (c *Capture) record(payload []byte, src, dst *net.UDPAddr) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src.IP.To4(),
		DstIP:    dst.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("failed to serialize capture packet: %w", err)
	}
	data := buf.Bytes()

	c.mu.Lock()
	defer c.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     c.clock.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := c.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write capture packet: %w", err)
	}
	c.packets++
	return nil
}

// Packets returns the number of packets recorded.
func (c *Capture) Packets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packets
}

// Close closes the underlying writer if it is closable.
func (c *Capture) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// capturingLink records every successful read and write of the wrapped
// link.
type capturingLink struct {
	Link
	capture *Capture
}

// WithCapture returns a Link that records received and sent bytes to c.
func WithCapture(l Link, c *Capture) Link {
	return &capturingLink{Link: l, capture: c}
}

func (l *capturingLink) Read(p []byte) (int, error) {
	n, err := l.Link.Read(p)
	if n > 0 {
		if cerr := l.capture.Record(p[:n]); cerr != nil {
			return n, errors.Join(err, cerr)
		}
	}
	return n, err
}

func (l *capturingLink) Write(p []byte) (int, error) {
	n, err := l.Link.Write(p)
	if err == nil && n > 0 {
		if cerr := l.capture.RecordOutbound(p[:n]); cerr != nil {
			return n, cerr
		}
	}
	return n, err
}

func (l *capturingLink) Close() error {
	return errors.Join(l.Link.Close(), l.capture.Close())
}

// ReplayOptions controls how a pcap file is played back.
type ReplayOptions struct {
	// Port keeps only UDP packets to or from this port. Zero keeps all.
	// Frames the simulator sent itself are delivered too; Conn ignores
	// frames carrying its own system and component IDs.
	Port int
	// Pace releases packets at their captured spacing divided by Speedup.
	// Without pacing the file is delivered as fast as it is read.
	Pace    bool
	Speedup float64
	Clock   timeutil.Clock
}

// replayLink reads UDP payloads out of a pcap file. Writes are discarded.
type replayLink struct {
	r      *pcapgo.Reader
	closer io.Closer
	opts   ReplayOptions

	first   time.Time
	started time.Time
	closed  atomic.Bool
	written atomic.Int64
}

// NewReplayLink returns a Link that replays the UDP payloads in r.
func NewReplayLink(r io.Reader, opts ReplayOptions) (Link, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Speedup <= 0 {
		opts.Speedup = 1
	}
	l := &replayLink{r: pr, opts: opts}
	if closer, ok := r.(io.Closer); ok {
		l.closer = closer
	}
	return l, nil
}

// OpenReplay opens a pcap file for replay.
func OpenReplay(path string, opts ReplayOptions) (Link, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	l, err := NewReplayLink(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *replayLink) Read(p []byte) (int, error) {
	for {
		if l.closed.Load() {
			return 0, net.ErrClosed
		}
		data, ci, err := l.r.ReadPacketData()
		if err != nil {
			return 0, err
		}

		packet := gopacket.NewPacket(data, l.r.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if l.opts.Port != 0 && int(udp.SrcPort) != l.opts.Port && int(udp.DstPort) != l.opts.Port {
			continue
		}

		if l.opts.Pace {
			l.pace(ci.Timestamp)
		}
		return copy(p, udp.Payload), nil
	}
}

// pace sleeps until the packet's offset into the capture, scaled by
// speedup, has elapsed since the first packet was released.
func (l *replayLink) pace(ts time.Time) {
	clock := l.opts.Clock
	if l.first.IsZero() {
		l.first = ts
		l.started = clock.Now()
		return
	}
	target := time.Duration(float64(ts.Sub(l.first)) / l.opts.Speedup)
	wait := target - clock.Since(l.started)
	for wait > 0 && !l.closed.Load() {
		step := min(wait, 100*time.Millisecond)
		clock.Sleep(step)
		wait -= step
	}
}

func (l *replayLink) Write(p []byte) (int, error) {
	l.written.Add(int64(len(p)))
	return len(p), nil
}

func (l *replayLink) SetReadDeadline(time.Time) error { return nil }

func (l *replayLink) datagram() {}

func (l *replayLink) Close() error {
	l.closed.Store(true)
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
