package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/timeutil"
)

// Scheme names accepted by ParseEndpoint.
const (
	SchemeUDPIn  = "udpin"
	SchemeUDPOut = "udpout"
	SchemeTCP    = "tcp"
	SchemeSerial = "serial"
	SchemePCAP   = "pcap"
)

// Endpoint is a parsed connection string such as "udpin:0.0.0.0:14551",
// "tcp:127.0.0.1:5760", "serial:/dev/ttyUSB0:57600" or "pcap:run.pcap".
type Endpoint struct {
	Scheme  string
	Address string
	Baud    int
}

func (e Endpoint) String() string {
	if e.Scheme == SchemeSerial && e.Baud > 0 {
		return fmt.Sprintf("%s:%s:%d", e.Scheme, e.Address, e.Baud)
	}
	return e.Scheme + ":" + e.Address
}

// ParseEndpoint parses a connection string.
func ParseEndpoint(s string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || rest == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: want scheme:address", s)
	}
	e := Endpoint{Scheme: strings.ToLower(scheme), Address: rest}

	switch e.Scheme {
	case SchemeUDPIn, SchemeUDPOut, SchemeTCP:
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
		}
	case SchemeSerial:
		if i := strings.LastIndex(rest, ":"); i > 0 {
			if baud, err := strconv.Atoi(rest[i+1:]); err == nil {
				if baud <= 0 {
					return Endpoint{}, fmt.Errorf("invalid endpoint %q: baud must be positive", s)
				}
				e.Address = rest[:i]
				e.Baud = baud
			}
		}
	case SchemePCAP:
	default:
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: unknown scheme %q", s, scheme)
	}
	return e, nil
}

// DialOptions holds everything Dial needs beyond the endpoint.
type DialOptions struct {
	Conn Options

	// CapturePath, when set, records every received and sent chunk to a
	// pcap file.
	CapturePath string

	// Replay configures pcap playback.
	Replay ReplayOptions

	// Serial overrides the serial line settings. Baud from the endpoint wins.
	Serial     PortOptions
	OpenSerial SerialOpener

	DialTimeout time.Duration
	Clock       timeutil.Clock
}

// Dial opens the link named by e and starts a Conn on it.
func Dial(e Endpoint, opts DialOptions) (*Conn, error) {
	link, local, remote, err := openLink(e, opts)
	if err != nil {
		return nil, err
	}

	if opts.CapturePath != "" {
		capture, err := CreateCapture(opts.CapturePath, opts.Clock, remote, local)
		if err != nil {
			link.Close()
			return nil, err
		}
		link = WithCapture(link, capture)
	}
	return NewConn(link, opts.Conn), nil
}

// loopback addresses label captures of links without a UDP peer.
var (
	captureVehicle = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5760}
	captureSim     = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 14551}
)

func openLink(e Endpoint, opts DialOptions) (link Link, local, remote *net.UDPAddr, err error) {
	local, remote = captureSim, captureVehicle

	switch e.Scheme {
	case SchemeUDPIn:
		laddr, err := net.ResolveUDPAddr("udp", e.Address)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to resolve UDP address: %w", err)
		}
		sock, err := ListenUDP(laddr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to listen on UDP address: %w", err)
		}
		return NewUDPListenLink(sock), udpAddrOr(sock.LocalAddr(), local), remote, nil

	case SchemeUDPOut:
		raddr, err := net.ResolveUDPAddr("udp", e.Address)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to resolve UDP address: %w", err)
		}
		sock, err := ListenUDP(nil)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open UDP socket: %w", err)
		}
		return NewUDPDialLink(sock, raddr), udpAddrOr(sock.LocalAddr(), local), raddr, nil

	case SchemeTCP:
		timeout := opts.DialTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		conn, err := net.DialTimeout("tcp", e.Address, timeout)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to %s: %w", e.Address, err)
		}
		return conn, local, remote, nil

	case SchemeSerial:
		serialOpts := opts.Serial
		if e.Baud > 0 {
			serialOpts.BaudRate = e.Baud
		}
		mode, err := serialOpts.SerialMode()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid serial options: %w", err)
		}
		open := opts.OpenSerial
		if open == nil {
			open = OpenSerial
		}
		port, err := open(e.Address, mode)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open serial port %s: %w", e.Address, err)
		}
		return NewSerialLink(port), local, remote, nil

	case SchemePCAP:
		replay := opts.Replay
		if replay.Clock == nil {
			replay.Clock = opts.Clock
		}
		l, err := OpenReplay(e.Address, replay)
		if err != nil {
			return nil, nil, nil, err
		}
		return l, local, remote, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown scheme %q", e.Scheme)
}

func udpAddrOr(a net.Addr, fallback *net.UDPAddr) *net.UDPAddr {
	if u, ok := a.(*net.UDPAddr); ok && u.IP.To4() != nil {
		return u
	}
	return fallback
}
