package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangefinder.sim/internal/mavlink"
	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/rangefinder"
)

func init() {
	monitoring.SetLogger(nil)
}

var vehicleAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 14550}

// frame encodes m as an ArduSub autopilot would (sysid 1, compid 1).
func frame(t *testing.T, m mavlink.Message) []byte {
	t.Helper()
	b, err := mavlink.NewEncoder(1, 1).Encode(m)
	require.NoError(t, err)
	return b
}

func newTestConn(t *testing.T, opts Options) (*Conn, *MockUDPSocket) {
	t.Helper()
	sock := NewMockUDPSocket()
	c := NewConn(NewUDPListenLink(sock), opts)
	t.Cleanup(func() { c.Close() })
	return c, sock
}

func decodeWrite(t *testing.T, pkt MockUDPPacket) mavlink.Message {
	t.Helper()
	frames, skipped := mavlink.ParseDatagram(pkt.Data)
	require.Empty(t, skipped)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(255), frames[0].GetSystemID())
	assert.Equal(t, uint8(0), frames[0].GetComponentID())
	return frames[0].GetMessage()
}

func TestConn_RecvPosition(t *testing.T) {
	c, sock := newTestConn(t, DefaultOptions())
	ctx := context.Background()

	_, err := c.RecvPosition(ctx, 0)
	assert.ErrorIs(t, err, ErrNoData)

	sock.Push(frame(t, &mavlink.GlobalPositionInt{TimeBootMs: 12345, RelativeAlt: -10250}), vehicleAddr)

	p, err := c.RecvPosition(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 12.345, p.SimTime, 1e-9)
	assert.InDelta(t, -10.25, p.Z, 1e-9)
}

func TestConn_RecvPositionTimesOut(t *testing.T) {
	c, _ := newTestConn(t, DefaultOptions())
	start := time.Now()
	_, err := c.RecvPosition(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoData)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestConn_RecvPositionHonoursContext(t *testing.T) {
	c, _ := newTestConn(t, DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.RecvPosition(ctx, -1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_DuplicatesAreDelivered(t *testing.T) {
	c, sock := newTestConn(t, DefaultOptions())
	pkt := frame(t, &mavlink.GlobalPositionInt{TimeBootMs: 500})
	sock.Push(pkt, vehicleAddr)
	sock.Push(pkt, vehicleAddr)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		p, err := c.RecvPosition(ctx, 2*time.Second)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, p.SimTime, 1e-9)
	}
}

func TestConn_QueueDropsOldest(t *testing.T) {
	before := monitoring.PositionsDropped.Value()
	opts := DefaultOptions()
	opts.QueueSize = 2
	c, sock := newTestConn(t, opts)

	for i := 1; i <= 4; i++ {
		sock.Push(frame(t, &mavlink.GlobalPositionInt{TimeBootMs: uint32(i * 100)}), vehicleAddr)
	}
	require.Eventually(t, func() bool {
		return monitoring.PositionsDropped.Value()-before == 2
	}, 2*time.Second, time.Millisecond)

	ctx := context.Background()
	p, err := c.RecvPosition(ctx, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, p.SimTime, 1e-9)
	p, err = c.RecvPosition(ctx, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, p.SimTime, 1e-9)
}

func TestConn_SendBeforePeerKnown(t *testing.T) {
	c, _ := newTestConn(t, DefaultOptions())
	err := c.SendDistance(rangefinder.Report{Distance: 10, Quality: 100})
	assert.ErrorIs(t, err, ErrNoPeer)
}

func TestConn_SendDistance(t *testing.T) {
	c, sock := newTestConn(t, DefaultOptions())
	sock.Push(frame(t, &mavlink.Heartbeat{Type: mavlink.TypeSubmarine, Autopilot: 3}), vehicleAddr)
	require.NoError(t, c.WaitHeartbeat(context.Background()))

	require.NoError(t, c.SendDistance(rangefinder.Report{Distance: 10.037, Quality: 100}))
	require.NoError(t, c.SendDistance(rangefinder.Report{Distance: 5.55, Quality: 10}))

	writes := sock.Written()
	require.Len(t, writes, 2)
	assert.Equal(t, vehicleAddr, writes[0].Addr)

	ds := decodeWrite(t, writes[0]).(*mavlink.DistanceSensor)
	assert.Equal(t, uint16(1003), ds.CurrentDistance)
	assert.Equal(t, uint16(50), ds.MinDistance)
	assert.Equal(t, uint16(5000), ds.MaxDistance)
	assert.Equal(t, mavlink.DistanceSensorUnknown, ds.Type)
	assert.Equal(t, uint8(1), ds.Id)
	assert.Equal(t, mavlink.SensorRotationPitch270, ds.Orientation)
	assert.Equal(t, uint8(100), ds.SignalQuality)
	assert.Zero(t, ds.TimeBootMs)

	ds = decodeWrite(t, writes[1]).(*mavlink.DistanceSensor)
	assert.Equal(t, uint16(555), ds.CurrentDistance)
	assert.Equal(t, uint8(10), ds.SignalQuality)
}

func TestConn_CommandsTargetHeartbeatSender(t *testing.T) {
	c, sock := newTestConn(t, DefaultOptions())
	enc := mavlink.NewEncoder(7, 1)
	hb, err := enc.Encode(&mavlink.Heartbeat{Type: mavlink.TypeSubmarine})
	require.NoError(t, err)
	sock.Push(hb, vehicleAddr)
	require.NoError(t, c.WaitHeartbeat(context.Background()))

	require.NoError(t, c.SetMode(21))
	require.NoError(t, c.Arm())
	require.NoError(t, c.RequestMessageInterval(mavlink.MsgIDGlobalPositionInt, 5))
	assert.Error(t, c.RequestMessageInterval(mavlink.MsgIDGlobalPositionInt, 0))

	writes := sock.Written()
	require.Len(t, writes, 3)

	sm := decodeWrite(t, writes[0]).(*mavlink.SetMode)
	assert.Equal(t, mavlink.SetMode{CustomMode: 21, TargetSystem: 7, BaseMode: mavlink.ModeFlagCustomModeEnabled}, *sm)

	arm := decodeWrite(t, writes[1]).(*mavlink.CommandLong)
	assert.Equal(t, mavlink.CmdComponentArmDisarm, arm.Command)
	assert.Equal(t, float32(1), arm.Param1)
	assert.Equal(t, uint8(7), arm.TargetSystem)

	interval := decodeWrite(t, writes[2]).(*mavlink.CommandLong)
	assert.Equal(t, mavlink.CmdSetMessageInterval, interval.Command)
	assert.Equal(t, float32(33), interval.Param1)
	assert.Equal(t, float32(200000), interval.Param2)
}

func TestConn_WaitArmed(t *testing.T) {
	c, sock := newTestConn(t, DefaultOptions())
	done := make(chan error, 1)
	go func() { done <- c.WaitArmed(context.Background()) }()

	sock.Push(frame(t, &mavlink.Heartbeat{Type: mavlink.TypeSubmarine, BaseMode: 0x01}), vehicleAddr)
	select {
	case err := <-done:
		t.Fatalf("WaitArmed returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	sock.Push(frame(t, &mavlink.Heartbeat{Type: mavlink.TypeSubmarine, BaseMode: 0x81}), vehicleAddr)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitArmed did not return")
	}
}

func TestConn_IgnoresGCSAndOwnHeartbeats(t *testing.T) {
	c, sock := newTestConn(t, DefaultOptions())
	sock.Push(frame(t, &mavlink.Heartbeat{Type: mavlink.TypeGCS, BaseMode: 0x81}), vehicleAddr)
	own, _ := mavlink.NewEncoder(255, 0).Encode(&mavlink.Heartbeat{Type: mavlink.TypeSubmarine, BaseMode: 0x81})
	sock.Push(own, vehicleAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitHeartbeat(ctx), context.DeadlineExceeded)
}

func TestConn_RelaysStatusText(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	opts := DefaultOptions()
	opts.StatusLogf = func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	}
	_, sock := newTestConn(t, opts)

	sock.Push(frame(t, &mavlink.StatusText{Severity: mavlink.SeverityWarning, Text: "Leak detected"}), vehicleAddr)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "WARNING: Leak detected", lines[0])
}

func TestConn_CountsCorruptFrames(t *testing.T) {
	before := monitoring.DecodeErrors.Value()
	c, sock := newTestConn(t, DefaultOptions())

	bad := frame(t, &mavlink.GlobalPositionInt{TimeBootMs: 1})
	bad[len(bad)-1] ^= 0xFF
	sock.Push(bad, vehicleAddr)
	sock.Push(frame(t, &mavlink.GlobalPositionInt{TimeBootMs: 2000}), vehicleAddr)

	p, err := c.RecvPosition(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, p.SimTime, 1e-9)
	assert.GreaterOrEqual(t, monitoring.DecodeErrors.Value()-before, int64(1))
}

func TestConn_Close(t *testing.T) {
	sock := NewMockUDPSocket()
	c := NewConn(NewUDPListenLink(sock), DefaultOptions())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, sock.Closed)

	_, err := c.RecvPosition(context.Background(), -1)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestConn_CountsEachPositionOnce(t *testing.T) {
	before := monitoring.PositionsRecv.Value()
	c, sock := newTestConn(t, DefaultOptions())
	for i := 1; i <= 10; i++ {
		sock.Push(frame(t, &mavlink.GlobalPositionInt{TimeBootMs: uint32(i * 200)}), vehicleAddr)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := c.RecvPosition(ctx, 2*time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), monitoring.PositionsRecv.Value()-before)
}

func TestConn_StreamLinkReassemblesFrames(t *testing.T) {
	client, server := net.Pipe()
	opts := DefaultOptions()
	opts.ReadTimeout = 5 * time.Millisecond
	c := NewConn(client, opts)
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})

	var stream []byte
	stream = append(stream, 0x00, 0x01)
	stream = append(stream, frame(t, &mavlink.GlobalPositionInt{TimeBootMs: 100, RelativeAlt: -2000})...)
	stream = append(stream, frame(t, &mavlink.GlobalPositionInt{TimeBootMs: 200, RelativeAlt: -2100})...)
	go func() {
		// Chunks straddle frame boundaries and read deadlines.
		for i := 0; i < len(stream); i += 5 {
			if _, err := server.Write(stream[i:min(i+5, len(stream))]); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ctx := context.Background()
	p, err := c.RecvPosition(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, p.SimTime, 1e-9)
	assert.InDelta(t, -2.0, p.Z, 1e-9)
	p, err = c.RecvPosition(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, p.SimTime, 1e-9)

	require.NoError(t, c.Close())
	_, err = c.RecvPosition(ctx, -1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_LogsDeadlineErrorOnce(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	sock := NewMockUDPSocket()
	sock.DeadlineError = errors.New("deadline not supported")
	c := NewConn(NewUDPListenLink(sock), DefaultOptions())
	t.Cleanup(func() { c.Close() })

	sock.Push(frame(t, &mavlink.GlobalPositionInt{TimeBootMs: 700}), vehicleAddr)
	p, err := c.RecvPosition(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, p.SimTime, 1e-9)

	// Give the read loop several more empty reads.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "deadline not supported")
}
