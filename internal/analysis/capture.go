package analysis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/rangefinder.sim/internal/mavlink"
)

// DistanceSample is one DISTANCE_SENSOR frame found in a capture.
type DistanceSample struct {
	// Offset is the capture time in seconds since the first packet.
	Offset     float64
	SysID      uint8
	CompID     uint8
	DistanceCm int
	Quality    int
}

// ReadCaptureDistances returns every DISTANCE_SENSOR frame in the pcap
// stream r, in capture order. Non-UDP packets and undecodable frames are
// skipped.
func ReadCaptureDistances(r io.Reader) ([]DistanceSample, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	var (
		out   []DistanceSample
		first int64
		seen  bool
	)
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("failed to read capture packet: %w", err)
		}
		ts := ci.Timestamp.UnixNano()
		if !seen {
			first, seen = ts, true
		}

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		frames, _ := mavlink.ParseDatagram(udp.Payload)
		for _, f := range frames {
			ds, ok := f.GetMessage().(*mavlink.DistanceSensor)
			if !ok {
				continue
			}
			out = append(out, DistanceSample{
				Offset:     float64(ts-first) / 1e9,
				SysID:      f.GetSystemID(),
				CompID:     f.GetComponentID(),
				DistanceCm: int(ds.CurrentDistance),
				Quality:    int(ds.SignalQuality),
			})
		}
	}
}

// ReadCaptureDistancesFile opens path and calls ReadCaptureDistances.
func ReadCaptureDistancesFile(path string) ([]DistanceSample, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	defer f.Close()
	samples, err := ReadCaptureDistances(f)
	if err != nil {
		return samples, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// CaptureStats summarises the samples whose offset lies strictly between
// start and stop seconds.
func CaptureStats(samples []DistanceSample, start, stop float64) (Stats, error) {
	if stop <= start {
		return Stats{}, fmt.Errorf("analysis: stop %vs must be after start %vs", stop, start)
	}
	var values []float64
	for _, s := range samples {
		if s.Offset > start && s.Offset < stop {
			values = append(values, float64(s.DistanceCm))
		}
	}
	return Summarize(values, stop-start)
}
