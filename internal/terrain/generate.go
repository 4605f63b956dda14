package terrain

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Generator defaults.
const (
	DefaultInterval    = 0.1
	DefaultSeafloorZ   = -20.0
	DefaultTallestBump = 4.0
	DefaultRate        = 0.25 // m/s
	DefaultSegment     = 10.0 // s
)

// Builder assembles a profile from flat, ramp and sentinel segments
// relative to a nominal seafloor depth.
type Builder struct {
	Interval  float64
	SeafloorZ float64
	Sentinels Sentinels

	readings []float64
}

// NewBuilder returns a Builder using the generator defaults.
func NewBuilder() *Builder {
	return &Builder{
		Interval:  DefaultInterval,
		SeafloorZ: DefaultSeafloorZ,
		Sentinels: DefaultSentinels(),
	}
}

func (b *Builder) samples(seconds float64) int {
	// The small bias absorbs float error in e.g. 10/0.1.
	return int(seconds/b.Interval + 1e-9)
}

// Flat appends seconds of seafloor raised by adj metres.
func (b *Builder) Flat(adj, seconds float64) *Builder {
	for i := 0; i < b.samples(seconds); i++ {
		b.readings = append(b.readings, b.SeafloorZ+adj)
	}
	return b
}

// Ramp appends a slope from start to stop (relative to the seafloor) at
// rate metres per second. rate must have the sign of stop-start; the stop
// value itself is not emitted.
func (b *Builder) Ramp(start, stop, rate float64) *Builder {
	step := rate * b.Interval
	if step == 0 {
		return b
	}
	n := int((stop-start)/step + 1e-9)
	for i := 0; i < n; i++ {
		adj := math.Round((start+float64(i)*step)*100) / 100
		b.readings = append(b.readings, b.SeafloorZ+adj)
	}
	return b
}

// Dropout appends seconds of dropout readings.
func (b *Builder) Dropout(seconds float64) *Builder {
	for i := 0; i < b.samples(seconds); i++ {
		b.readings = append(b.readings, b.Sentinels.Dropout)
	}
	return b
}

// LowSignal appends seconds of low-signal readings.
func (b *Builder) LowSignal(seconds float64) *Builder {
	for i := 0; i < b.samples(seconds); i++ {
		b.readings = append(b.readings, b.Sentinels.LowSignal)
	}
	return b
}

// Profile returns the assembled profile. The builder may keep appending
// afterwards without affecting the returned value.
func (b *Builder) Profile() *Profile {
	readings := make([]float64, len(b.readings))
	copy(readings, b.readings)
	return &Profile{Interval: b.Interval, Readings: readings, Sentinels: b.Sentinels}
}

// Shape parameters shared by the named profiles.
type Shape struct {
	TallestBump float64
	Rate        float64
	Segment     float64
}

// DefaultShape returns the generator's default bump size, ramp rate and
// segment length.
func DefaultShape() Shape {
	return Shape{TallestBump: DefaultTallestBump, Rate: DefaultRate, Segment: DefaultSegment}
}

// Named profile generators, keyed by the name used for the output file.
var shapes = map[string]func(b *Builder, s Shape){
	"zeros": func(b *Builder, s Shape) {
		b.Flat(0, s.Segment)
	},
	"flat": func(b *Builder, s Shape) {
		b.Flat(0, 3*s.Segment)
	},
	"ramp": func(b *Builder, s Shape) {
		b.Flat(0, s.Segment).Ramp(0, s.TallestBump, s.Rate)
	},
	"square": func(b *Builder, s Shape) {
		b.Flat(0, s.Segment).Flat(s.TallestBump, s.Segment)
	},
	"sawtooth": func(b *Builder, s Shape) {
		b.Flat(0, s.Segment).Flat(s.TallestBump, s.Segment).Ramp(s.TallestBump, 0, -s.Rate)
	},
	"trapezoid": func(b *Builder, s Shape) {
		b.Flat(0, s.Segment).
			Ramp(0, s.TallestBump, s.Rate).
			Flat(s.TallestBump, s.Segment).
			Ramp(s.TallestBump, 0, -s.Rate)
	},
	"dropout": func(b *Builder, s Shape) {
		b.Flat(0, s.Segment).Dropout(s.Segment / 2).Flat(0, s.Segment)
	},
	"low_signal": func(b *Builder, s Shape) {
		b.Flat(0, s.Segment).LowSignal(s.Segment / 2).Flat(0, s.Segment)
	},
}

// Shapes returns the names accepted by Generate, sorted.
func Shapes() []string {
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate builds the named profile using b's interval, seafloor and
// sentinels.
func Generate(b *Builder, name string, s Shape) (*Profile, error) {
	gen, ok := shapes[name]
	if !ok {
		return nil, fmt.Errorf("unknown terrain shape %q", name)
	}
	gen(b, s)
	return b.Profile(), nil
}

// Write encodes p in the terrain file format.
func Write(w io.Writer, p *Profile) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strconv.FormatFloat(p.Interval, 'f', -1, 64) + "\n"); err != nil {
		return err
	}
	for _, r := range p.Readings {
		if _, err := bw.WriteString(strconv.FormatFloat(r, 'f', -1, 64) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes p to path, creating parent directories as needed.
func WriteFile(path string, p *Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create terrain directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create terrain file: %w", err)
	}
	if err := Write(f, p); err != nil {
		f.Close()
		return fmt.Errorf("failed to write terrain file: %w", err)
	}
	return f.Close()
}
