// Package terrain loads and generates synthetic seafloor profiles.
//
// A profile file is a single column of numbers: the first line is the
// sampling interval in seconds and each following line is one terrain
// reading, the absolute Z of the seafloor in metres (negative is down).
// Two reserved values mark cycles in which the sensor sees nothing
// (Dropout) or reports with degraded quality (LowSignal).
package terrain

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default sentinel values written by the generator and recognised by the
// synthesizer.
const (
	DefaultDropout   = -9999.0
	DefaultLowSignal = -8888.0
)

// Kind classifies a terrain reading.
type Kind int

const (
	Height Kind = iota
	Dropout
	LowSignal
)

func (k Kind) String() string {
	switch k {
	case Height:
		return "height"
	case Dropout:
		return "dropout"
	case LowSignal:
		return "low_signal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels holds the reserved reading values.
type Sentinels struct {
	Dropout   float64 `json:"dropout"`
	LowSignal float64 `json:"low_signal"`
}

// DefaultSentinels returns the sentinel pair used when none is configured.
func DefaultSentinels() Sentinels {
	return Sentinels{Dropout: DefaultDropout, LowSignal: DefaultLowSignal}
}

// Classify reports whether reading is a sentinel or a true height.
func (s Sentinels) Classify(reading float64) Kind {
	switch reading {
	case s.Dropout:
		return Dropout
	case s.LowSignal:
		return LowSignal
	default:
		return Height
	}
}

// Validate checks that the two sentinels are distinguishable.
func (s Sentinels) Validate() error {
	if s.Dropout == s.LowSignal {
		return fmt.Errorf("dropout and low-signal sentinels must differ (both %v)", s.Dropout)
	}
	return nil
}

// ErrEmptyProfile is returned when a profile has an interval but no
// readings.
var ErrEmptyProfile = errors.New("terrain profile has no readings")

// Profile is an in-memory terrain profile.
type Profile struct {
	Interval float64
	Readings []float64
	Sentinels
}

// Duration returns the simulated time covered by one pass of the profile.
func (p *Profile) Duration() float64 {
	return p.Interval * float64(len(p.Readings))
}

// Counts returns how many readings of each kind the profile holds.
func (p *Profile) Counts() map[Kind]int {
	out := make(map[Kind]int, 3)
	for _, r := range p.Readings {
		out[p.Classify(r)]++
	}
	return out
}

// maxProfileSize caps how much of a profile file is read into memory.
const maxProfileSize = 64 << 20

// Load reads a profile from path.
func Load(path string, s Sentinels) (*Profile, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open terrain file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat terrain file: %w", err)
	}
	if info.Size() > maxProfileSize {
		return nil, fmt.Errorf("terrain file too large: %d bytes (max %d)", info.Size(), maxProfileSize)
	}

	p, err := Parse(f, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse reads a profile from r. Blank lines and lines starting with '#' are
// skipped, and only the first comma-separated column of each line is used.
func Parse(r io.Reader, s Sentinels) (*Profile, error) {
	scanner := bufio.NewScanner(r)
	p := &Profile{Sentinels: s}
	haveInterval := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field, _, _ := strings.Cut(line, ",")
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid number %q: %w", lineNo, field, err)
		}

		if !haveInterval {
			if v <= 0 {
				return nil, fmt.Errorf("line %d: interval must be positive, got %v", lineNo, v)
			}
			p.Interval = v
			haveInterval = true
			continue
		}
		p.Readings = append(p.Readings, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read terrain profile: %w", err)
	}
	if !haveInterval {
		return nil, errors.New("terrain profile is missing the interval line")
	}
	if len(p.Readings) == 0 {
		return nil, ErrEmptyProfile
	}
	return p, nil
}

// Cursor walks a profile forever, wrapping to the first reading after the
// last.
type Cursor struct {
	p     *Profile
	index int
	laps  int
}

// NewCursor returns a cursor positioned at the first reading of p.
func NewCursor(p *Profile) *Cursor {
	return &Cursor{p: p}
}

// Next returns the next reading.
func (c *Cursor) Next() float64 {
	v := c.p.Readings[c.index]
	c.index++
	if c.index == len(c.p.Readings) {
		c.index = 0
		c.laps++
	}
	return v
}

// Laps returns how many times the cursor has wrapped.
func (c *Cursor) Laps() int { return c.laps }
