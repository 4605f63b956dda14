// Package rangefinder synthesizes downward rangefinder readings from a
// terrain height and the vehicle's vertical position.
package rangefinder

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/rangefinder.sim/internal/terrain"
)

// Signal quality codes reported alongside a distance. The autopilot's
// range-validity logic keys off these exact values.
const (
	QualityGood      = 100
	QualityCeiling   = 60
	QualityFloor     = 50
	QualityLowSignal = 10
)

// Params holds the sentinel values and thresholds used by a Synthesizer.
// Distances are in metres.
type Params struct {
	terrain.Sentinels

	// Readings below MinDistance are reported as FloorDistance.
	MinDistance   float64
	FloorDistance float64

	// Readings above MaxDistance are clamped to it.
	MaxDistance float64

	// LowSignalDistance is reported for every low-signal reading.
	LowSignalDistance float64

	// NoiseSigma is the standard deviation of the zero-mean noise added to
	// every true-height reading. Zero disables noise.
	NoiseSigma float64
}

// DefaultParams returns the reference thresholds.
func DefaultParams() Params {
	return Params{
		Sentinels:         terrain.DefaultSentinels(),
		MinDistance:       0.35,
		FloorDistance:     8.888,
		MaxDistance:       50.0,
		LowSignalDistance: 5.55,
		NoiseSigma:        0.05,
	}
}

// Report is one synthesized sensor reading.
type Report struct {
	Distance   float64
	Quality    int
	Suppressed bool
}

// DistanceCm returns the distance truncated to whole centimetres, the unit
// carried on the wire and in the reading log. The nudge keeps values such
// as 5.55 from truncating to 554.
func (r Report) DistanceCm() int {
	return int(r.Distance*100 + 1e-9)
}

// Synthesizer maps (terrain reading, delayed position) to a Report. It is
// not safe for concurrent use because the noise source carries state.
type Synthesizer struct {
	params Params
	noise  *distuv.Normal
}

// NewSynthesizer returns a Synthesizer whose noise is seeded from seed, so
// that runs with the same seed produce the same readings.
func NewSynthesizer(p Params, seed uint64) *Synthesizer {
	s := &Synthesizer{params: p}
	if p.NoiseSigma > 0 {
		s.noise = &distuv.Normal{
			Mu:    0,
			Sigma: p.NoiseSigma,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		}
	}
	return s
}

// Params returns the synthesizer's configuration.
func (s *Synthesizer) Params() Params { return s.params }

// Synthesize returns the reading for a terrain sample given the vehicle's
// Z at the delayed time. Both are absolute depths in metres, negative down.
func (s *Synthesizer) Synthesize(reading, position float64) Report {
	switch s.params.Classify(reading) {
	case terrain.Dropout:
		return Report{Suppressed: true}
	case terrain.LowSignal:
		return Report{Distance: s.params.LowSignalDistance, Quality: QualityLowSignal}
	}

	raw := position - reading
	if s.noise != nil {
		raw += s.noise.Rand()
	}

	switch {
	case raw < s.params.MinDistance:
		return Report{Distance: s.params.FloorDistance, Quality: QualityFloor}
	case raw > s.params.MaxDistance:
		return Report{Distance: s.params.MaxDistance, Quality: QualityCeiling}
	case math.IsNaN(raw):
		return Report{Distance: s.params.FloorDistance, Quality: QualityFloor}
	default:
		return Report{Distance: raw, Quality: QualityGood}
	}
}
