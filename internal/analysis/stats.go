// Package analysis turns the artifacts of a run (reading logs and packet
// captures) into statistics, merged tables, plots and a queryable store.
package analysis

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
)

// ErrNoSamples is returned when a window holds no samples.
var ErrNoSamples = errors.New("analysis: no samples in window")

// Stats summarises the distances observed in a time window.
type Stats struct {
	Count   int
	Seconds float64
	Rate    float64 // samples per second of window
	Mean    float64
	StdDev  float64 // sample standard deviation
}

func (s Stats) String() string {
	return fmt.Sprintf("readings=%d over %.1fs (%.2f Hz) mean=%.2fcm stdev=%.2fcm",
		s.Count, s.Seconds, s.Rate, s.Mean, s.StdDev)
}

// Summarize computes Stats for values observed across a window of the given
// length in seconds. A single value has zero deviation.
func Summarize(values []float64, seconds float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{Seconds: seconds}, ErrNoSamples
	}
	if seconds <= 0 {
		return Stats{}, fmt.Errorf("analysis: window must be positive, got %vs", seconds)
	}
	s := Stats{Count: len(values), Seconds: seconds, Rate: float64(len(values)) / seconds}
	if len(values) < 2 {
		s.Mean = values[0]
		return s, nil
	}
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	return s, nil
}

// ReadingStats summarises the rangefinder distances of recs whose time lies
// strictly between start and stop seconds.
func ReadingStats(recs []readinglog.Record, start, stop float64) (Stats, error) {
	if stop <= start {
		return Stats{}, fmt.Errorf("analysis: stop %vs must be after start %vs", stop, start)
	}
	var values []float64
	for _, r := range recs {
		t := float64(r.TimeUS) / 1e6
		if t > start && t < stop {
			values = append(values, float64(r.RfCm))
		}
	}
	return Summarize(values, stop-start)
}

// QualityCounts tallies records by signal quality.
func QualityCounts(recs []readinglog.Record) map[int]int {
	counts := make(map[int]int)
	for _, r := range recs {
		counts[r.Quality]++
	}
	return counts
}
