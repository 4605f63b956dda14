// Package delayline buffers a time series of vehicle-position samples and
// answers point queries in the past by linear interpolation. It is how the
// simulator models a sensor whose reading describes the vehicle as it was a
// fixed delay ago.
package delayline

// Sample is a single (timestamp, value) observation. Timestamps are
// simulated seconds since autopilot boot.
type Sample struct {
	T     float64
	Value float64
}

// DelayLine is an append-only, time-ordered buffer of samples.
//
// Callers must append samples with non-decreasing timestamps; Add does not
// sort. A DelayLine is not safe for concurrent use.
type DelayLine struct {
	samples   []Sample
	retention float64
}

// Option configures a DelayLine.
type Option func(*DelayLine)

// WithRetention bounds the buffer to samples no older than seconds before
// the newest sample. The sample immediately preceding the window start is
// kept so that queries at the window edge can still be interpolated.
// A retention of 0 (the default) keeps every sample for the life of the
// buffer.
func WithRetention(seconds float64) Option {
	return func(d *DelayLine) {
		if seconds > 0 {
			d.retention = seconds
		}
	}
}

// New returns an empty DelayLine.
func New(opts ...Option) *DelayLine {
	d := &DelayLine{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Add appends a sample.
func (d *DelayLine) Add(t, value float64) {
	d.samples = append(d.samples, Sample{T: t, Value: value})
	if d.retention > 0 {
		d.evict()
	}
}

// evict drops samples that can no longer bracket any query inside the
// retention window.
func (d *DelayLine) evict() {
	cutoff := d.samples[len(d.samples)-1].T - d.retention
	drop := 0
	for drop+1 < len(d.samples) && d.samples[drop+1].T <= cutoff {
		drop++
	}
	if drop == 0 {
		return
	}
	// Copy down once the dead prefix outgrows the live part so the backing
	// array does not grow without bound.
	d.samples = d.samples[drop:]
	if cap(d.samples) > 2*len(d.samples)+64 {
		live := make([]Sample, len(d.samples))
		copy(live, d.samples)
		d.samples = live
	}
}

// Get returns the value at time t.
//
// ok is false when the buffer is empty or t precedes the first sample.
// With a single sample its value is returned for any later t. Otherwise the
// two samples bracketing t are linearly interpolated; at or past the last
// sample the last value is returned unchanged.
func (d *DelayLine) Get(t float64) (value float64, ok bool) {
	n := len(d.samples)
	if n == 0 {
		return 0, false
	}
	if t < d.samples[0].T {
		return 0, false
	}
	if n == 1 {
		return d.samples[0].Value, true
	}

	for i := 1; i < n; i++ {
		if t < d.samples[i].T {
			s1, s2 := d.samples[i-1], d.samples[i]
			return s1.Value + (s2.Value-s1.Value)*(t-s1.T)/(s2.T-s1.T), true
		}
	}
	return d.samples[n-1].Value, true
}

// LengthSeconds returns the time span covered by the buffer, or 0 with fewer
// than two samples.
func (d *DelayLine) LengthSeconds() float64 {
	n := len(d.samples)
	if n < 2 {
		return 0
	}
	return d.samples[n-1].T - d.samples[0].T
}

// Len returns the number of buffered samples.
func (d *DelayLine) Len() int { return len(d.samples) }

// First returns the oldest buffered sample.
func (d *DelayLine) First() (Sample, bool) {
	if len(d.samples) == 0 {
		return Sample{}, false
	}
	return d.samples[0], true
}

// Last returns the newest buffered sample.
func (d *DelayLine) Last() (Sample, bool) {
	if len(d.samples) == 0 {
		return Sample{}, false
	}
	return d.samples[len(d.samples)-1], true
}
