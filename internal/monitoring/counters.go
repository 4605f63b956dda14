package monitoring

import (
	"expvar"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"
)

// Counter is a monotonically increasing process-wide count. Counters are
// published through expvar with a "counter_" prefix so the tsweb varz
// handler exports them with Prometheus counter semantics, and through
// MetricsRegistry for a plain /metrics scrape.
type Counter struct {
	name string
	help string
	v    atomic.Int64
}

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) { c.v.Add(delta) }

// Inc increments the counter by one.
func (c *Counter) Inc() { c.v.Add(1) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.v.Load() }

// Name returns the exported name without the expvar prefix.
func (c *Counter) Name() string { return c.name }

// String implements expvar.Var.
func (c *Counter) String() string { return strconv.FormatInt(c.v.Load(), 10) }

var registry []*Counter

func newCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	expvar.Publish("counter_rfsim_"+name, c)
	registry = append(registry, c)
	return c
}

// Process-wide counters. Each is incremented at the point where the
// condition is detected; none of them indicate a fatal error.
var (
	ClockOutOfOrder  = newCounter("clock_out_of_order_signals", "Timing signals ignored as duplicate or out of order.")
	ClockClamped     = newCounter("clock_monotonic_clamps", "Monotonic estimates forced past the watermark.")
	PositionsRecv    = newCounter("position_updates_received", "Position updates decoded from the vehicle.")
	PositionsApplied = newCounter("position_updates_applied", "Position updates added to the history.")
	PositionsDropped = newCounter("position_updates_dropped", "Position updates discarded because the queue was full.")
	DecodeErrors     = newCounter("frame_decode_errors", "Inbound frames rejected by the parser.")
	ReportsSent      = newCounter("distance_reports_sent", "Distance reports transmitted.")
	ReportSendErrors = newCounter("distance_report_send_errors", "Distance reports that failed to transmit.")
	Dropouts         = newCounter("terrain_dropouts", "Cycles suppressed by a dropout reading.")
	LowSignal        = newCounter("terrain_low_signal", "Low signal quality reports.")
	ActuatorFrames   = newCounter("actuator_frames_sent", "Actuator frames transmitted.")
	ActuatorErrors   = newCounter("actuator_frame_errors", "Actuator frames that failed to transmit.")
)

// Snapshot returns the current value of every registered counter keyed by
// name.
func Snapshot() map[string]int64 {
	out := make(map[string]int64, len(registry))
	for _, c := range registry {
		out[c.name] = c.Value()
	}
	return out
}

// AttachAdminRoutes mounts the simulator counters on the tsweb debug page
// of mux, served under /debug/, and on /metrics.
func AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	for _, c := range registry {
		c := c
		debug.KVFunc(c.name, func() any { return c.Value() })
	}
	mux.Handle("/metrics", promhttp.HandlerFor(MetricsRegistry(), promhttp.HandlerOpts{}))
	debug.HandleFunc("counters", "simulator anomaly and traffic counters (JSON)", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		expvar.Handler().ServeHTTP(w, r)
	})
}
