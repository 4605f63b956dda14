package monitoring

import "github.com/prometheus/client_golang/prometheus"

// MetricsRegistry returns a registry that reports every process-wide counter
// as rfsim_<name>_total. Values are read at scrape time, so one registry per
// HTTP server is enough.
func MetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range registry {
		c := c
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "rfsim",
			Name:      c.name + "_total",
			Help:      c.help,
		}, func() float64 { return float64(c.Value()) }))
	}
	return reg
}
