// Package monitoring holds the simulator's diagnostic logger and the
// process-wide anomaly counters exported on the debug pages.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger so tests can capture or mute simulator output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SimLogf logs a message prefixed with a simulated timestamp in seconds,
// matching the "[12.34] message" layout of the runner output.
func SimLogf(simTime float64, format string, v ...interface{}) {
	Logf("[%.2f] %s", simTime, fmt.Sprintf(format, v...))
}
