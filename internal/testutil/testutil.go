// Package testutil provides shared test fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
	"github.com/banshee-data/rangefinder.sim/internal/terrain"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewDebugRequest creates a request from a loopback address, which the
// tsweb debug handlers require.
func NewDebugRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// ServeDebug performs a loopback GET of path against mux.
func ServeDebug(mux http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, NewDebugRequest(http.MethodGet, path))
	return rec
}

// WriteTerrain writes a terrain file with the given interval and readings
// to a temporary directory and returns its path.
func WriteTerrain(t testing.TB, interval float64, readings ...float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "terrain.txt")
	p := &terrain.Profile{Interval: interval, Readings: readings, Sentinels: terrain.DefaultSentinels()}
	if err := terrain.WriteFile(path, p); err != nil {
		t.Fatalf("write terrain: %v", err)
	}
	return path
}

// WriteReadingLog writes recs as a reading log in a temporary directory and
// returns its path.
func WriteReadingLog(t testing.TB, recs ...readinglog.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "readings.csv")
	w, err := readinglog.Create(path)
	if err != nil {
		t.Fatalf("create reading log: %v", err)
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatalf("write reading: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close reading log: %v", err)
	}
	return path
}
