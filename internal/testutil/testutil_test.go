package testutil

import (
	"net/http"
	"testing"

	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
	"github.com/banshee-data/rangefinder.sim/internal/terrain"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestNewDebugRequest(t *testing.T) {
	req := NewDebugRequest(http.MethodPost, "/debug/counters")
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %s, want loopback", req.RemoteAddr)
	}
}

func TestServeDebug(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.RemoteAddr))
	})
	rec := ServeDebug(mux, "/debug/ping")
	AssertStatusCode(t, rec.Code, http.StatusOK)
	if rec.Body.String() != "127.0.0.1:12345" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestWriteTerrain(t *testing.T) {
	path := WriteTerrain(t, 0.1, -20, -19.5, -9999)
	p, err := terrain.Load(path, terrain.DefaultSentinels())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Interval != 0.1 || len(p.Readings) != 3 {
		t.Errorf("profile = %+v", p)
	}
}

func TestWriteReadingLog(t *testing.T) {
	path := WriteReadingLog(t,
		readinglog.Record{TimeUS: 100, RfCm: 1000, Quality: 100},
		readinglog.Record{TimeUS: 200, RfCm: 1001, Quality: 100},
	)
	recs, err := readinglog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(recs) != 2 || recs[1].RfCm != 1001 {
		t.Errorf("records = %+v", recs)
	}
}
