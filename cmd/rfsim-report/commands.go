package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/analysis"
	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
	"github.com/banshee-data/rangefinder.sim/internal/security"
)

// window flags shared by the statistics commands.
func windowFlags(fs *flag.FlagSet) (start, stop *float64) {
	start = fs.Float64("start", 0, "Window start in seconds (exclusive)")
	stop = fs.Float64("stop", 60, "Window end in seconds (exclusive)")
	return start, stop
}

func handleStats(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	logPath := fs.String("log", "stamped_terrain.csv", "Reading log")
	start, stop := windowFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	recs, err := readinglog.ReadFile(*logPath)
	if err != nil {
		return err
	}
	s, err := analysis.ReadingStats(recs, *start, *stop)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", *logPath, s)

	counts := analysis.QualityCounts(recs)
	qualities := make([]int, 0, len(counts))
	for q := range counts {
		qualities = append(qualities, q)
	}
	sort.Ints(qualities)
	for _, q := range qualities {
		fmt.Fprintf(out, "  signal_quality %3d: %d\n", q, counts[q])
	}
	return nil
}

func handleCaptureStats(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("capture-stats", flag.ContinueOnError)
	capture := fs.String("capture", "", "pcap capture written by rfsim -capture")
	start, stop := windowFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *capture == "" {
		return errors.New("-capture is required")
	}

	samples, err := analysis.ReadCaptureDistancesFile(*capture)
	if err != nil {
		return err
	}
	s, err := analysis.CaptureStats(samples, *start, *stop)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", *capture, s)
	return nil
}

func handleMerge(args []string) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	a := fs.String("a", "stamped_terrain.csv", "Left table (reading log or any TimeUS CSV)")
	b := fs.String("b", "", "Right table, e.g. an autopilot log exported to CSV")
	output := fs.String("o", "merged.csv", "Output path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *b == "" {
		return errors.New("-b is required")
	}

	left, err := analysis.ReadTableFile(*a)
	if err != nil {
		return err
	}
	right, err := analysis.ReadTableFile(*b)
	if err != nil {
		return err
	}
	merged := analysis.Merge(left, right)

	if err := security.ValidateExportPath(*output); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	f, err := os.Create(filepath.Clean(*output))
	if err != nil {
		return err
	}
	if err := merged.Write(f); err != nil {
		f.Close()
		return err
	}
	log.Printf("merged %d+%d rows into %d: %s", len(left.Rows), len(right.Rows), len(merged.Rows), *output)
	return f.Close()
}

func handlePlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	logPath := fs.String("log", "stamped_terrain.csv", "Reading log")
	output := fs.String("o", "", "Output image (.png, .pdf or .svg); defaults to the log name with .png")
	title := fs.String("title", "", "Plot title; defaults to the log name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	recs, err := readinglog.ReadFile(*logPath)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(*logPath, filepath.Ext(*logPath))
	if *output == "" {
		*output = base + ".png"
	}
	if *title == "" {
		*title = filepath.Base(base)
	}
	if err := security.ValidateExportPath(*output); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	if err := analysis.PlotRunFile(recs, *title, *output); err != nil {
		return err
	}
	log.Printf("plotted %d readings: %s", len(recs), *output)
	return nil
}

func handleHTML(args []string) error {
	fs := flag.NewFlagSet("html", flag.ContinueOnError)
	logPath := fs.String("log", "stamped_terrain.csv", "Reading log")
	output := fs.String("o", "", "Output page; defaults to the log name with .html")
	assets := fs.String("assets", "", "Host serving the echarts scripts; empty uses the public CDN")
	if err := fs.Parse(args); err != nil {
		return err
	}

	recs, err := readinglog.ReadFile(*logPath)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(*logPath, filepath.Ext(*logPath))
	if *output == "" {
		*output = base + ".html"
	}
	if err := security.ValidateExportPath(*output); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	f, err := os.Create(filepath.Clean(*output))
	if err != nil {
		return err
	}
	if err := analysis.RenderHTML(recs, analysis.HTMLOptions{Title: filepath.Base(base), AssetsHost: *assets}, f); err != nil {
		f.Close()
		return err
	}
	log.Printf("rendered %d readings: %s", len(recs), *output)
	return f.Close()
}

// loadStore loads every log into a store at dbPath, or a temporary file when
// dbPath is empty. The returned cleanup closes the store and removes any
// temporary file.
func loadStore(ctx context.Context, dbPath string, logs []string) (*analysis.Store, func(), error) {
	var tmpDir string
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "rfsim-report-")
		if err != nil {
			return nil, nil, err
		}
		tmpDir = dir
		dbPath = filepath.Join(dir, "runs.db")
	}
	cleanup := func() {
		if tmpDir != "" {
			os.RemoveAll(tmpDir)
		}
	}

	store, err := analysis.OpenStore(dbPath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	for _, path := range logs {
		recs, err := readinglog.ReadFile(path)
		if err != nil {
			store.Close()
			cleanup()
			return nil, nil, err
		}
		id, err := store.InsertRun(ctx, path, recs)
		if err != nil {
			store.Close()
			cleanup()
			return nil, nil, err
		}
		log.Printf("loaded %s as run %s (%d readings)", path, id, len(recs))
	}
	return store, func() {
		store.Close()
		cleanup()
	}, nil
}

func handleServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "localhost:8081", "Listen address")
	dbPath := fs.String("db", "", "SQLite file to load into; empty uses a temporary file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 && *dbPath == "" {
		return errors.New("give at least one reading log, or -db with previously loaded runs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := loadStore(ctx, *dbPath, fs.Args())
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	monitoring.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{Addr: *listen, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		log.Printf("tailsql on http://%s/debug/tailsql/", *listen)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		server.Close()
	}
	return nil
}
