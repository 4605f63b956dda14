package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
	"github.com/banshee-data/rangefinder.sim/internal/testutil"
)

func sampleLog(t *testing.T) string {
	t.Helper()
	return testutil.WriteReadingLog(t,
		readinglog.Record{TimeUS: 1_000_000, TerrainCm: -2000, SubCm: -1000, RfCm: 1000, Quality: 100},
		readinglog.Record{TimeUS: 2_000_000, TerrainCm: -2000, SubCm: -1000, RfCm: 1004, Quality: 100},
		readinglog.Record{TimeUS: 3_000_000, TerrainCm: -8888, SubCm: -1000, RfCm: 555, Quality: 0},
	)
}

func TestHandleStats(t *testing.T) {
	var out bytes.Buffer
	err := handleStats([]string{"-log", sampleLog(t), "-start", "0", "-stop", "2.5"}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "readings=2 over 2.5s (0.80 Hz) mean=1002.00cm")
	assert.Contains(t, out.String(), "signal_quality   0: 1")
	assert.Contains(t, out.String(), "signal_quality 100: 2")
}

func TestHandleStats_EmptyWindow(t *testing.T) {
	var out bytes.Buffer
	err := handleStats([]string{"-log", sampleLog(t), "-start", "10", "-stop", "20"}, &out)
	assert.Error(t, err)
}

func TestHandleCaptureStats_RequiresCapture(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorContains(t, handleCaptureStats(nil, &out), "-capture is required")
}

func TestHandleMerge(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "ctun.csv")
	require.NoError(t, os.WriteFile(other, []byte("TimeUS,Alt\n1500000,-9.9\n"), 0644))
	output := filepath.Join(dir, "merged.csv")

	require.NoError(t, handleMerge([]string{"-a", sampleLog(t), "-b", other, "-o", output}))
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "TimeUS,terrain_cm,sub_cm,rf_cm,signal_quality,Alt", lines[0])
	assert.Equal(t, "1500000,-2000,-1000,1000,100,-9.9", lines[2])

	assert.ErrorContains(t, handleMerge([]string{"-a", sampleLog(t)}), "-b is required")
}

func TestHandlePlot_DefaultOutput(t *testing.T) {
	logPath := sampleLog(t)
	require.NoError(t, handlePlot([]string{"-log", logPath}))

	png := strings.TrimSuffix(logPath, ".csv") + ".png"
	info, err := os.Stat(png)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestHandleHTML(t *testing.T) {
	output := filepath.Join(t.TempDir(), "run.html")
	require.NoError(t, handleHTML([]string{"-log", sampleLog(t), "-o", output}))
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rangefinder")
}

func TestLoadStore_Temporary(t *testing.T) {
	store, cleanup, err := loadStore(context.Background(), "", []string{sampleLog(t), sampleLog(t)})
	require.NoError(t, err)

	runs, err := store.Runs(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	cleanup()
}

func TestLoadStore_BadLog(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("nope\n"), 0644))
	_, _, err := loadStore(context.Background(), filepath.Join(t.TempDir(), "runs.db"), []string{bad})
	assert.Error(t, err)
}

func TestHandleServe_NeedsInput(t *testing.T) {
	assert.Error(t, handleServe(nil))
}

func TestOutputsOutsideAllowedDirs(t *testing.T) {
	logPath := sampleLog(t)
	bad := "/proc/rfsim-report/out"

	assert.ErrorContains(t, handlePlot([]string{"-log", logPath, "-o", bad + ".png"}), "invalid output path")
	assert.ErrorContains(t, handleHTML([]string{"-log", logPath, "-o", bad + ".html"}), "invalid output path")
	assert.ErrorContains(t, handleMerge([]string{"-a", logPath, "-b", logPath, "-o", bad + ".csv"}), "invalid output path")
}
