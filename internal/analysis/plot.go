package analysis

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgpdf"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
)

var (
	terrainColor  = color.RGBA{R: 139, G: 90, B: 43, A: 255}
	positionColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	rangeColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	expectedColor = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

// PlotFormats lists the file extensions PlotRunFile understands.
var PlotFormats = []string{".png", ".pdf", ".svg"}

// runPlots builds the depth panel (terrain and vehicle) and the rangefinder
// panel (reported and true distance), in metres against seconds.
func runPlots(recs []readinglog.Record, title string) ([]*plot.Plot, error) {
	if len(recs) == 0 {
		return nil, ErrNoSamples
	}
	terrainPts := make(plotter.XYs, len(recs))
	subPts := make(plotter.XYs, len(recs))
	rfPts := make(plotter.XYs, len(recs))
	truePts := make(plotter.XYs, len(recs))
	for i, r := range recs {
		t := float64(r.TimeUS) / 1e6
		terrainPts[i] = plotter.XY{X: t, Y: r.TerrainCm / 100}
		subPts[i] = plotter.XY{X: t, Y: r.SubCm / 100}
		rfPts[i] = plotter.XY{X: t, Y: float64(r.RfCm) / 100}
		truePts[i] = plotter.XY{X: t, Y: (r.SubCm - r.TerrainCm) / 100}
	}

	pDepth := plot.New()
	pDepth.Title.Text = title
	pDepth.X.Label.Text = "Time (s)"
	pDepth.Y.Label.Text = "Z (m)"

	pRange := plot.New()
	pRange.Title.Text = "Rangefinder"
	pRange.X.Label.Text = "Time (s)"
	pRange.Y.Label.Text = "Distance (m)"

	series := []struct {
		p     *plot.Plot
		label string
		pts   plotter.XYs
		color color.Color
	}{
		{pDepth, "terrain", terrainPts, terrainColor},
		{pDepth, "sub", subPts, positionColor},
		{pRange, "rangefinder", rfPts, rangeColor},
		{pRange, "sub - terrain", truePts, expectedColor},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		s.p.Add(line)
		s.p.Legend.Add(s.label, line)
	}
	for _, p := range []*plot.Plot{pDepth, pRange} {
		p.Add(plotter.NewGrid())
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}
	return []*plot.Plot{pDepth, pRange}, nil
}

// PlotRun renders recs as two stacked panels in the given format (".png",
// ".pdf" or ".svg") and writes the image to w.
func PlotRun(recs []readinglog.Record, title, format string, w io.Writer) error {
	plots, err := runPlots(recs, title)
	if err != nil {
		return err
	}

	width, height := 14*vg.Inch, 10*vg.Inch
	var c vg.CanvasWriterTo
	switch strings.ToLower(format) {
	case ".png":
		c = vgimg.PngCanvas{Canvas: vgimg.New(width, height)}
	case ".pdf":
		c = vgpdf.New(width, height)
	case ".svg":
		c = vgsvg.New(width, height)
	default:
		return fmt.Errorf("analysis: unsupported plot format %q", format)
	}

	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      1,
		PadTop:    vg.Points(10),
		PadBottom: vg.Points(10),
		PadLeft:   vg.Points(10),
		PadRight:  vg.Points(10),
		PadY:      vg.Points(20),
	}
	grid := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		grid[i] = []*plot.Plot{p}
	}
	canvases := plot.Align(grid, tiles, draw.New(c))
	for i := range grid {
		grid[i][0].Draw(canvases[i][0])
	}

	if _, err := c.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

// PlotRunFile renders recs to path, picking the format from its extension.
func PlotRunFile(recs []readinglog.Record, title, path string) (err error) {
	format := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(PlotFormats, format) {
		return fmt.Errorf("analysis: unsupported plot format %q", format)
	}
	if len(recs) == 0 {
		return ErrNoSamples
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return PlotRun(recs, title, format, f)
}
