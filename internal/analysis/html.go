package analysis

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
)

// HTMLOptions controls RenderHTML.
type HTMLOptions struct {
	Title string
	// AssetsHost serves the echarts scripts. Empty uses the go-echarts CDN.
	AssetsHost string
}

func lineSeries(recs []readinglog.Record, value func(readinglog.Record) float64) []opts.LineData {
	data := make([]opts.LineData, len(recs))
	for i, r := range recs {
		data[i] = opts.LineData{Value: []interface{}{float64(r.TimeUS) / 1e6, value(r)}}
	}
	return data
}

func newRunChart(o HTMLOptions, title, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Width: "100%", Height: "420px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yName, NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	return line
}

// RenderHTML writes an interactive page with the depth and rangefinder
// series of recs.
func RenderHTML(recs []readinglog.Record, o HTMLOptions, w io.Writer) error {
	if len(recs) == 0 {
		return ErrNoSamples
	}
	if o.Title == "" {
		o.Title = "Rangefinder run"
	}
	lineOpts := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})

	depth := newRunChart(o, o.Title, "Z (m)")
	depth.AddSeries("terrain", lineSeries(recs, func(r readinglog.Record) float64 { return r.TerrainCm / 100 }), lineOpts).
		AddSeries("sub", lineSeries(recs, func(r readinglog.Record) float64 { return r.SubCm / 100 }), lineOpts)

	rf := newRunChart(o, "Rangefinder", "Distance (m)")
	rf.AddSeries("rangefinder", lineSeries(recs, func(r readinglog.Record) float64 { return float64(r.RfCm) / 100 }), lineOpts).
		AddSeries("sub - terrain", lineSeries(recs, func(r readinglog.Record) float64 { return (r.SubCm - r.TerrainCm) / 100 }), lineOpts)

	page := components.NewPage()
	page.PageTitle = o.Title
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(depth, rf)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
