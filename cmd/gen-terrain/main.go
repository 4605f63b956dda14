// Command gen-terrain writes the standard terrain profiles used by rfsim.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/banshee-data/rangefinder.sim/internal/terrain"
)

type options struct {
	dir      string
	shapes   []string
	interval float64
	seafloor float64
	shape    terrain.Shape
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("gen-terrain", flag.ContinueOnError)
	dir := fs.String("dir", "terrain", "Output directory")
	shapes := fs.String("shapes", "all", "Comma-separated profiles to write: all or any of "+strings.Join(terrain.Shapes(), ","))
	interval := fs.Float64("interval", terrain.DefaultInterval, "Seconds between readings")
	seafloor := fs.Float64("seafloor", terrain.DefaultSeafloorZ, "Nominal seafloor Z in metres")
	bump := fs.Float64("bump", terrain.DefaultTallestBump, "Tallest bump above the seafloor in metres")
	rate := fs.Float64("rate", terrain.DefaultRate, "Ramp rate in metres per second")
	segment := fs.Float64("segment", terrain.DefaultSegment, "Flat segment length in seconds")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	o := options{
		dir:      *dir,
		interval: *interval,
		seafloor: *seafloor,
		shape:    terrain.Shape{TallestBump: *bump, Rate: *rate, Segment: *segment},
	}
	if o.interval <= 0 {
		return o, fmt.Errorf("interval must be positive, got %v", o.interval)
	}
	if o.shape.Rate <= 0 {
		return o, fmt.Errorf("rate must be positive, got %v", o.shape.Rate)
	}
	if *shapes == "all" {
		o.shapes = terrain.Shapes()
		return o, nil
	}
	for _, name := range strings.Split(*shapes, ",") {
		name = strings.TrimSpace(name)
		if !slices.Contains(terrain.Shapes(), name) {
			return o, fmt.Errorf("unknown shape %q", name)
		}
		o.shapes = append(o.shapes, name)
	}
	return o, nil
}

// generate writes one file per shape and returns the paths written.
func generate(o options) ([]string, error) {
	var paths []string
	for _, name := range o.shapes {
		b := terrain.NewBuilder()
		b.Interval = o.interval
		b.SeafloorZ = o.seafloor
		p, err := terrain.Generate(b, name, o.shape)
		if err != nil {
			return paths, err
		}
		path := filepath.Join(o.dir, name+".csv")
		if err := terrain.WriteFile(path, p); err != nil {
			return paths, err
		}
		log.Printf("%s: %d readings, %.1fs", path, len(p.Readings), p.Duration())
		paths = append(paths, path)
	}
	return paths, nil
}

func main() {
	o, err := parseArgs(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatalf("gen-terrain: %v", err)
	}
	if _, err := generate(o); err != nil {
		log.Fatalf("gen-terrain: %v", err)
	}
}
