// Command rfsim-report analyses the output of rfsim runs: reading log and
// capture statistics, merges with other TimeUS-keyed logs, plots, and a
// tailsql console over the loaded logs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/rangefinder.sim/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	if err := dispatch(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rfsim-report: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(command string, args []string) error {
	switch command {
	case "stats":
		return handleStats(args, os.Stdout)
	case "capture-stats":
		return handleCaptureStats(args, os.Stdout)
	case "merge":
		return handleMerge(args)
	case "plot":
		return handlePlot(args)
	case "html":
		return handleHTML(args)
	case "serve":
		return handleServe(args)
	case "version":
		fmt.Println("rfsim-report", version.String())
		return nil
	case "help":
		printUsage()
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	return nil
}

func printUsage() {
	fmt.Println(`rfsim-report - analyse rangefinder simulator runs

Usage: rfsim-report <command> [options]

Commands:
  stats          Rangefinder statistics of a reading log within a time window
  capture-stats  DISTANCE_SENSOR statistics of a pcap capture within a window
  merge          Ordered merge of a reading log with another TimeUS CSV
  plot           Plot a reading log to PNG, PDF or SVG
  html           Render a reading log as an interactive HTML chart
  serve          Load reading logs into SQLite and serve tailsql
  version        Print the version
  help           Show this help

Run 'rfsim-report <command> -h' for command options.`)
}
