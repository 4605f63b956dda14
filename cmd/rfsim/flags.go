package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/config"
)

// cliFlags are the command-line overrides. Only flags given explicitly
// replace configuration values.
type cliFlags struct {
	fs *flag.FlagSet

	configPath  *string
	envFile     *string
	sender      *bool
	debugListen *string
	version     *bool

	speedup  *float64
	delay    *time.Duration
	runTime  *time.Duration
	terrain  *string
	logPath  *string
	endpoint *string
	rc       *string
	capture  *string
	seed     *uint64
	depth    *float64
	mode     *int
}

func newFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		fs:          fs,
		configPath:  fs.String("config", "", "Run configuration file (.json, .yaml or .yml); empty uses built-in defaults"),
		envFile:     fs.String("env-file", ".env", "Environment file loaded before RFSIM_* variables are read"),
		sender:      fs.Bool("sender", false, "Only stream readings to a running GCS proxy: no arming, diving or RC override"),
		version:     fs.Bool("version", false, "Print the version and exit"),
		debugListen: fs.String("debug-listen", "", "Serve /debug/ and /metrics on this address, e.g. localhost:6060"),
		speedup:     fs.Float64("speedup", 1, "Simulation speedup factor"),
		delay:       fs.Duration("delay", 300*time.Millisecond, "Sensor delay in simulated time"),
		runTime:     fs.Duration("time", 60*time.Second, "Simulated run time; 0 runs until interrupted"),
		terrain:     fs.String("terrain", "", "Terrain file"),
		logPath:     fs.String("log", "", "Reading log output path"),
		endpoint:    fs.String("endpoint", "", "Vehicle endpoint, e.g. tcp:127.0.0.1:5760, udpin:0.0.0.0:14551, serial:/dev/ttyUSB0:57600 or pcap:run.pcap"),
		rc:          fs.String("rc", "", "RC override UDP address"),
		capture:     fs.String("capture", "", "Record telemetry to this pcap file"),
		seed:        fs.Uint64("seed", 1, "Noise seed"),
		depth:       fs.Float64("depth", -10, "Dive depth in metres, negative down"),
		mode:        fs.Int("mode", 21, "Flight mode requested after the mode change cycle"),
	}
}

// overrides applies every flag that was set on the command line.
func (f *cliFlags) overrides(cfg *config.SimConfig) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "speedup":
			cfg.Speedup = f.speedup
		case "delay":
			cfg.SensorDelay = durationString(*f.delay)
		case "time":
			cfg.RunDuration = durationString(*f.runTime)
		case "terrain":
			cfg.TerrainPath = f.terrain
		case "log":
			cfg.LogPath = f.logPath
		case "endpoint":
			cfg.VehicleEndpoint = f.endpoint
		case "rc":
			cfg.RCAddress = f.rc
		case "capture":
			cfg.CapturePath = f.capture
		case "seed":
			cfg.NoiseSeed = f.seed
		case "depth":
			cfg.DiveDepth = f.depth
		case "mode":
			cfg.Mode = f.mode
		}
	})
}

func durationString(d time.Duration) *string {
	s := d.String()
	return &s
}

// loadConfig layers the configuration: built-in defaults, the config file,
// sender defaults for anything still unset, the environment (after the env
// file), then explicit flags.
func (f *cliFlags) loadConfig(lookup func(string) (string, bool)) (*config.SimConfig, error) {
	cfg := config.EmptySimConfig()
	if *f.configPath != "" {
		loaded, err := config.LoadSimConfig(*f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *f.sender {
		cfg.ApplySenderDefaults()
	}

	if err := config.LoadEnvFile(*f.envFile); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", *f.envFile, err)
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	f.overrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}
