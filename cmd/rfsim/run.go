package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rangefinder.sim/internal/actuator"
	"github.com/banshee-data/rangefinder.sim/internal/config"
	"github.com/banshee-data/rangefinder.sim/internal/controller"
	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/rangefinder"
	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
	"github.com/banshee-data/rangefinder.sim/internal/simclock"
	"github.com/banshee-data/rangefinder.sim/internal/terrain"
	"github.com/banshee-data/rangefinder.sim/internal/timeutil"
	"github.com/banshee-data/rangefinder.sim/internal/transport"
)

// MAVLink identity used when sharing a GCS proxy with a ground station.
const (
	senderSysID  = 254
	senderCompID = 99
)

// runOptions carries what run needs beyond the configuration.
type runOptions struct {
	Sender bool
	// Mux, when set, receives a status section on the debug page.
	Mux *http.ServeMux
}

func loadProfile(cfg *config.SimConfig, sender bool) (*terrain.Profile, error) {
	sentinels := terrain.Sentinels{Dropout: cfg.GetDropoutValue(), LowSignal: cfg.GetLowSignalValue()}
	if sender && cfg.TerrainPath == nil {
		b := terrain.NewBuilder()
		b.Sentinels = sentinels
		return terrain.Generate(b, "zeros", terrain.DefaultShape())
	}
	return terrain.Load(cfg.GetTerrainPath(), sentinels)
}

// run performs one simulator session. Interrupts and the end of a replayed
// capture are normal stops.
func run(ctx context.Context, cfg *config.SimConfig, opts runOptions) (summary controller.Summary, err error) {
	runID := uuid.NewString()
	endpoint, err := transport.ParseEndpoint(cfg.GetVehicleEndpoint())
	if err != nil {
		return summary, err
	}
	speedup := cfg.GetSpeedup()

	profile, err := loadProfile(cfg, opts.Sender)
	if err != nil {
		return summary, err
	}

	params := rangefinder.DefaultParams()
	params.Sentinels = profile.Sentinels
	params.NoiseSigma = cfg.GetNoiseSigma()
	synth := rangefinder.NewSynthesizer(params, cfg.GetNoiseSeed())

	connOpts := transport.DefaultOptions()
	if opts.Sender {
		connOpts.SysID = senderSysID
		connOpts.CompID = senderCompID
	}
	conn, err := transport.Dial(endpoint, transport.DialOptions{
		Conn:        connOpts,
		CapturePath: cfg.GetCapturePath(),
		Replay:      transport.ReplayOptions{Pace: true, Speedup: speedup},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return summary, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	defer conn.Close()

	records, err := readinglog.Create(cfg.GetLogPath())
	if err != nil {
		return summary, err
	}
	defer func() {
		if cerr := records.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close reading log: %w", cerr)
		}
	}()

	clock := simclock.New(speedup, timeutil.RealClock{}, simclock.Options{Damping: cfg.GetClockDamping()})
	ctlCfg := controller.Config{
		Delay:            cfg.GetSensorDelay().Seconds(),
		Duration:         cfg.GetRunDuration().Seconds(),
		BootstrapTimeout: cfg.GetBootstrapTimeout(),
		ModeChangeCycle:  cfg.GetModeChangeCycle(),
		Mode:             uint32(cfg.GetMode()),
		Retention:        cfg.GetHistoryRetention().Seconds(),
	}
	ctl, err := controller.New(ctlCfg, conn, clock, profile, synth, records)
	if err != nil {
		return summary, err
	}

	if opts.Mux != nil {
		attachStatus(opts.Mux, runID, endpoint, cfg, opts.Sender, clock)
	}
	log.Printf("run %s: endpoint %s, speedup %.2f, delay %v, terrain %d readings at %.3fs",
		runID, endpoint, speedup, cfg.GetSensorDelay(), len(profile.Readings), profile.Interval)

	if !opts.Sender {
		rc, err := transport.DialRC(cfg.GetRCAddress())
		if err != nil {
			return summary, err
		}
		writer := actuator.NewWriter(rc, nil, cfg.GetActuatorPeriod().Seconds(), speedup)
		writer.Start()
		defer func() {
			writer.Stop()
			writer.Wait()
			rc.Close()
		}()

		err = ctl.Prepare(ctx, conn, writer, controller.PrepareConfig{
			Depth:           cfg.GetDiveDepth(),
			SettleTime:      cfg.GetSettleTime().Seconds(),
			PositionRateHz:  cfg.GetPositionRateHz(),
			PositionTimeout: cfg.GetBootstrapTimeout(),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Printf("run %s: interrupted during preparation", runID)
				return summary, nil
			}
			return summary, fmt.Errorf("prepare vehicle: %w", err)
		}
	}

	summary, err = ctl.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Printf("run %s: interrupted", runID)
		err = nil
	case endpoint.Scheme == transport.SchemePCAP && errors.Is(err, transport.ErrClosed):
		log.Printf("run %s: replay finished", runID)
		err = nil
	}
	logSummary(runID, summary, records.Rows())
	return summary, err
}

func logSummary(runID string, s controller.Summary, rows int) {
	log.Printf("run %s: %d cycles over %.2fs..%.2fs, %d sent, %d send errors, %d suppressed, %d low signal, %d log rows",
		runID, s.Cycles, s.First, s.Last, s.Sent, s.SendErrors, s.Suppressed, s.LowSignal, rows)
	log.Printf("run %s: mode changed %v, terrain laps %d, clock %d out of order, %d clamped",
		runID, s.ModeChanged, s.Laps, s.Clock.OutOfOrder, s.Clock.Clamped)
}

// attachStatus adds a run section to the tsweb debug index. Only the clock
// and process counters are read; both are safe from the HTTP goroutines.
func attachStatus(mux *http.ServeMux, runID string, endpoint transport.Endpoint, cfg *config.SimConfig, sender bool, clock *simclock.Reconciler) {
	debug := tsweb.Debugger(mux)
	debug.KV("Run ID", runID)
	debug.KV("Endpoint", endpoint.String())
	debug.KV("Sender mode", sender)
	debug.KV("Speedup", cfg.GetSpeedup())
	debug.KV("Sensor delay", cfg.GetSensorDelay().String())
	debug.KVFunc("Simulated time", func() any { return fmt.Sprintf("%.2fs", clock.RoughEstimate()) })
	debug.KVFunc("Reports sent", func() any { return monitoring.ReportsSent.Value() })
	debug.KVFunc("Positions received", func() any { return monitoring.PositionsRecv.Value() })
	debug.KVFunc("Positions applied", func() any { return monitoring.PositionsApplied.Value() })
	debug.KVFunc("Dropouts", func() any { return monitoring.Dropouts.Value() })
}
