// Command rfsim feeds a delayed, terrain-following rangefinder into an
// ArduSub SITL or live autopilot.
//
// By default it prepares the vehicle (depth hold, arm, dive, settle) while
// holding RC overrides, then streams DISTANCE_SENSOR readings for the run
// time and switches the autopilot to the configured mode after a fixed
// number of readings. With -sender it only streams readings to an existing
// GCS proxy until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rangefinder.sim/internal/monitoring"
	"github.com/banshee-data/rangefinder.sim/internal/version"
)

var flags = newFlags(flag.CommandLine)

func main() {
	flag.Parse()
	if *flags.version {
		fmt.Println("rfsim", version.String())
		return
	}

	cfg, err := flags.loadConfig(os.LookupEnv)
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	log.Printf("rfsim %s", version.String())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	opts := runOptions{Sender: *flags.sender}
	var server *http.Server
	if *flags.debugListen != "" {
		mux := http.NewServeMux()
		monitoring.AttachAdminRoutes(mux)
		opts.Mux = mux
		server = &http.Server{Addr: *flags.debugListen, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("debug pages on http://%s/debug/", *flags.debugListen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server: %v", err)
			}
		}()
	}

	_, runErr := run(ctx, cfg, opts)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("debug server shutdown error: %v", err)
			server.Close()
		}
		cancel()
	}
	wg.Wait()

	if runErr != nil {
		log.Fatalf("rfsim: %v", runErr)
	}
}
