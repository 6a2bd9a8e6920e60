// Command gazecap runs the Tobii Pro Glasses 3 acquisition server: it
// connects to the glasses over WebSocket, decimates the gaze and IMU
// streams, records sessions to CSV and serves the control API plus a live
// SSE feed.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/oculab/gazecap/internal/api"
	"github.com/oculab/gazecap/internal/config"
	"github.com/oculab/gazecap/internal/display"
	"github.com/oculab/gazecap/internal/fsutil"
	"github.com/oculab/gazecap/internal/g3"
	"github.com/oculab/gazecap/internal/monitoring"
	"github.com/oculab/gazecap/internal/pipeline"
	"github.com/oculab/gazecap/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a simulated device (no glasses needed)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	configPath = flag.String("config", "", "Path to JSON settings file")
	hostname   = flag.String("hostname", "", "Glasses address (overrides config and G3_HOSTNAME)")
	recordings = flag.String("recordings", "", "Recordings directory (overrides config)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	monitoring.SetVerbose(*verbose)
	log.Printf("gazecap %s (%s)", version.Version, version.GitSHA)

	settings := config.EmptySettings()
	if *configPath != "" {
		var err error
		settings, err = config.LoadSettings(*configPath)
		if err != nil {
			log.Fatalf("failed to load settings: %v", err)
		}
	}
	if *listen == "" {
		*listen = settings.GetListen()
	}
	if *hostname == "" {
		*hostname = settings.GetHostname()
	}
	if *recordings == "" {
		*recordings = settings.GetRecordingsDir()
	}

	// The device dialer: real glasses over WebSocket, or a simulated head
	// unit pacing samples on a 10ms grid in dev mode.
	var dial g3.Dialer
	if *devMode {
		log.Printf("dev mode: simulated device will answer at any hostname")
		dial = g3.MockDialer(g3.MockConfig{
			GazeFrequency: settings.GetGazeFrequency(),
			Interval:      10 * time.Millisecond,
		})
	} else {
		freq := settings.GetGazeFrequency()
		dial = func(ctx context.Context, host string) (g3.Device, error) {
			return g3.Dial(ctx, host, g3.WithDesiredGazeFrequency(freq))
		}
	}

	feed := display.NewFeed()
	defer feed.Close()

	pipe := pipeline.New(pipeline.Options{
		Dial:           dial,
		FS:             fsutil.OSFileSystem{},
		Feed:           feed,
		RecordingsDir:  *recordings,
		GazeDecimation: settings.GetGazeDecimation(),
		IMUDecimation:  settings.GetIMUDecimation(),
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(pipe, feed, fsutil.OSFileSystem{}, *recordings, *hostname).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s (default device %s, recordings in %s)",
				*listen, *hostname, *recordings)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// On shutdown, finish any running session so its CSV files are valid,
	// then drop the device connection.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if _, err := pipe.Disconnect(); err != nil {
			log.Printf("error during disconnect: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
