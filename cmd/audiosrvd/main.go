// Command audiosrvd runs the audio routing daemon (spec §1, §6): it loads
// configuration, wires up the device catalog, and serves the control
// socket until terminated.
//
// Grounded on rustyguts-bken/server/main.go's construct-then-Run(ctx)
// shape, signal-driven shutdown, and optional-subsystem-behind-a-flag
// style (its -test-user virtual bot maps here to -test-tone).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"audiosrv/internal/iodev"
	"audiosrv/internal/metrics"
	"audiosrv/internal/wire"
	"audiosrv/server"
)

func main() {
	configPath := flag.String("config", "", "YAML config file path (optional; flags below override it)")
	socketDir := flag.String("socket-dir", "", "directory holding the control socket (overrides config)")
	maxGain := flag.Int("max-gain-centi-db", 0, "maximum per-stream gain in centi-dB (0 = use config default)")
	cbThreshold := flag.Int("cb-threshold", 0, "default stream callback threshold in frames (0 = use config default)")
	prometheusAddr := flag.String("prometheus-addr", "", "address to serve /metrics on (empty disables it)")
	useHardware := flag.Bool("hardware", true, "open the platform default portaudio input/output devices")
	testTone := flag.Bool("test-tone", false, "add a synthetic sine-tone output device for smoke testing")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("[audiosrvd] load config: %v", err)
	}
	if *socketDir != "" {
		cfg.SocketDir = *socketDir
	}
	if *maxGain != 0 {
		cfg.MaxGainCentiDB = *maxGain
	}
	if *cbThreshold != 0 {
		cfg.DefaultCBThreshold = *cbThreshold
	}
	if *prometheusAddr != "" {
		cfg.PrometheusAddr = *prometheusAddr
	}

	sink := metrics.New()
	srv := server.New(cfg, sink)

	if *useHardware {
		if err := portaudio.Initialize(); err != nil {
			log.Fatalf("[audiosrvd] portaudio init: %v", err)
		}
		defer portaudio.Terminate()

		srv.AddDevice(wire.Output, "default-output", iodev.NewHWBackend(-1, false), false)
		srv.AddDevice(wire.Input, "default-input", iodev.NewHWBackend(-1, true), false)
	}

	// Silent fallback devices keep routing functional even with no hardware
	// opened, or if the hardware device fails later (spec §4.7).
	srv.AddDevice(wire.Output, "fallback-output", iodev.NewFallbackBackend(), true)
	srv.AddDevice(wire.Input, "fallback-input", iodev.NewFallbackBackend(), true)

	if *testTone {
		srv.AddDevice(wire.Output, "test-tone-440hz", iodev.NewToneBackend(440), false)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PrometheusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		httpSrv := &http.Server{Addr: cfg.PrometheusAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[audiosrvd] metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
		log.Printf("[audiosrvd] metrics listening on %s", cfg.PrometheusAddr)
	}

	log.Printf("[audiosrvd] socket dir %s", cfg.SocketDir)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[audiosrvd] %v", err)
	}
}
