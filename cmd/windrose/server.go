package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/windrose-sh/windrose/pkg/config"
	"github.com/windrose-sh/windrose/pkg/events"
	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/metrics"
	"github.com/windrose-sh/windrose/pkg/reconciler"
	"github.com/windrose-sh/windrose/pkg/storage"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Windrose orchestration server",
	Long: `Run the Windrose orchestration server.

The server owns the state database, drives the reconcile loop that places
jobs on instances and retires finished capacity, and serves Prometheus
metrics and health probes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("metrics-listen"); v != "" {
			cfg.Metrics.Listen = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			cfg.Log.Level = log.Level(v)
		}

		log.Init(log.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
		metrics.SetVersion(Version)

		fmt.Println("Starting Windrose server...")
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		fmt.Printf("  Metrics Address: %s\n", cfg.Metrics.Listen)
		if cfg.Gateway.Enabled {
			fmt.Printf("  Gateway Domain: *.%s\n", cfg.Gateway.Domain)
		}
		fmt.Println()

		// Open state database
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %v", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		defer store.Close()
		metrics.RegisterComponent("store", true, "")
		fmt.Println("✓ Store opened")

		// Start event broker with a debug-logging consumer
		broker := events.NewBroker()
		broker.Start()
		eventSub := broker.Subscribe()
		go func() {
			logger := log.WithComponent("events")
			for event := range eventSub {
				entry := logger.Debug().Str("type", string(event.Type))
				for k, v := range event.Metadata {
					entry = entry.Str(k, v)
				}
				entry.Msg(event.Message)
			}
		}()

		c, err := buildCore(cfg, store, broker)
		if err != nil {
			return err
		}
		if c.registry.Len() == 0 {
			logger := log.WithComponent("server")
			logger.Warn().Msg("No backends configured, runs cannot be submitted")
		}

		// Start reconciler
		recon := reconciler.New(reconciler.Config{
			Store:               store,
			Runs:                c.runs,
			Pools:               c.pools,
			Registry:            c.registry,
			Gateway:             c.gateway,
			Events:              broker,
			Interval:            cfg.Reconciler.Interval.Std(),
			ProvisioningTimeout: cfg.Reconciler.ProvisioningTimeout.Std(),
		})
		recon.Start()
		metrics.RegisterComponent("reconciler", true, "")
		fmt.Println("✓ Reconciler started")

		// Start metrics collector
		collector := metrics.NewCollector(store)
		collector.Start()

		// Start metrics and health endpoint in background
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		httpServer := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server error: %v", err)
			}
		}()
		fmt.Printf("✓ Metrics listening on %s\n", cfg.Metrics.Listen)

		fmt.Println()
		fmt.Println("Server is running. Press Ctrl+C to stop.")

		// Wait for interrupt signal or metrics server error
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		// Shutdown
		recon.Stop()
		collector.Stop()
		broker.Unsubscribe(eventSub)
		broker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serverCmd.Flags().String("data-dir", "", "State directory (default "+config.DefaultDataDir+")")
	serverCmd.Flags().String("metrics-listen", "", "Metrics listen address (default "+config.DefaultMetricsAddr+")")
	serverCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
}
