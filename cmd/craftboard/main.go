// main is the entry point of the Craftboard application.
// It initializes the configuration, logger, database, console sessions,
// poller, and gateway, and serves the push channel until shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craftboard/craftboard/internal/config"
	"github.com/craftboard/craftboard/internal/fake"
	"github.com/craftboard/craftboard/internal/gateway"
	"github.com/craftboard/craftboard/internal/geoip"
	"github.com/craftboard/craftboard/internal/logger"
	"github.com/craftboard/craftboard/internal/maintenance"
	"github.com/craftboard/craftboard/internal/merge"
	"github.com/craftboard/craftboard/internal/poller"
	"github.com/craftboard/craftboard/internal/rcon"
	"github.com/craftboard/craftboard/internal/storage"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Msg("Starting craftboard service...")

	specs, err := cfg.ServerSpecs()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server configuration")
	}
	serverNames := make([]string, 0, len(specs))
	for _, spec := range specs {
		serverNames = append(serverNames, spec.Name)
	}

	// GeoIP is optional; viewer country detection is skipped without it.
	var geoProvider *geoip.Provider
	if cfg.GeoIP.Path != "" {
		if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		geoProvider, err = geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
			geoProvider = nil
		} else {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Console sessions and the poll engine
	console := rcon.NewManager(specs, nil, cfg.RCON.CommandRate, cfg.RCON.RetryDelay)
	defer console.Close()

	merger := merge.New(store, nil)
	tracker := poller.New(serverNames, console, merger, store, cfg.Poller.CacheWindow, cfg.Poller.Interval, nil)

	// Data generation or one-shot maintenance
	if cfg.Storage.GenerateCount > 0 {
		fake.GenerateData(store, serverNames, cfg.Storage.GenerateCount)
		return
	} else if maintenance.Run(cfg, store, tracker) {
		return
	}

	tracker.Start()

	// Gateway
	gw := gateway.New(tracker, geoProvider, specs, cfg)
	gw.Start()

	// No WriteTimeout: the push channel holds long-lived connections and
	// per-message deadlines are set by the gateway itself.
	httpServer := &http.Server{
		Addr:        cfg.Gateway.Address,
		Handler:     gw.Run(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Gateway.Address).Msg("Gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Gateway failed")
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down gateway...")

	// Stop accepting viewers, let in-flight pushes finish
	gw.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Gateway forced to shutdown")
	}

	// Stop poll loops and console sessions
	tracker.Stop()
	console.Close()

	log.Info().Msg("Server exited")
}
