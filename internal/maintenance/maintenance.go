// Package maintenance provides one-shot administrative tasks selected via flags.
package maintenance

import (
	"context"
	"sync"

	"github.com/craftboard/craftboard/internal/config"
	"github.com/craftboard/craftboard/internal/poller"
	"github.com/craftboard/craftboard/internal/storage"
	"github.com/rs/zerolog/log"
)

// Run checks if any maintenance flags are set and executes the corresponding
// task. Returns true if a task ran (indicating the program should exit).
func Run(cfg *config.Config, store *storage.Repository, tracker *poller.Tracker) bool {
	// Prune a decommissioned server's records. This is the only code path
	// that ever deletes player history.
	if cfg.Storage.PruneServer != "" {
		log.Info().Str("server", cfg.Storage.PruneServer).Msg("Pruning server records...")

		count, err := store.PruneServer(cfg.Storage.PruneServer)
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune server records")
		} else {
			log.Info().Int64("deleted", count).Msg("Prune finished")
		}

		return true
	}

	// Single poll cycle for every configured server, then exit. Useful for
	// cron-driven history capture and connectivity checks.
	if cfg.Storage.PollOnce {
		specs, err := cfg.ServerSpecs()
		if err != nil {
			log.Error().Err(err).Msg("Invalid server configuration")
			return true
		}

		log.Info().Int("servers", len(specs)).Msg("Running one poll cycle per server...")
		runWorkerPool(specs, tracker, cfg)
		log.Info().Msg("Maintenance task completed")

		return true
	}

	return false
}

func runWorkerPool(specs []config.ServerSpec, tracker *poller.Tracker, cfg *config.Config) {
	const workers = 4
	jobs := make(chan config.ServerSpec, len(specs))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range jobs {
				pollServer(spec, tracker, cfg)
			}
		}()
	}

	for _, spec := range specs {
		jobs <- spec
	}
	close(jobs)

	wg.Wait()
}

func pollServer(spec config.ServerSpec, tracker *poller.Tracker, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Poller.Interval)
	defer cancel()

	if err := tracker.Poll(ctx, spec.Name); err != nil {
		log.Error().Err(err).Str("server", spec.Name).Msg("Poll failed")
		return
	}

	log.Info().Str("server", spec.Name).Msg("Poll cycle stored")
}
