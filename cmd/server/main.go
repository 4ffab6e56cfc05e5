package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xideahub/OpenStock/internal/cache"
	"github.com/0xideahub/OpenStock/internal/clientdata"
	"github.com/0xideahub/OpenStock/internal/clients/simfin"
	"github.com/0xideahub/OpenStock/internal/clients/yahoo"
	"github.com/0xideahub/OpenStock/internal/config"
	"github.com/0xideahub/OpenStock/internal/database"
	"github.com/0xideahub/OpenStock/internal/reliability"
	"github.com/0xideahub/OpenStock/internal/scheduler"
	"github.com/0xideahub/OpenStock/internal/server"
	"github.com/0xideahub/OpenStock/internal/services"
	"github.com/0xideahub/OpenStock/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Int("port", cfg.Port).
		Bool("cache_enabled", cfg.CacheEnabled).
		Bool("backup_enabled", cfg.Backup.Enabled).
		Msg("Starting OpenStock")

	cacheDB, repo := setupCache(cfg, log)
	if cacheDB != nil {
		defer cacheDB.Close()
	}

	cacheLayer := cache.New(repo, cfg.CacheEnabled, log)

	sessions := yahoo.NewSessionManager(cfg.YahooBaseURL, cacheLayer, log)
	yahooClient := yahoo.NewClient(cfg.YahooBaseURL, sessions, cacheLayer, log)
	simfinClient := simfin.NewClient(cfg.SimFinBaseURL, cfg.SimFinAPIKey, cacheLayer, log)

	fundamentals := services.NewFundamentalsService(simfinClient, yahooClient, cacheLayer, log)

	sched := scheduler.New(log)
	registerJobs(sched, cfg, cacheDB, repo, log)
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:          log,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		Fundamentals: fundamentals,
		CacheDB:      cacheDB,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("OpenStock stopped")
}

// setupCache opens the sqlite cache database and its repository. A nil
// repository disables the persistent cache layer; the service then runs as a
// pure pass-through fetcher.
func setupCache(cfg *config.Config, log zerolog.Logger) (*database.DB, *clientdata.Repository) {
	if !cfg.CacheEnabled {
		log.Warn().Msg("Cache disabled, running without persistence")
		return nil, nil
	}

	cacheDB, err := database.New(database.Config{
		Path:    cfg.CacheDBPath(),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}

	repo, err := clientdata.NewRepository(cacheDB.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache repository")
	}

	return cacheDB, repo
}

// registerJobs wires the background jobs: daily expired-row cleanup and the
// optional cloud backup.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, cacheDB *database.DB, repo *clientdata.Repository, log zerolog.Logger) {
	if repo != nil {
		cleanup := clientdata.NewCleanupJob(repo, log)
		if err := sched.AddJob("0 30 3 * * *", cleanup); err != nil {
			log.Error().Err(err).Msg("Failed to register cleanup job")
		}
	}

	if cfg.Backup.Enabled && cacheDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		r2Client, err := reliability.NewR2Client(ctx, cfg.Backup, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create backup client, backups disabled")
			return
		}

		backupService := reliability.NewBackupService(r2Client, cacheDB, cfg.DataDir, log)
		backupJob := reliability.NewBackupJob(backupService, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob(cfg.Backup.Schedule, backupJob); err != nil {
			log.Error().Err(err).Msg("Failed to register backup job")
		}
	}
}
