package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/logging"
	"gearshare/internal/repository"
	"gearshare/internal/sweeper"
	"gearshare/internal/worker"
)

// The sweeper process only enqueues reminders. Delivery is done by the
// notification worker of the API process, which polls the same database
// and, when configured, the same redis queue.
func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "sweeper-main").Logger()

	db, err := database.NewDBWithOptions(cfg.Database.Path, &logger, database.Options{
		BusyTimeout: time.Duration(cfg.Database.BusyTimeout) * time.Millisecond,
	})
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Без синков: воркер здесь только сохраняет уведомления.
	notifications := worker.NewNotificationWorker(db, nil, redisClient, cfg.Notifications.Worker, &logger)
	sw := sweeper.New(db, notifications, cfg.Sweeper, &logger)
	backups := database.NewBackupService(db, cfg.Backup, &logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sw.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		backups.Start(ctx)
	}()

	logger.Info().Dur("interval", cfg.Sweeper.Interval).Msg("Sweeper started")
	<-ctx.Done()
	wg.Wait()
	logger.Info().Msg("Sweeper stopped")
	return nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, reminders go through the database only")
		_ = repository.Close(client)
		return nil
	}
	return client
}
