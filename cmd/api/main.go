package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gearshare/internal/api"
	"gearshare/internal/availability"
	"gearshare/internal/broker"
	"gearshare/internal/catalog"
	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/export"
	"gearshare/internal/google"
	"gearshare/internal/logging"
	"gearshare/internal/metrics"
	"gearshare/internal/notify"
	"gearshare/internal/payment"
	"gearshare/internal/pricing"
	"gearshare/internal/repository"
	"gearshare/internal/service"
	"gearshare/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := configPathFromEnv()
	cfg, logger, closer, err := loadConfigAndLogger(configPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDBWithOptions(cfg.Database.Path, &logger, database.Options{
		BusyTimeout: time.Duration(cfg.Database.BusyTimeout) * time.Millisecond,
	})
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := initGateway(cfg)
	if err != nil {
		return err
	}
	platform := payment.NewPlatform(cfg.Payment.PlatformUserID, cfg.Payment.Wallets)
	orchestrator := payment.NewOrchestrator(gateway, initLedger(cfg, redisClient, &logger), platform, cfg.Payment.Timeout, &logger)
	rates := pricing.NewStaticRates(cfg.ExchangeRates)

	registry, err := catalog.NewRegistry(cfg.Categories, db)
	if err != nil {
		return fmt.Errorf("init categories: %w", err)
	}
	logger.Info().Strs("categories", registry.Names()).Msg("Categories registered")
	calendar := availability.NewCalendar(db, &logger)

	sinks, closers := initSinks(ctx, cfg, &logger)
	for _, c := range closers {
		defer c.Close()
	}
	notifications := worker.NewNotificationWorker(db, sinks, redisClient, cfg.Notifications.Worker, &logger)
	if failed, err := db.GetFailedNotifications(ctx); err == nil && len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Msg("Notifications that exhausted their retries are kept in the database")
	}

	bus := events.NewEventBus()
	if eventsPublisher := initEventForwarder(cfg, &logger); eventsPublisher != nil {
		defer eventsPublisher.Close()
		bus.SubscribeAll(eventsPublisher.Forward)
	}

	bookings := service.NewBookingService(service.Deps{
		Store:      db,
		Directory:  db,
		Calendar:   calendar,
		Categories: registry,
		Rates:      rates,
		Payments:   orchestrator,
		Notifier:   notifications,
		Events:     bus,
		Retry:      worker.PolicyFromConfig(cfg.Notifications.Worker),
	}, &logger)

	exporter, err := initExporter(cfg, db, &logger)
	if err != nil {
		return err
	}

	grpcServer, err := api.NewGRPCServer(&cfg.API, bookings, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	deps := api.Deps{
		Bookings:  bookings,
		Calendars: service.NewCalendarService(calendar, db, &logger),
		Ledger:    exporter,
	}
	if sandbox, ok := gateway.(*payment.SandboxGateway); ok {
		deps.Sandbox = sandbox
	}
	httpServer := api.NewHTTPServer(&cfg.API, deps, &logger)

	go notifications.Start(ctx)
	go watchReload(ctx, configPath, platform, rates, &logger)
	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func configPathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func loadConfigAndLogger(configPath string) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(client)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initGateway(cfg *config.Config) (domain.PaymentGateway, error) {
	switch cfg.Payment.Gateway {
	case "sandbox":
		return payment.NewSandboxGateway(cfg.App.PublicURL), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Payment.Gateway)
	}
}

// initLedger prefers redis so that several API instances share one set of
// idempotency keys.
func initLedger(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.OperationLedger {
	if redisClient != nil {
		return repository.NewRedisOperationLedger(redisClient, cfg.Payment.LedgerTTL)
	}
	logger.Warn().Msg("redis unavailable, operation ledger is process-local")
	return repository.NewMemoryOperationLedger(cfg.Payment.LedgerTTL)
}

func initSinks(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) ([]domain.NotificationSink, []io.Closer) {
	sinks := []domain.NotificationSink{notify.NewLogSink(logger)}
	var closers []io.Closer

	if tg := cfg.Notifications.Telegram; tg.Enabled {
		bot, err := notify.NewTelegramBot(tg)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without telegram sink")
		} else {
			sinks = append(sinks, notify.NewTelegramSink(bot, tg.ChatID))
		}
	}

	if k := cfg.Notifications.Kafka; k.Enabled {
		pub := broker.NewKafkaPublisher(broker.NewWriter(k.Brokers, k.NotificationsTopic, logger), logger)
		sinks = append(sinks, pub)
		closers = append(closers, pub)
	}

	if sh := cfg.Notifications.Sheets; sh.Enabled {
		svc, err := google.NewSheetsService(ctx, sh.CredentialsFile, sh.SpreadsheetID)
		if err == nil {
			err = svc.TestConnection(ctx, sh.SheetName)
		}
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets sink")
		} else {
			sinks = append(sinks, google.NewSheetsSink(svc, sh.SheetName))
		}
	}

	return sinks, closers
}

func initEventForwarder(cfg *config.Config, logger *zerolog.Logger) *broker.KafkaPublisher {
	k := cfg.Notifications.Kafka
	if !k.Enabled {
		return nil
	}
	return broker.NewKafkaPublisher(broker.NewWriter(k.Brokers, k.EventsTopic, logger), logger)
}

func initExporter(cfg *config.Config, db *database.DB, logger *zerolog.Logger) (*export.LedgerExporter, error) {
	var uploader export.Uploader
	if cfg.Exports.S3.Enabled {
		s3, err := export.NewS3Uploader(cfg.Exports.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("init s3 uploader: %w", err)
		}
		uploader = s3
	}
	return export.NewLedgerExporter(db, cfg.Exports.Path, uploader, logger), nil
}

// watchReload re-reads platform wallets and exchange rates on SIGHUP.
func watchReload(ctx context.Context, configPath string, platform *payment.Platform, rates *pricing.StaticRates, logger *zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error().Err(err).Msg("reload config")
				continue
			}
			platform.Reload(cfg.Payment.PlatformUserID, cfg.Payment.Wallets)
			rates.Reload(cfg.ExchangeRates)
			logger.Info().Int("wallets", len(cfg.Payment.Wallets)).Int("rates", len(cfg.ExchangeRates)).Msg("Payment settings reloaded")
		}
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if !cfg.API.GRPC.Enabled {
			return
		}
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
