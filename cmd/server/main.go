// Package main - точка входа HTTP API сервера Kreativium Insights Hub.
//
// Сервер отвечает за синхронную часть системы:
// - REST API: алерты, базлайны, сводки по ученикам
// - Приём обратной связи педагогов (feedback loop для порогов)
// - Запуск детекции по требованию (POST /detect)
// - Health-пробы и метрики Prometheus
//
// Философия: ранние, объяснимые сигналы вместо сырых данных - педагог
// видит уже агрегированные алерты с контекстом, а не поток наблюдений.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kreativium-hub/kreativium-insights-hub/config"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/command"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/eventhandler"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/pipeline"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/application/query"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/external/tauu"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/messaging"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/observability"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/persistence/postgres"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/persistence/projections"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/persistence/redis"
	httpiface "github.com/kreativium-hub/kreativium-insights-hub/internal/interface/http"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/interface/http/handlers"
	"github.com/kreativium-hub/kreativium-insights-hub/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
	log.Info("starting Kreativium Insights Hub API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL/Supabase)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, caching and run locks disabled",
				logger.Err(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. РЕПОЗИТОРИИ
	// ─────────────────────────────────────────────────────────────────────────
	observationRepo := postgres.NewObservationRepository(dbConn)
	baselineRepo := postgres.NewBaselineRepository(dbConn)
	alertRepo := postgres.NewAlertRepository(dbConn)
	overrideRepo := postgres.NewOverrideRepository(dbConn)
	assignmentRepo := postgres.NewAssignmentRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS + DISPATCHER + READ MODEL
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	busCfg.AsyncMode = true
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer func() { _ = bus.Close() }()

	dispatcherCfg := messaging.DefaultDispatcherConfig(bus)
	dispatcherCfg.Logger = log
	dispatcher := messaging.NewDispatcher(dispatcherCfg)
	defer func() { _ = dispatcher.Stop() }()

	// Сводка по ученикам собирается из доменных событий.
	insightCards := projections.NewInsightCardView()
	if err := bus.SubscribeAll(insightCards.Handler()); err != nil {
		return fmt.Errorf("failed to subscribe insight card view: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	metrics := observability.NewMetrics()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ДВИЖОК ДЕТЕКЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	var effectSize detection.EffectSizeFunc = stats.TauU
	var tauuClient *tauu.Client
	if cfg.TauU.Enabled {
		tauuCfg := tauu.DefaultClientConfig(cfg.TauU.BaseURL)
		tauuCfg.APIKey = cfg.TauU.APIKey
		tauuCfg.Timeout = cfg.TauU.RequestTimeout
		tauuCfg.CallTimeout = cfg.TauU.CallTimeout
		tauuClient = tauu.NewClient(tauuCfg, log)
		effectSize = tauuClient.EffectSize(stats.TauU)
		log.Info("remote effect-size service enabled",
			logger.String("base_url", cfg.TauU.BaseURL))
	}

	experiments := pipeline.NewExperimentService(assignmentRepo, nil, bus, log)

	engineCfg := pipeline.DefaultConfig()
	engineCfg.ExperimentsEnabled = cfg.Detection.ExperimentsEnabled &&
		cfg.Features.IsEnabled(config.FeaturePipelineExperiments, nil)
	engine := pipeline.NewService(baselineRepo, overrideRepo, experiments, effectSize, bus, log, engineCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. COMMAND / QUERY HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	var runLock command.DetectionLock
	var snapshotCache query.BaselineSnapshotCache
	if redisCache != nil {
		if cfg.Detection.LockEnabled {
			runLock = redis.NewDetectionLock(redisCache)
		}
		snapshotCache = redis.NewBaselineCache(redisCache)
	}

	runDetection := command.NewRunDetectionHandler(
		observationRepo, alertRepo, engine, runLock, log,
		command.RunDetectionHandlerConfig{ObservationWindow: cfg.Detection.ObservationWindow})
	transitionAlert := command.NewTransitionAlertHandler(alertRepo, bus, log)
	recordFeedback := command.NewRecordFeedbackHandler(alertRepo, overrideRepo, bus, log)

	getAlerts := query.NewGetAlertsHandler(alertRepo)
	getBaseline := query.NewGetBaselineHandler(baselineRepo, snapshotCache, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ОБРАБОТЧИКИ СОБЫТИЙ + KAFKA
	// ─────────────────────────────────────────────────────────────────────────
	onAlert := eventhandler.NewOnAlertCreatedHandler(metrics, log)
	onRun := eventhandler.NewOnDetectionCompletedHandler(metrics, log)
	_ = dispatcher.Register(onAlert.EventType(), "alert_metrics", onAlert.Handle)
	_ = dispatcher.Register(onRun.EventType(), "run_metrics", onRun.Handle)

	if cfg.Kafka.Enabled && cfg.Features.IsEnabled(config.FeaturePipelineKafkaExport, nil) {
		kafkaCfg := messaging.DefaultKafkaConfig()
		kafkaCfg.Brokers = cfg.Kafka.Brokers
		kafkaCfg.Topic = cfg.Kafka.Topic
		kafkaCfg.BatchTimeout = cfg.Kafka.BatchTimeout
		kafkaCfg.WriteTimeout = cfg.Kafka.WriteTimeout
		kafkaPub := messaging.NewKafkaPublisher(kafkaCfg, log)
		defer func() { _ = kafkaPub.Close() }()

		_ = dispatcher.Register(shared.EventAlertCreated, "kafka_export",
			kafkaPub.Handler(cfg.Kafka.WriteTimeout))
		log.Info("kafka alert export enabled",
			logger.String("topic", cfg.Kafka.Topic))
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", handlers.NewDatabaseCheck(dbConn))
	if redisCache != nil {
		healthChecker.AddCheck("cache", handlers.NewCacheCheck(redisCache))
	}
	if tauuClient != nil {
		healthChecker.AddCheck("effect_size", handlers.NewExternalAPICheck(tauuClient))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpiface.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.EnableCORS = cfg.HTTP.EnableCORS
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.EnableMetrics = cfg.Observability.MetricsEnabled
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	serverCfg.APIKeyHeader = cfg.HTTP.APIKeyHeader
	serverCfg.APIKeyHashes = cfg.HTTP.APIKeyHashes

	server := httpiface.NewServer(serverCfg, httpiface.Dependencies{
		GetAlertsHandler:       getAlerts,
		GetBaselineHandler:     getBaseline,
		TransitionAlertHandler: transitionAlert,
		RecordFeedbackHandler:  recordFeedback,
		RunDetectionHandler:    runDetection,
		InsightCards:           insightCards,
		Logger:                 log,
		HealthChecker:          healthChecker,
		MetricsHandler:         metrics.Handler(),
		RequestMetrics:         metrics,
	})

	serveErr := server.StartAsync()
	log.Info("HTTP server listening",
		logger.String("addr", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)))

	// ─────────────────────────────────────────────────────────────────────────
	// 13. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Err(err))
	}

	log.Info("shutdown completed successfully",
		logger.Duration("uptime", server.Uptime()))
	return nil
}
