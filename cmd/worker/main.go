// Package main - точка входа фонового воркера Kreativium Insights Hub.
//
// Воркер отвечает за асинхронную часть системы:
// - Ночной пересчёт скользящих базлайнов по всем ученикам
// - Периодический прогон детекции (sweep) по всей когорте
// - Снятие истёкших snooze с алертов
// - Очистка закрытых алертов старше срока хранения
//
// Все задачи идут через cron-планировщик с тайм-аутами и метриками;
// воркер и API-сервер делят одну базу и один Redis, поэтому прогоны
// детекции защищены распределённым замком.
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
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/alert"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/detection"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/shared"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/domain/stats"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/external/tauu"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/messaging"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/observability"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/persistence/postgres"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/persistence/redis"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/scheduler"
	"github.com/kreativium-hub/kreativium-insights-hub/internal/infrastructure/scheduler/jobs"
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
	log.Info("starting Kreativium Insights Hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
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
			log.Warn("failed to connect to Redis, cache invalidation and run locks disabled",
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
	// 6. EVENT BUS + DISPATCHER
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

	// ─────────────────────────────────────────────────────────────────────────
	// 7. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	metrics := observability.NewMetrics()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ДВИЖОК ДЕТЕКЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	var effectSize detection.EffectSizeFunc = stats.TauU
	if cfg.TauU.Enabled {
		tauuCfg := tauu.DefaultClientConfig(cfg.TauU.BaseURL)
		tauuCfg.APIKey = cfg.TauU.APIKey
		tauuCfg.Timeout = cfg.TauU.RequestTimeout
		tauuCfg.CallTimeout = cfg.TauU.CallTimeout
		tauuClient := tauu.NewClient(tauuCfg, log)
		effectSize = tauuClient.EffectSize(stats.TauU)
	}

	experiments := pipeline.NewExperimentService(assignmentRepo, nil, bus, log)

	engineCfg := pipeline.DefaultConfig()
	engineCfg.ExperimentsEnabled = cfg.Detection.ExperimentsEnabled &&
		cfg.Features.IsEnabled(config.FeaturePipelineExperiments, nil)
	engine := pipeline.NewService(baselineRepo, overrideRepo, experiments, effectSize, bus, log, engineCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. COMMAND HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	var runLock command.DetectionLock
	var baselineCache command.BaselineCache
	if redisCache != nil {
		if cfg.Detection.LockEnabled {
			runLock = redis.NewDetectionLock(redisCache)
		}
		baselineCache = redis.NewBaselineCache(redisCache)
	}

	updateBaseline := command.NewUpdateBaselineHandler(
		observationRepo, baselineRepo, baselineCache, bus, log,
		command.UpdateBaselineHandlerConfig{})
	runDetection := command.NewRunDetectionHandler(
		observationRepo, alertRepo, engine, runLock, log,
		command.RunDetectionHandlerConfig{ObservationWindow: cfg.Detection.ObservationWindow})

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ОБРАБОТЧИКИ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	onAlert := eventhandler.NewOnAlertCreatedHandler(metrics, log)
	onRun := eventhandler.NewOnDetectionCompletedHandler(metrics, log)
	_ = dispatcher.Register(onAlert.EventType(), "alert_metrics", onAlert.Handle)
	_ = dispatcher.Register(onRun.EventType(), "run_metrics", onRun.Handle)

	// После пересчёта базлайна сразу гоняем детекцию по этому ученику,
	// чтобы утренний отчёт педагога был свежим.
	if cfg.Detection.TriggerOnBaselineUpdate &&
		cfg.Features.IsEnabled(config.FeaturePipelineAutoTrigger, nil) {
		onBaseline := eventhandler.NewOnBaselineUpdatedHandler(runDetection, log,
			eventhandler.BaselineUpdatedConfig{
				TriggerDetection: true,
				RunTimeout:       cfg.Detection.RunTimeout,
			})
		_ = dispatcher.Register(onBaseline.EventType(), "baseline_trigger", onBaseline.Handle)
	}

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
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. ПЛАНИРОВЩИК ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.App.Location
	sched := scheduler.NewScheduler(schedCfg)

	sched.OnJobComplete(func(result scheduler.JobResult) {
		metrics.RecordJob(result.JobName, result.Success, result.Duration)
	})
	sched.OnJobError(func(jobName string, err error) {
		log.Error("scheduled job failed",
			logger.String("job", jobName),
			logger.Err(err))
	})

	if err := registerJobs(sched, cfg, updateBaseline, runDetection, alertRepo, bus, log); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("scheduler started",
		logger.String("baseline_refresh", cfg.Scheduler.BaselineRefreshCron),
		logger.String("detection_sweep", cfg.Scheduler.DetectionSweepCron),
		logger.String("snooze_expiry", cfg.Scheduler.SnoozeExpiryCron),
		logger.String("alert_cleanup", cfg.Scheduler.AlertCleanupCron))

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	if err := sched.Stop(); err != nil {
		log.Error("scheduler shutdown failed", logger.Err(err))
	}

	log.Info("worker shutdown completed successfully")
	return nil
}

// registerJobs привязывает фоновые задачи к cron-расписаниям из конфига.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	updateBaseline *command.UpdateBaselineHandler,
	runDetection *command.RunDetectionHandler,
	alertRepo alert.Repository,
	bus shared.EventPublisher,
	log *logger.Logger,
) error {
	type entry struct {
		job  scheduler.Job
		cron string
	}

	entries := []entry{
		{
			job: jobs.NewRefreshBaselinesJob(updateBaseline, log,
				jobs.RefreshBaselinesConfig{Timeout: cfg.Scheduler.JobTimeout}),
			cron: cfg.Scheduler.BaselineRefreshCron,
		},
		{
			job: jobs.NewDetectionSweepJob(runDetection, log,
				jobs.DetectionSweepConfig{Timeout: cfg.Detection.SweepTimeout}),
			cron: cfg.Scheduler.DetectionSweepCron,
		},
		{
			job:  jobs.NewExpireSnoozedJob(alertRepo, bus, log),
			cron: cfg.Scheduler.SnoozeExpiryCron,
		},
		{
			job: jobs.NewCleanupAlertsJob(alertRepo, log,
				jobs.CleanupAlertsConfig{Retention: cfg.Scheduler.AlertRetention}),
			cron: cfg.Scheduler.AlertCleanupCron,
		},
	}

	for _, e := range entries {
		schedule, err := scheduler.ParseCronExpression(e.cron)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q for job %s: %w", e.cron, e.job.Name(), err)
		}
		if err := sched.Register(e.job, schedule); err != nil {
			return err
		}
	}
	return nil
}
