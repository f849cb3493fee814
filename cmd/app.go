package cmd

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/clock"
	"github.com/vibast-solutions/ms-go-payment-retries/app/eventbus"
	"github.com/vibast-solutions/ms-go-payment-retries/app/factory"
	"github.com/vibast-solutions/ms-go-payment-retries/app/metrics"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
	"github.com/vibast-solutions/ms-go-payment-retries/app/provider"
	"github.com/vibast-solutions/ms-go-payment-retries/app/repository"
	"github.com/vibast-solutions/ms-go-payment-retries/app/service"
	"github.com/vibast-solutions/ms-go-payment-retries/config"
)

const kafkaSubscriptionID = "kafka"

type application struct {
	cfg          *config.Config
	clock        *clock.Logical
	registry     *prometheus.Registry
	bus          *eventbus.Bus
	resolver     *service.ConfigResolver
	orchestrator *service.RetryOrchestrator
	webhook      eventbus.WebhookConfig

	closers []func()
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func mustCreateApplication() *application {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	app := &application{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		webhook: eventbus.WebhookConfig{
			MaxRetries: cfg.Events.WebhookMaxRetries,
			Timeout:    cfg.Events.WebhookTimeout,
		},
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer := metrics.NewPrometheusObserver(app.registry)

	start := cfg.Clock.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}
	app.clock = clock.NewLogical(start)

	defaults := policy.Default()
	if cfg.Retry.DefaultsFile != "" {
		defaults, err = policy.LoadDefaults(cfg.Retry.DefaultsFile)
		if err != nil {
			logrus.WithError(err).WithField("path", cfg.Retry.DefaultsFile).Fatal("Failed to load retry defaults")
		}
	}

	db := mustOpenMySQL(app)
	ledger := mustCreateLedger(app, db)

	var (
		tenantStore repository.TenantConfigStore = repository.NewMemoryTenantConfigStore()
		journal     eventbus.Journal            = eventbus.NewMemoryJournal(cfg.Events.JournalSize)
	)
	if db != nil {
		tenantStore = repository.NewTenantConfigRepository(db)
		journal = repository.NewEventRepository(db)
	}

	deliveryLog, err := eventbus.NewDeliveryLog(cfg.Events.DeliveryLogSize)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create delivery log")
	}
	app.bus = eventbus.NewBus(
		eventbus.Config{
			RetrySchedule:   cfg.Events.DeliveryRetrySchedule,
			RatePerSecond:   cfg.Events.SubscriberRPS,
			DeliveryTimeout: time.Duration(cfg.Events.WebhookMaxRetries+1) * cfg.Events.WebhookTimeout,
		},
		app.clock,
		journal,
		deliveryLog,
		observer,
		factory.NewModuleLogger("event-bus"),
	)
	app.closers = append(app.closers, app.bus.Close)
	mustSubscribeKafka(app)

	app.resolver = service.NewConfigResolver(tenantStore, app.bus, app.clock, defaults, factory.NewModuleLogger("config-resolver"))
	if err := app.resolver.Load(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to load tenant configs")
	}

	executors := []provider.Executor{
		provider.NewStripeExecutor(provider.StripeConfig{
			SecretKey:   cfg.Stripe.SecretKey,
			BaseURL:     cfg.Stripe.BaseURL,
			HTTPTimeout: cfg.Stripe.HTTPTimeout,
		}),
	}
	if cfg.Clock.ControlEnabled {
		// Simulation runs drive payments through the scripted executor.
		executors = append(executors, provider.NewScriptedExecutor(provider.OutcomeSucceeded))
	}

	app.orchestrator = service.NewRetryOrchestrator(
		ledger,
		app.resolver,
		provider.NewRegistry(executors...),
		app.bus,
		app.clock,
		observer,
		factory.NewModuleLogger("retry-orchestrator"),
		service.OrchestratorConfig{
			AttemptTimeout:   cfg.Retry.AttemptTimeout,
			DuePolicy:        service.DuePolicy(cfg.Retry.DuePolicy),
			SweepParallelism: cfg.Retry.SweepParallelism,
			SweepBatchSize:   cfg.Retry.SweepBatchSize,
			DefaultProvider:  cfg.Retry.DefaultProvider,
		},
	)

	app.clock.OnAdvance(app.orchestrator.Sweep)
	app.clock.OnAdvance(app.bus.Wake)

	return app
}

func mustOpenMySQL(app *application) *sql.DB {
	cfg := app.cfg
	if cfg.Storage.Driver != config.StorageMySQL && cfg.MySQL.DSN == "" {
		return nil
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	app.closers = append(app.closers, func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	})
	return db
}

func mustCreateLedger(app *application, db *sql.DB) repository.CampaignLedger {
	cfg := app.cfg
	switch cfg.Storage.Driver {
	case config.StorageMySQL:
		return repository.NewCampaignRepository(db)
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			logrus.WithError(err).Fatal("Failed to ping redis")
		}
		app.closers = append(app.closers, func() {
			if err := rdb.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close redis client")
			}
		})
		return repository.NewRedisCampaignLedger(rdb, cfg.Redis.KeyPrefix)
	default:
		logrus.Warn("Campaigns are kept in memory and will not survive a restart")
		return repository.NewMemoryCampaignLedger()
	}
}

func mustSubscribeKafka(app *application) {
	cfg := app.cfg
	if len(cfg.Events.KafkaBrokers) == 0 {
		return
	}

	logger := factory.NewModuleLogger("kafka-sink")
	publisher, err := eventbus.NewKafkaPublisher(eventbus.KafkaConfig{
		Brokers:  cfg.Events.KafkaBrokers,
		ClientID: cfg.App.ServiceName,
	}, logger)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create kafka publisher")
	}
	app.closers = append(app.closers, func() { closePublisher(publisher) })

	if _, err := app.bus.Subscribe(eventbus.SubscriptionSpec{
		ID:   kafkaSubscriptionID,
		Name: "kafka:" + cfg.Events.KafkaTopic,
		Sink: eventbus.NewWatermillSink(publisher, cfg.Events.KafkaTopic),
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to subscribe kafka sink")
	}
}

func closePublisher(publisher message.Publisher) {
	if err := publisher.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close kafka publisher")
	}
}
