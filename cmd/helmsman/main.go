package main

import (
	"context"
	"strings"
	"time"

	"clipworks/api_orchestrator/internal/handlers"
	"clipworks/api_orchestrator/internal/ledger"
	"clipworks/api_orchestrator/internal/orchestrator"
	"clipworks/api_orchestrator/internal/reconciler"
	"clipworks/api_orchestrator/pkg/clients"
	"clipworks/api_orchestrator/pkg/clients/boatswain"
	"clipworks/api_orchestrator/pkg/config"
	"clipworks/api_orchestrator/pkg/database"
	"clipworks/api_orchestrator/pkg/kafka"
	"clipworks/api_orchestrator/pkg/logging"
	"clipworks/api_orchestrator/pkg/monitoring"
	"clipworks/api_orchestrator/pkg/redis"
	"clipworks/api_orchestrator/pkg/server"
	"clipworks/api_orchestrator/pkg/version"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("helmsman")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Helmsman (Orchestration API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	boatswainURL := config.RequireEnv("BOATSWAIN_URL")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if config.GetEnvBool("MIGRATE_ON_BOOT", true) {
		if err := database.ApplySchema(db, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("helmsman", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("helmsman", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  dbURL,
		"SERVICE_TOKEN": serviceToken,
		"BOATSWAIN_URL": boatswainURL,
	}))

	// Kafka producer for ledger event fan-out (optional)
	var producer *kafka.Producer
	if brokers := config.GetEnvStringSlice("KAFKA_BROKERS", nil); len(brokers) > 0 {
		var err error
		producer, err = kafka.NewProducer(brokers, "helmsman", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create kafka producer")
		}
		defer producer.Close()
		healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
		logger.WithField("brokers", strings.Join(brokers, ",")).Info("Kafka event fan-out enabled")
	}

	// Redis snapshot cache for the dashboard read model (optional)
	var cache goredis.UniversalClient
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		client, err := redis.NewClientFromURL(context.Background(), redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer client.Close()
		cache = client
		logger.Info("Snapshot cache enabled")
	}

	// Orchestration policy
	policy, err := orchestrator.LoadPolicy(config.GetEnv("ORCHESTRATOR_POLICY_FILE", ""))
	if err != nil {
		logger.WithError(err).Fatal("Failed to load orchestration policy")
	}
	policy.CycleInterval = config.GetEnvDuration("ORCHESTRATOR_INTERVAL", policy.CycleInterval)

	// Publishing service client
	cbConfig := clients.DefaultCircuitBreakerConfig()
	cbConfig.Name = "boatswain"
	cbConfig.Logger = logger
	publisher := boatswain.NewClient(boatswain.Config{
		BaseURL:              boatswainURL,
		ServiceToken:         serviceToken,
		Timeout:              config.GetEnvDuration("BOATSWAIN_TIMEOUT", 30*time.Second),
		Logger:               logger,
		CircuitBreakerConfig: &cbConfig,
	})

	// Core wiring: ledger, monitor, decider, executor, reconciler, runner
	auditLedger := ledger.NewLedger(db, kafkaSink(producer), logger)
	monitor := orchestrator.NewMonitor(db, auditLedger, policy, cache, logger)
	decider := orchestrator.NewDecider(policy)
	recon := reconciler.NewReconciler(db, auditLedger, logger)
	executor := orchestrator.NewExecutor(db, publisher, recon, auditLedger, policy, logger)
	runner := orchestrator.NewRunner(monitor, decider, executor, auditLedger, policy.CycleInterval, logger)

	if config.GetEnvBool("ORCHESTRATOR_AUTOSTART", false) {
		runner.Start()
	}

	// Initialize handlers
	handlers.Init(db, logger, runner, monitor, recon, metricsCollector)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "helmsman", healthChecker, metricsCollector)
	handlers.RegisterRoutes(router, serviceToken)

	// Start server; the loop stops before the listener closes.
	serverConfig := server.DefaultConfig("helmsman", "18070")
	if err := server.Start(serverConfig, router, logger, runner.Stop); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

// kafkaSink keeps the ledger's producer nil when kafka is not configured;
// a typed nil *kafka.Producer would otherwise defeat the nil check.
func kafkaSink(producer *kafka.Producer) ledger.EventProducer {
	if producer == nil {
		return nil
	}
	return producer
}
