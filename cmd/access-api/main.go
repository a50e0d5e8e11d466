package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medrex/medchain/internal/events"
	"github.com/medrex/medchain/internal/gateway"
	"github.com/medrex/medchain/internal/ledger"
	"github.com/medrex/medchain/pkg/config"
	"github.com/medrex/medchain/pkg/database"
	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/monitoring"
	"github.com/medrex/medchain/pkg/repository"
)

const (
	serviceName    = "medchain-access-api"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	issueFor := flag.String("issue-token", "", "print a caller token for this ledger identity and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)

	gatewayConfig := gateway.ConfigFrom(cfg)
	if *issueFor != "" {
		token, err := gateway.NewTokenValidator(gatewayConfig.JWTSecret, gatewayConfig.JWTIssuer, gatewayConfig.JWTAudience).
			IssueToken(*issueFor, time.Duration(cfg.JWT.AccessTokenTTL)*time.Second)
		if err != nil {
			fmt.Printf("Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log.WithComponent("main").WithField("version", serviceVersion).Info("Starting access API")

	store, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to open ledger store")
		os.Exit(1)
	}
	defer store.Close()

	metrics := monitoring.NewMetricsCollector(serviceName)

	var tracing *monitoring.TracingManager
	if cfg.Monitoring.TracingEnabled {
		tracingConfig := &monitoring.TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			Environment:    cfg.Monitoring.Environment,
			SamplingRate:   cfg.Monitoring.TracingSampleRate,
		}
		if cfg.Monitoring.TracingExporter == "stdout" {
			tracingConfig.Output = os.Stdout
		}
		tracing, err = monitoring.NewTracingManager(tracingConfig)
		if err != nil {
			log.WithError(err).Error("Failed to initialize tracing")
			os.Exit(1)
		}
	}

	health := monitoring.NewHealthManager(serviceName, serviceVersion)
	health.RegisterChecker("ledger_store", monitoring.NewStoreHealthChecker(store, cfg.Storage.Backend))

	sink, err := openSink(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to connect notification sink")
		os.Exit(1)
	}
	busOpts := []events.Option{events.WithMetrics(metrics)}
	if sink != nil {
		busOpts = append(busOpts, events.WithSink(sink, cfg.Events.SinkBuffer))
		if pinger, ok := sink.(monitoring.Pinger); ok {
			health.RegisterChecker("notification_sink", monitoring.NewStoreHealthChecker(pinger, sink.Name()))
		}
	}
	bus := events.NewBus(log, busOpts...)

	engine := ledger.NewService(store, log,
		ledger.WithPublisher(bus),
		ledger.WithMetrics(metrics),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = engine.Bootstrap(ctx, cfg.Ledger.AdminID)
	cancel()
	if err != nil {
		log.WithError(err).Error("Failed to initialize ledger administrator")
		os.Exit(1)
	}

	stats, err := engine.GetStats(context.Background())
	if err == nil {
		metrics.SetEmergencyMode(stats.EmergencyActive)
	}

	gatewayService := gateway.NewService(gatewayConfig, engine, log,
		gateway.WithMetrics(metrics),
		gateway.WithTracing(tracing),
		gateway.WithHealth(health),
	)

	// Start the server in a goroutine
	go func() {
		if err := gatewayService.Start(); err != nil {
			log.WithError(err).Error("Failed to start server")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.WithComponent("main").Info("Shutting down access API")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gatewayService.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shutdown server gracefully")
	}
	if err := bus.Close(); err != nil {
		log.WithError(err).Error("Failed to close notification bus")
	}
	if tracing != nil {
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Failed to flush traces")
		}
	}

	log.WithComponent("main").Info("Access API stopped")
}

// openStore selects the configured persistence backend
func openStore(cfg *config.Config, log *logger.Logger) (repository.LedgerStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := database.NewConnection(&cfg.Database, log)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.CreateSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		return repository.NewPostgresStore(db, log), nil
	default:
		return repository.NewMemoryStore(), nil
	}
}

// openSink connects the configured external notification sink, if any
func openSink(cfg *config.Config) (events.Sink, error) {
	switch cfg.Events.Sink {
	case config.SinkKafka:
		return events.NewKafkaSink(cfg.Kafka), nil
	case config.SinkRedis:
		return events.NewRedisSink(cfg.Redis)
	default:
		return nil, nil
	}
}
