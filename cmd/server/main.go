package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seu-repo/ocpp-csms/internal/adapter/cache"
	"github.com/seu-repo/ocpp-csms/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/ocpp-csms/internal/adapter/http/fiber/middleware"
	v201 "github.com/seu-repo/ocpp-csms/internal/adapter/ocpp/v201"
	"github.com/seu-repo/ocpp-csms/internal/adapter/queue"
	"github.com/seu-repo/ocpp-csms/internal/adapter/storage/influx"
	"github.com/seu-repo/ocpp-csms/internal/adapter/storage/postgres"
	"github.com/seu-repo/ocpp-csms/internal/adapter/vault"
	wsAdapter "github.com/seu-repo/ocpp-csms/internal/adapter/websocket"
	"github.com/seu-repo/ocpp-csms/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-csms/internal/service/device"
	"github.com/seu-repo/ocpp-csms/internal/service/transaction"
	"github.com/seu-repo/ocpp-csms/pkg/config"
)

const serviceName = "ocpp-csms"

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// 2. Initialize Logger
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	logger.Info("Starting OCPP central system",
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	// 3. Resolve secrets from Vault
	if cfg.Vault.Enabled {
		if err := applyVaultSecrets(cfg, logger); err != nil {
			logger.Fatal("Failed to resolve secrets", zap.Error(err))
		}
	}

	// 4. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(cfg.OpenTelemetry.ServiceName, cfg.App.Version, cfg.OpenTelemetry.Jaeger.Endpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	// 5. Initialize PostgreSQL Connection Pool
	db, err := postgres.NewConnection(cfg.Database.URL, postgres.Options{
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogQueries:      cfg.Database.LogQueries,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer postgres.Close(db)

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get underlying SQL DB", zap.Error(err))
	}

	// 6. Initialize Cache (Redis, local fallback)
	statusCache := cache.New(cfg.Redis.URL, logger)
	defer statusCache.Close()

	// 7. Initialize Message Queue
	messageQueue, err := queue.New(queue.Config{
		Driver:           cfg.Queue.Driver,
		NATSURL:          cfg.Queue.NATSURL,
		RabbitMQURL:      cfg.Queue.RabbitMQURL,
		KafkaBrokers:     cfg.Queue.Kafka.Brokers,
		KafkaTopicPrefix: cfg.Queue.Kafka.TopicPrefix,
		KafkaGroupID:     cfg.Queue.Kafka.GroupID,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to message queue", zap.Error(err))
	}
	defer messageQueue.Close()

	// 8. Initialize Energy Sink (InfluxDB, no-op fallback)
	energySink := influx.NewEnergySinkWithFallback(influx.Config{
		URL:    cfg.Influx.URL,
		Token:  cfg.Influx.Token,
		Org:    cfg.Influx.Org,
		Bucket: cfg.Influx.Bucket,
	}, logger)
	defer energySink.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 9. Initialize WebSocket Hub (dashboard feed)
	wsHub := wsAdapter.NewHub(logger)
	go wsHub.Run(ctx)

	// 10. Initialize Repositories and Services
	chargePointRepo := postgres.NewChargePointRepository(db, logger)
	transactionRepo := postgres.NewTransactionRepository(db, logger)

	deviceService := device.NewService(chargePointRepo, statusCache, messageQueue, wsHub, logger).
		WithSnapshotTTL(cfg.Cache.DeviceStatusTTL)
	transactionService := transaction.NewService(transactionRepo, energySink, messageQueue, transaction.BreakerConfig{
		MaxRequests:  cfg.CircuitBreaker.MaxRequests,
		Interval:     cfg.CircuitBreaker.Interval,
		Timeout:      cfg.CircuitBreaker.Timeout,
		MinRequests:  cfg.CircuitBreaker.MinRequests,
		FailureRatio: cfg.CircuitBreaker.FailureThreshold,
	}, logger)

	// 11. Initialize OCPP 2.0.1 Server
	ocppServer := v201.NewServer(ocppConfig(cfg.OCPP), deviceService, transactionService, logger)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.OCPP.Port)
		logger.Info("Starting OCPP WebSocket Server", zap.String("addr", addr))
		if err := ocppServer.Start(addr); err != nil {
			logger.Fatal("OCPP Server failed", zap.Error(err))
		}
	}()

	// 12. Initialize Fiber HTTP Server
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	if cfg.CORS.Enabled {
		app.Use(middleware.NewCORS(cfg.CORS))
	}
	app.Use(middleware.CircuitBreaker("http", cfg.CircuitBreaker, logger))

	health := handlers.NewHealthHandler(map[string]handlers.Check{
		"database": sqlDB.PingContext,
		"cache":    statusCache.Ping,
	})
	app.Get("/health/live", health.Live)
	app.Get("/health/ready", health.Ready)
	app.Get("/metrics", handlers.Metrics())

	v1 := app.Group("/api/v1")
	if cfg.JWT.Secret != "" {
		v1.Use(middleware.AuthRequired(cfg.JWT.Secret))
	} else {
		logger.Warn("jwt.secret not set, control plane API is unauthenticated")
	}

	chargerHandler := handlers.NewChargerHandler(ocppServer, deviceService, transactionService, logger)
	v1.Get("/chargers", chargerHandler.List)
	v1.Get("/chargers/:id", chargerHandler.Get)
	v1.Post("/chargers/:id/start", chargerHandler.Start)
	v1.Post("/chargers/:id/stop", chargerHandler.Stop)
	v1.Get("/chargers/:id/transactions", chargerHandler.Transactions)
	v1.Get("/chargers/:id/transactions/:txid", chargerHandler.ChargerTransaction)
	v1.Get("/transactions/:id", chargerHandler.Transaction)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", wsHub.Handler())

	// 13. Start Background Workers
	if err := startBackgroundWorkers(messageQueue, logger); err != nil {
		logger.Fatal("Failed to start background workers", zap.Error(err))
	}

	// 14. Start HTTP Server
	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 15. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.OCPP.ShutdownGrace+20*time.Second)
	defer cancel()

	if err := ocppServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("OCPP server shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}
	stop()

	logger.Info("Server exited gracefully")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// applyVaultSecrets replaces configured values with the secrets Vault holds
// for them. A reference that resolves to nothing keeps the local value.
func applyVaultSecrets(cfg *config.Config, logger *zap.Logger) error {
	sm, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token, cfg.Vault.Mount)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	values, err := sm.Overrides(ctx, map[string]string{
		"database.url": cfg.Vault.DatabaseURL,
		"jwt.secret":   cfg.Vault.JWTSecret,
		"influx.token": cfg.Vault.InfluxToken,
	})
	if err != nil {
		return err
	}

	targets := map[string]*string{
		"database.url": &cfg.Database.URL,
		"jwt.secret":   &cfg.JWT.Secret,
		"influx.token": &cfg.Influx.Token,
	}
	for key, value := range values {
		*targets[key] = value
		logger.Info("Secret loaded from Vault", zap.String("key", key))
	}
	return nil
}

func ocppConfig(c config.OCPPConfig) v201.Config {
	out := v201.DefaultConfig()
	out.PathPrefix = c.PathPrefix
	out.HeartbeatInterval = c.HeartbeatInterval
	out.LivenessWindow = c.LivenessWindow
	out.MaxMissedWindows = c.MaxMissedWindows
	out.PingInterval = c.PingInterval
	out.WriteTimeout = c.WriteTimeout
	out.CommandTimeout = c.CommandTimeout
	out.CollaboratorTimeout = c.CollaboratorTimeout
	out.ShutdownGrace = c.ShutdownGrace
	out.SendQueueSize = c.SendQueueSize
	out.ProtocolDebug = c.ProtocolDebug
	out.RegistryShards = c.RegistryShards
	out.CompletedHistory = c.CompletedHistory
	out.Security = &v201.SecurityConfig{
		AllowedOrigins:        c.AllowedOrigins,
		AllowedChargePointIDs: c.AllowedChargePoints,
		Subprotocols:          c.Subprotocols,
		RequireSubprotocol:    c.RequireSubprotocol,
		TLSEnabled:            c.Security.Enabled,
		TLSCertFile:           c.Security.TLSCert,
		TLSKeyFile:            c.Security.TLSKey,
		TLSClientCA:           c.Security.ClientCA,
		RequireClientCert:     c.Security.ClientAuth,
		MaxConnectionsPerIP:   c.MaxConnectionsPerIP,
	}
	return out
}

// startBackgroundWorkers subscribes to the events the collaborators publish.
func startBackgroundWorkers(mq queue.MessageQueue, logger *zap.Logger) error {
	logger.Info("Starting background workers")

	if err := mq.Subscribe(queue.SubjectTransactionCompleted, func(msg []byte) error {
		var ev queue.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			return err
		}
		logger.Info("Charging session completed",
			zap.String("charger_id", ev.ChargerID),
			zap.Time("occurred_at", ev.OccurredAt),
		)
		return nil
	}); err != nil {
		return err
	}

	return mq.Subscribe(queue.SubjectChargerStatus, func(msg []byte) error {
		var ev queue.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			return err
		}
		logger.Debug("Charger status event",
			zap.String("charger_id", ev.ChargerID),
			zap.String("type", ev.Type),
		)
		return nil
	})
}
