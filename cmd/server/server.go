package main

import (
	"context"
	"net/http"

	"github.com/septivank/medimind-backend/internal/anomaly"
	"github.com/septivank/medimind-backend/internal/config"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/handler"
	"github.com/septivank/medimind-backend/internal/identity"
	"github.com/septivank/medimind-backend/internal/mq"
	"github.com/septivank/medimind-backend/internal/realtime"
	"github.com/septivank/medimind-backend/internal/repository"
	"github.com/septivank/medimind-backend/internal/service"
	"github.com/septivank/medimind-backend/internal/telemetry"
	transport "github.com/septivank/medimind-backend/internal/transport/http"
	"github.com/septivank/medimind-backend/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startIngestion(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.ProcessorService,
) error {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	wildcard := telemetry.ToRoutingKey(telemetry.EventWildcard(cfg.RabbitMQ.TopicNamespace))
	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Exchange:         cfg.RabbitMQ.Exchange,
		Queue:            cfg.RabbitMQ.IngestQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		BindingKeys:      []string{wildcard},
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting ingestion consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.String("binding", wildcard),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("ingestion stopped gracefully")
			return nil
		},
	})

	return nil
}

func startHTTPServer(lc fx.Lifecycle, router http.Handler, cfg *config.Config, logger *zap.Logger) {
	transport.NewServer(lc, router, cfg.HTTP.Addr, cfg.HTTP.ShutdownTimeout, logger)
}

// ProvideStore creates the event and principal store selected by STORE_DRIVER
func ProvideStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Store, error) {
	if cfg.Database.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	pool, err := db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.RunMigrations)
	if err != nil {
		return nil, err
	}
	return repository.NewRepository(pool), nil
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.HTTP.DefaultLimit, cfg.HTTP.MaxLimit)
}

// ProvideMQConnection creates the ingestion and alert connection and ties it
// to the application lifecycle
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) *mq.Connection {
	return newLifecycleConnection(lc, logger, cfg.RabbitMQ.URL, "backend", cfg)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) *mq.Publisher {
	publisher := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.PublishTimeout, logger)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher
}

// ProvideProcessorService creates a new processor service instance
func ProvideProcessorService(
	store repository.Store,
	detector *anomaly.Detector,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(store, detector, cfg.RabbitMQ.TopicNamespace, cfg.Anomaly.HistorySize, logger)
}

// ProvideAlertService creates a new alert service instance
func ProvideAlertService(publisher *mq.Publisher, store repository.Store, cfg *config.Config, logger *zap.Logger) *service.AlertService {
	return service.NewAlertService(publisher, store, cfg.RabbitMQ.TopicNamespace, logger)
}

// ProvideStatsService creates a new stats service instance
func ProvideStatsService(store repository.Store) *service.StatsService {
	return service.NewStatsService(store)
}

// ProvideIdentityGate creates the token issuer and verifier
func ProvideIdentityGate(store repository.Store, cfg *config.Config) *identity.Gate {
	return identity.NewGate(store, cfg.Auth.JWTSecret,
		identity.WithTokenTTL(cfg.Auth.TokenTTL),
		identity.WithBcryptCost(cfg.Auth.BcryptCost),
	)
}

// ProvideRealtimeHub creates the realtime bridge on its own connection. It
// returns nil when REALTIME_ENABLED is false.
func ProvideRealtimeHub(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*realtime.Hub, error) {
	if !cfg.Realtime.Enabled {
		return nil, nil
	}

	rtLogger := logger.Named("realtime")
	conn := newLifecycleConnection(lc, rtLogger, cfg.Realtime.URL, "realtime", cfg)

	bridge, err := realtime.NewBridge(conn, cfg.RabbitMQ.Exchange, rtLogger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return bridge.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			return bridge.Close()
		},
	})

	return realtime.NewHub(bridge, cfg.RabbitMQ.TopicNamespace, rtLogger), nil
}

// ProvideRouter builds the HTTP API
func ProvideRouter(
	gate *identity.Gate,
	stats *service.StatsService,
	alerts *service.AlertService,
	hub *realtime.Hub,
	conn *mq.Connection,
	v *validator.Validator,
	logger *zap.Logger,
) http.Handler {
	httpLogger := logger.Named("http")

	var ws *handler.WebSocketHandler
	if hub != nil {
		ws = handler.NewWebSocketHandler(hub, httpLogger)
	}

	return transport.NewRouter(transport.RouterConfig{
		AuthHandler:      handler.NewAuthHandler(gate, v, httpLogger),
		DeviceHandler:    handler.NewDeviceHandler(stats, alerts, v, httpLogger),
		WebSocketHandler: ws,
		Verifier:         gate,
		BrokerConnected:  conn.IsConnected,
		Logger:           httpLogger,
	})
}

func newLifecycleConnection(lc fx.Lifecycle, logger *zap.Logger, url, name string, cfg *config.Config) *mq.Connection {
	conn := mq.NewConnection(url, logger,
		mq.WithName(name),
		mq.WithReconnectDelay(cfg.RabbitMQ.ReconnectDelay),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return conn.Connect(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return conn.Close()
		},
	})

	return conn
}
