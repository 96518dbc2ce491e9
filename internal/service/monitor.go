package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/CJButlers/RXhale/common/database"
	commonmqtt "github.com/CJButlers/RXhale/common/mqtt"
	commonredis "github.com/CJButlers/RXhale/common/redis"
	"github.com/CJButlers/RXhale/internal/alerting"
	"github.com/CJButlers/RXhale/internal/config"
	"github.com/CJButlers/RXhale/internal/consumer"
	httpapi "github.com/CJButlers/RXhale/internal/http"
	"github.com/CJButlers/RXhale/internal/ingestion"
	"github.com/CJButlers/RXhale/internal/projection"
	"github.com/CJButlers/RXhale/internal/repository"
	"github.com/CJButlers/RXhale/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// MonitorService wires the store, ingestion, projection, alerting and the
// HTTP surface into one process.
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client

	store     store.DocumentStore
	ingest    *ingestion.Channel
	engine    *projection.Engine
	alertRepo *repository.AlertEventsRepository
	monitor   *alerting.Monitor
	consumer  *consumer.MQTTConsumer
	router    *httpapi.Router
	server    *http.Server
}

// NewMonitorService connects the configured backends and builds every layer.
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	s := &MonitorService{config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			s.Stop()
		}
	}()

	// 1. Store
	switch cfg.Store.Backend {
	case config.BackendMemory:
		s.store = store.NewMemoryStore()
	default:
		s.redisClient = commonredis.NewRedisClient(&cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
		err := commonredis.Ping(ctx, s.redisClient)
		cancel()
		if err != nil {
			return nil, err
		}
		s.store = store.NewRedisStore(s.redisClient, &store.RedisOptions{KeyPrefix: cfg.Store.KeyPrefix}, logger)
	}

	// 2. Ingestion and projection
	s.ingest = ingestion.NewChannel(s.store, cfg.Store.Timeout, logger)
	s.engine = projection.NewEngine(s.store, projection.Options{
		WindowSize:   cfg.Projection.WindowSize,
		Buffer:       cfg.Projection.Buffer,
		StoreTimeout: cfg.Store.Timeout,
	}, logger)

	// 3. Alerting
	var opts []alerting.MonitorOption
	if cfg.Alert.LogEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.alertRepo = repository.NewAlertEventsRepository(db, logger)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
		err = s.alertRepo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
		opts = append(opts, alerting.WithRecorder(s.alertRepo))
	}
	if cfg.Alert.WebhookURL != "" {
		opts = append(opts, alerting.WithNotifier(alerting.NewWebhookNotifier(cfg.Alert.WebhookURL, cfg.Store.Timeout, logger)))
	}
	if s.redisClient != nil {
		opts = append(opts, alerting.WithStream(s.redisClient, cfg.Alert.Stream))
	}
	s.monitor = alerting.NewMonitor(s.engine, alerting.NewAlertEventBuilder("rxhale-monitor"), logger, opts...)

	// 4. MQTT ingestion
	if cfg.Ingest.MQTTEnabled {
		client, err := commonmqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		s.mqttClient = client
		s.consumer = consumer.NewMQTTConsumer(cfg.Ingest.MQTTTopic, cfg.MQTT.QoS, client, s.ingest, logger)
	}

	// 5. HTTP
	var lister httpapi.AlertLister
	if s.alertRepo != nil {
		lister = s.alertRepo
	}
	s.router = httpapi.NewRouter(logger)
	s.router.RegisterPatientRoutes(httpapi.NewPatientHandler(s.store, s.ingest, s.engine, cfg.Store.Timeout, logger))
	s.router.RegisterAlertRoutes(httpapi.NewAlertHandler(lister, logger))
	s.router.RegisterLiveRoutes(httpapi.NewLiveHandler(s.engine, cfg.HTTP.AllowedOrigins, logger))
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return s, nil
}

// Handler returns the HTTP surface.
func (s *MonitorService) Handler() http.Handler {
	return s.router
}

// Start serves HTTP and runs the alert monitor and the MQTT consumer until
// ctx is cancelled or one of them fails.
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service",
		zap.String("addr", s.config.HTTP.Addr),
		zap.String("store_backend", s.config.Store.Backend),
		zap.Bool("alert_log", s.alertRepo != nil),
		zap.Bool("mqtt", s.consumer != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	// hijacked WebSocket connections are not tracked by Shutdown; their
	// request contexts end with the service instead
	s.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return s.monitor.Start(gctx)
	})
	if s.consumer != nil {
		g.Go(func() error {
			return s.consumer.Start(gctx)
		})
	}

	return g.Wait()
}

// Stop releases the backend connections.
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping monitor service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := commonredis.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	return nil
}
