package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.bug.st/serial"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/anomaly"
	"github.com/septivank/sml-meter-logger/internal/config"
	"github.com/septivank/sml-meter-logger/internal/httpapi"
	"github.com/septivank/sml-meter-logger/internal/ingest"
	"github.com/septivank/sml-meter-logger/internal/latest"
	"github.com/septivank/sml-meter-logger/internal/mirror"
	"github.com/septivank/sml-meter-logger/internal/mq"
	"github.com/septivank/sml-meter-logger/internal/mqttpub"
	"github.com/septivank/sml-meter-logger/internal/serialport"
	"github.com/septivank/sml-meter-logger/internal/store"
)

const forwardersGroup = `group:"forwarders"`

// startOptions assembles the application run by the start command.
// Forwarders are only wired when they are configured.
func startOptions(cfg *config.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger),
		fx.Provide(
			ProvideStore,
			ProvideReadOnlyStore,
			ProvideCache,
			ProvideAnomalyDetector,
			ProvideSerialPort,
			ProvideLoop,
			ProvideHTTPServer,
		),
		forwarderOptions(cfg),
		fx.Invoke(startLoop),
	)
}

func forwarderOptions(cfg *config.Config) fx.Option {
	var opts []fx.Option

	if cfg.RabbitMQ.URL != "" {
		opts = append(opts, fx.Provide(
			ProvideMQConnection,
			fx.Annotate(ProvideMQPublisher, fx.As(new(ingest.Forwarder)), fx.ResultTags(forwardersGroup)),
		))
	}
	if cfg.MQTT.Broker != "" {
		opts = append(opts, fx.Provide(
			fx.Annotate(ProvideMQTTPublisher, fx.As(new(ingest.Forwarder)), fx.ResultTags(forwardersGroup)),
		))
	}
	if cfg.Mirror.DatabaseURL != "" {
		opts = append(opts, fx.Provide(
			ProvideMirrorPool,
			fx.Annotate(ProvideMirrorRepository, fx.As(new(ingest.Forwarder)), fx.ResultTags(forwardersGroup)),
		))
	}

	return fx.Options(opts...)
}

// ProvideStore opens the writer connection, creating the database on first use
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	s, err := store.Load(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Close()
		},
	})

	return s, nil
}

// ProvideReadOnlyStore opens the query connection used by the HTTP surface.
// It depends on the writer so the database exists before it is opened.
func ProvideReadOnlyStore(lc fx.Lifecycle, s *store.Store, logger *zap.Logger) (*store.ReadOnly, error) {
	ro, err := store.OpenReadOnly(s.Path(), logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ro.Close()
		},
	})

	return ro, nil
}

// ProvideCache creates the latest-reading cache
func ProvideCache() *latest.Cache {
	return latest.New()
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection, cfg.Anomaly.Window)
}

// ProvideSerialPort opens the serial port, closed on app stop
func ProvideSerialPort(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (serial.Port, error) {
	port, err := serialport.Open(serialport.Config{
		Name:        cfg.Serial.Port,
		BaudRate:    cfg.Serial.BaudRate,
		ReadTimeout: cfg.Serial.ReadTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return port.Close()
		},
	})

	return port, nil
}

type loopParams struct {
	fx.In

	Port       serial.Port
	Store      *store.Store
	Cache      *latest.Cache
	Detector   *anomaly.Detector
	Logger     *zap.Logger
	Forwarders []ingest.Forwarder `group:"forwarders"`
}

// ProvideLoop creates the ingestion loop over the serial port
func ProvideLoop(p loopParams) *ingest.Loop {
	return ingest.NewLoop(p.Port, p.Store, p.Cache, p.Detector, p.Logger, p.Forwarders...)
}

// ProvideHTTPServer creates the HTTP surface, listening between start and stop
func ProvideHTTPServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	cache *latest.Cache,
	ro *store.ReadOnly,
	loop *ingest.Loop,
	logger *zap.Logger,
) (*httpapi.Server, error) {
	srv, err := httpapi.New(httpapi.Deps{
		Addr:     cfg.HTTP.Addr(),
		Logger:   logger,
		Latest:   cache,
		Database: ro,
		Stats:    loop,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop: func(ctx context.Context) error {
			return srv.Close()
		},
	})

	return srv, nil
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideMQPublisher creates the RabbitMQ forwarder
func ProvideMQPublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideMQTTPublisher creates the MQTT forwarder
func ProvideMQTTPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*mqttpub.Publisher, error) {
	publisher, err := mqttpub.Connect(mqttpub.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			publisher.Close()
			return nil
		},
	})

	return publisher, nil
}

// ProvideMirrorPool creates a new PostgreSQL pool for the mirror
func ProvideMirrorPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return mirror.NewPool(lc, logger, cfg.Mirror.DatabaseURL)
}

// ProvideMirrorRepository creates the mirror forwarder and ensures its table
// once the pool is reachable
func ProvideMirrorRepository(lc fx.Lifecycle, pool *pgxpool.Pool, logger *zap.Logger) *mirror.Repository {
	repo := mirror.NewRepository(pool, logger)

	lc.Append(fx.Hook{
		OnStart: repo.EnsureSchema,
	})

	return repo
}

func fxLogger(l *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: l.Named("fx")}
}

// startLoop runs the ingestion loop between start and stop. A loop failure
// shuts the application down with exit code 1.
func startLoop(lc fx.Lifecycle, loop *ingest.Loop, _ *httpapi.Server, shutdowner fx.Shutdowner, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := loop.Run(ctx); err != nil {
					logger.Error("ingestion loop failed", zap.Error(err))
					if err := shutdowner.Shutdown(fx.ExitCode(1)); err != nil {
						logger.Error("failed to request shutdown", zap.Error(err))
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				logger.Info("worker stopped gracefully")
			case <-stopCtx.Done():
				logger.Warn("ingestion loop did not stop in time")
			}
			return nil
		},
	})
}
