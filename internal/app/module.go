// Package app composes the service with fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"zenj-service/internal/config"
	"zenj-service/internal/conversation"
	"zenj-service/internal/db"
	"zenj-service/internal/directory"
	"zenj-service/internal/engine"
	grpcserver "zenj-service/internal/grpc"
	"zenj-service/internal/lock"
	"zenj-service/internal/logging"
	"zenj-service/internal/notifier"
	"zenj-service/internal/observability"
	"zenj-service/internal/rabbitmq"
	"zenj-service/internal/repositories"
	"zenj-service/internal/repositories/memory"
	"zenj-service/internal/responder"
	"zenj-service/internal/telemetry"
	"zenj-service/internal/ws"
)

// AuditRoutingKey is the topic audit envelopes are published under.
const AuditRoutingKey = "audit.events"

// Params holds what main resolves before the graph is built.
type Params struct {
	ConfigPath string
}

// Stores groups the persistence implementations chosen by configuration.
type Stores struct {
	Users    repositories.UserRepository
	Contacts repositories.ContactRepository
	Messages repositories.MessageRepository

	sql *sqlx.DB
}

// Module returns the fx module for the service, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Module("zenj",
			fx.Supply(p),
			fx.Provide(
				provideConfig,
				provideLogger,
				provideDataLock,
				provideStores,
				provideDirectory,
				provideLog,
				provideHub,
				providePublisher,
				provideNotifier,
				provideAuditEmitter,
				provideResponder,
				provideEngine,
				NewRouter,
				NewHTTPServer,
				NewGRPCServer,
			),
			fx.Invoke(initTracing, registerLifecycle),
		),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.LoadOptional(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Path, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment == "dev")
}

// provideDataLock guards a SQLite data directory against a second instance.
// Other drivers need no lock and get nil.
func provideDataLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if cfg.Database.Driver != db.DriverSQLite {
		return nil, nil
	}
	path := db.SQLitePath(cfg.Database.DSN)
	if path == "" {
		return nil, nil
	}
	l, err := lock.Acquire(path)
	if err != nil {
		return nil, err
	}
	logger.Info("database lock acquired", zap.String("database", path), zap.String("lock", l.Path()))
	return l, nil
}

func provideStores(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*Stores, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Info("store initialized", zap.String("driver", config.DriverMemory))
		store := memory.NewStore()
		return &Stores{Users: store, Contacts: store, Messages: store}, nil
	}

	conn, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("store initialized", zap.String("driver", cfg.Database.Driver))
	return &Stores{
		Users:    repositories.NewUserRepo(conn),
		Contacts: repositories.NewContactRepo(conn),
		Messages: repositories.NewMessageRepo(conn),
		sql:      conn,
	}, nil
}

func provideDirectory(s *Stores, logger *zap.Logger) *directory.Service {
	return directory.New(s.Users, s.Contacts, logger.Named("directory"))
}

// provideLog builds the conversation log and registers it as the directory's
// purger so group deletion cascades to the log.
func provideLog(s *Stores, dir *directory.Service, logger *zap.Logger) *conversation.Log {
	log := conversation.New(s.Messages, dir, logger.Named("conversation"))
	dir.SetPurger(log)
	return log
}

func provideHub(cfg *config.Config, logger *zap.Logger) *ws.Hub {
	hub := ws.NewHub(logger.Named("presence"))
	hub.SetQueueSize(cfg.Presence.QueueSize)
	return hub
}

func providePublisher(cfg *config.Config, logger *zap.Logger) rabbitmq.Publisher {
	pub := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger.Named("amqp"))
	observability.SetPublisher(pub)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(pub)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(pub)),
	)
	return pub
}

func provideNotifier(pub rabbitmq.Publisher, logger *zap.Logger) *notifier.Notifier {
	return notifier.New(pub, logger.Named("notifier"))
}

func provideAuditEmitter(pub rabbitmq.Publisher, cfg *config.Config, logger *zap.Logger) *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(pub, AuditRoutingKey, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, logger.Named("audit"))
}

// provideResponder dials the remote responder, or falls back to the local
// canned one when no address is configured.
func provideResponder(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (responder.Responder, error) {
	if cfg.Responder.Addr == "" {
		logger.Info("responder: using local canned replies")
		return responder.Canned{}, nil
	}
	conn, err := grpcserver.DialResponder(cfg.Responder.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial responder: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return conn.Close() },
	})
	logger.Info("responder: remote", zap.String("addr", cfg.Responder.Addr))
	return grpcserver.NewResponderClient(conn), nil
}

func provideEngine(cfg *config.Config, dir *directory.Service, log *conversation.Log, hub *ws.Hub, r responder.Responder, n *notifier.Notifier, logger *zap.Logger) *engine.Engine {
	return engine.New(dir, log, hub, r, n, engine.Config{
		ResponderTimeout: cfg.Responder.Timeout.Duration,
		HistoryLimit:     cfg.Responder.HistoryLimit,
	}, logger.Named("engine"))
}

// GRPCServer bundles the gRPC server with its health service.
type GRPCServer struct {
	Server *grpc.Server
	Health *health.Server
}

// NewGRPCServer serves health checks and the local canned responder.
func NewGRPCServer(logger *zap.Logger) *GRPCServer {
	srv, hs := grpcserver.NewServer(responder.Canned{}, logger.Named("grpc"))
	return &GRPCServer{Server: srv, Health: hs}
}

func initTracing(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) error {
	shutdown, err := telemetry.InitTracer(context.Background(), cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	if cfg.Telemetry.OTLPEndpoint == "" {
		logger.Info("tracing: no exporter endpoint, spans are not sampled")
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return nil
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *http.Server, gs *GRPCServer, eng *engine.Engine, stores *Stores, pub rabbitmq.Publisher, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen http: %w", err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", srv.Addr))

			if cfg.Server.GRPCPort != "" {
				gln, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
				if err != nil {
					return fmt.Errorf("listen grpc: %w", err)
				}
				go func() {
					if err := gs.Server.Serve(gln); err != nil {
						logger.Error("grpc server error", zap.Error(err))
					}
				}()
				logger.Info("grpc server listening", zap.String("port", cfg.Server.GRPCPort))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			gs.Health.Shutdown()
			gs.Server.GracefulStop()
			if err := eng.Wait(ctx); err != nil {
				logger.Warn("pending turns abandoned", zap.Error(err))
			}
			if err := pub.Close(); err != nil {
				logger.Warn("publisher close", zap.Error(err))
			}
			if stores.sql != nil {
				if err := stores.sql.Close(); err != nil {
					logger.Warn("db close", zap.Error(err))
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("service stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
