package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/directory"
	"chat-core/internal/events"
	chatgrpc "chat-core/internal/grpc"
	"chat-core/internal/handlers"
	"chat-core/internal/logging"
	"chat-core/internal/media"
	"chat-core/internal/middleware"
	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/policy"
	"chat-core/internal/rabbitmq"
	"chat-core/internal/repositories"
	"chat-core/internal/services"
	"chat-core/internal/ws"
)

const ServiceName = "chat-core"

const readinessInterval = 15 * time.Second

// Core provides the domain graph: tenant databases, collaborators, the
// event emitter and the services. It starts no listeners.
func Core(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			provideLogger,
			provideRegistry,
			provideDirectory,
			provideAssignments,
			providePolicy,
			provideBlobStore,
			provideIngestor,
			providePublisher,
			provideEmitter,
			provideDeps,
			services.NewConversationService,
			services.NewMessageService,
			services.NewPresenceService,
			services.NewContactsService,
		),
		fx.Invoke(registerCoreLifecycle),
	)
}

// Module is the full service: Core plus the HTTP, websocket and gRPC
// transports and the presence sweeper.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		Core(cfg),
		fx.Provide(
			provideHub,
			provideAuthenticator,
			provideRouter,
			provideHTTPServer,
			provideGRPCServer,
		),
		fx.Invoke(registerServerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(ServiceName, cfg.Environment, cfg.LogLevel)
}

func provideRegistry(cfg *config.Config, log *zap.Logger) (*db.Registry, error) {
	dsns, err := cfg.Tenants()
	if err != nil {
		return nil, err
	}
	return db.NewRegistry(cfg.DBDriver, dsns, true, log), nil
}

func provideDirectory(cfg *config.Config) *directory.SQLDirectory {
	return directory.NewSQLDirectory(cfg.DirectoryCacheTTL)
}

func provideAssignments(cfg *config.Config, sqlDir *directory.SQLDirectory, log *zap.Logger) (directory.AssignmentLookup, error) {
	if cfg.AssignmentSource == "http" {
		return directory.NewRemoteAssignments(cfg.AssignmentURL, cfg.LookupTimeout, log)
	}
	return sqlDir, nil
}

func providePolicy(cfg *config.Config, assignments directory.AssignmentLookup) *policy.Policy {
	return policy.New(cfg.PrivilegedRoles, assignments, cfg.LookupTimeout)
}

func provideBlobStore(cfg *config.Config, log *zap.Logger) (media.BlobStore, error) {
	if cfg.BlobBackend == "s3" {
		return media.NewS3Store(cfg.S3, log)
	}
	return media.NewLocalStore(cfg.BlobDir, cfg.PublicBaseURL)
}

func provideIngestor(cfg *config.Config, store media.BlobStore, log *zap.Logger) *media.Ingestor {
	return media.NewIngestor(store, cfg.BlobTimeout, log)
}

func providePublisher(cfg *config.Config, log *zap.Logger) rabbitmq.Publisher {
	pub := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	log.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(pub)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(pub)),
	)
	return pub
}

func provideEmitter(cfg *config.Config, pub rabbitmq.Publisher, log *zap.Logger) *events.Emitter {
	return events.NewEmitter(pub, ServiceName, cfg.Environment, log)
}

func provideDeps(
	sqlDir *directory.SQLDirectory,
	pol *policy.Policy,
	ingestor *media.Ingestor,
	emitter *events.Emitter,
	log *zap.Logger,
) services.Deps {
	return services.Deps{
		Conversations: repositories.NewConversationRepo(),
		Messages:      repositories.NewMessageRepo(),
		Presence:      repositories.NewPresenceRepo(),
		Directory:     sqlDir,
		Policy:        pol,
		Media:         ingestor,
		Events:        emitter,
		Log:           log,
	}
}

type coreParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Registry  *db.Registry
	Publisher rabbitmq.Publisher
	Log       *zap.Logger
}

func registerCoreLifecycle(p coreParams) {
	var shutdownTracing func(context.Context) error
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			shutdown, err := observability.InitTracing(ctx, ServiceName, p.Config.Environment, p.Config.OTLPEndpoint)
			if err != nil {
				return err
			}
			shutdownTracing = shutdown
			return nil
		},
		OnStop: func(ctx context.Context) error {
			var errs []error
			if err := p.Publisher.Close(); err != nil {
				errs = append(errs, err)
			}
			if err := p.Registry.Close(); err != nil {
				errs = append(errs, err)
			}
			if shutdownTracing != nil {
				if err := shutdownTracing(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			_ = p.Log.Sync()
			return errors.Join(errs...)
		},
	})
}

// tenantSettings resolves privacy settings by tenant name for the hub.
type tenantSettings struct {
	registry *db.Registry
	presence *services.PresenceService
}

func (s tenantSettings) Settings(ctx context.Context, tenant string, p models.Participant) (models.UserSettings, error) {
	h, err := s.registry.Get(ctx, tenant)
	if err != nil {
		return models.UserSettings{}, err
	}
	return s.presence.Settings(ctx, h, p)
}

func provideHub(registry *db.Registry, presence *services.PresenceService, emitter *events.Emitter, log *zap.Logger) *ws.Hub {
	hub := ws.NewHub(tenantSettings{registry: registry, presence: presence}, log)
	emitter.AddSink(hub)
	return hub
}

func provideAuthenticator(cfg *config.Config, log *zap.Logger) (*middleware.Authenticator, error) {
	return middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTJWKSURL, log)
}

type routerParams struct {
	fx.In

	Config        *config.Config
	Registry      *db.Registry
	Auth          *middleware.Authenticator
	Hub           *ws.Hub
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Presence      *services.PresenceService
	Contacts      *services.ContactsService
	Blobs         media.BlobStore
	Emitter       *events.Emitter
	Log           *zap.Logger
}

func provideRouter(p routerParams) http.Handler {
	deps := handlers.RouterDeps{
		Service:       ServiceName,
		Conversations: p.Conversations,
		Messages:      p.Messages,
		Presence:      p.Presence,
		Contacts:      p.Contacts,
		Auth:          middleware.AuthMiddleware(p.Auth),
		Tenant:        middleware.TenantMiddleware(p.Registry, p.Log),
		WebSocket:     ws.NewHandler(p.Hub, p.Presence, p.Log).Handle,
		Events:        p.Emitter,
		Debug:         !p.Config.IsProduction(),
	}
	if local, ok := p.Blobs.(*media.LocalStore); ok {
		deps.Files = local
	}
	return handlers.NewRouter(deps)
}

func provideHTTPServer(cfg *config.Config, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func provideGRPCServer(cfg *config.Config, log *zap.Logger) (*chatgrpc.Server, error) {
	return chatgrpc.NewServer(":"+cfg.GRPCPort, log)
}

type serverParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Registry  *db.Registry
	Presence  *services.PresenceService
	HTTP      *http.Server
	GRPC      *chatgrpc.Server
	Hub       *ws.Hub
	Auth      *middleware.Authenticator
	Log       *zap.Logger
}

func registerServerLifecycle(p serverParams) {
	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				p.Log.Info("HTTP server starting", zap.String("addr", p.HTTP.Addr))
				if err := p.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Log.Error("HTTP server error", zap.Error(err))
				}
			}()
			go func() {
				if err := p.GRPC.Start(); err != nil {
					p.Log.Error("gRPC server error", zap.Error(err))
				}
			}()
			go p.GRPC.Watch(ctx, readinessInterval, func(ctx context.Context) error {
				return p.Registry.Each(ctx, func(h db.Handle) error {
					return h.DB.PingContext(ctx)
				})
			})
			go RunSweeper(ctx, p.Registry, p.Presence, p.Config.PresenceSweepInterval, p.Config.PresenceStaleAfter, p.Log)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			p.GRPC.Stop(stopCtx)
			p.Hub.Close()
			p.Auth.Close()
			return p.HTTP.Shutdown(stopCtx)
		},
	})
}

// SweepAll marks stale accounts offline in every tenant and returns how many
// were changed.
func SweepAll(ctx context.Context, registry *db.Registry, presence services.Presences, staleAfter time.Duration) (int, error) {
	total := 0
	err := registry.Each(ctx, func(h db.Handle) error {
		n, err := presence.Sweep(ctx, h, staleAfter)
		total += n
		return err
	})
	return total, err
}

// RunSweeper calls SweepAll every interval until ctx is done.
func RunSweeper(ctx context.Context, registry *db.Registry, presence services.Presences, interval, staleAfter time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := SweepAll(ctx, registry, presence, staleAfter); err != nil && ctx.Err() == nil {
				log.Warn("presence sweep failed", zap.Error(err))
			}
		}
	}
}
