package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/MrSnakeDoc/noteparser/internal/clientmanager"
	"github.com/MrSnakeDoc/noteparser/internal/config"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver/deps"
	"github.com/MrSnakeDoc/noteparser/internal/httpserver/mw"
	"github.com/MrSnakeDoc/noteparser/internal/integration"
	"github.com/MrSnakeDoc/noteparser/internal/logger"
	"github.com/MrSnakeDoc/noteparser/internal/orchestrator"
	"github.com/MrSnakeDoc/noteparser/internal/redis"
	"github.com/MrSnakeDoc/noteparser/internal/scheduler"
	"github.com/MrSnakeDoc/noteparser/internal/service"
	redisstore "github.com/MrSnakeDoc/noteparser/internal/store/redis"
	"github.com/MrSnakeDoc/noteparser/internal/version"
)

// snapshotWriteTimeout bounds one health snapshot write to Redis.
const snapshotWriteTimeout = 2 * time.Second

// App owns every long-lived component. Build it with New, then either Run the
// HTTP server or use Integration/Clients directly and Close when done.
type App struct {
	cfg         *config.Config
	logger      logger.Logger
	redisClient *goredis.Client
	store       *redisstore.Store
	orch        *orchestrator.Orchestrator
	integ       *integration.Integration
	clients     *clientmanager.Manager
	prober      *scheduler.ClientProber
	collector   *scheduler.SnapshotCollector
}

// New wires the components. Redis is only connected when an address is
// configured and a connection failure is fatal.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: loggerClient,
		orch:   orchestrator.New(loggerClient),
	}

	var serviceOpts []service.Option
	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		loggerClient.Info("Redis initialized successfully")

		a.redisClient = redisClient
		a.store = redisstore.NewStore(redisClient, cfg.RedisHealthTTL)
		a.collector = scheduler.NewSnapshotCollector(
			a.store,
			a.orch,
			loggerClient.Named("snapshots"),
			cfg.SnapshotGCInterval,
			scheduler.DefaultSnapshotThreshold,
		)
		serviceOpts = append(serviceOpts,
			service.WithHealthObserver(a.store.Observer(snapshotWriteTimeout, loggerClient)))
	} else {
		loggerClient.Info("redis address not configured, health snapshots disabled")
	}

	a.integ = integration.New(cfg.EnabledServices(), a.orch,
		integration.WithLogger(loggerClient),
		integration.WithServiceOptions(serviceOpts...),
	)

	clients, err := clientmanager.NewFromConfig(cfg, loggerClient)
	if err != nil {
		_ = a.closeRedis()
		return nil, fmt.Errorf("failed to create clients: %w", err)
	}
	a.clients = clients
	a.prober = scheduler.NewClientProber(clients, loggerClient.Named("probe"), cfg.ClientProbeInterval)

	return a, nil
}

func (a *App) Integration() *integration.Integration { return a.integ }

func (a *App) Clients() *clientmanager.Manager { return a.clients }

// Run starts the services, the background loops and the HTTP server, and
// blocks until ctx is cancelled or the server fails. It always shuts down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("🚀 Starting noteparser %s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("noteparser %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	if err := a.integ.Initialize(ctx); err != nil {
		return multierr.Append(fmt.Errorf("failed to initialize services: %w", err), a.Close(context.Background()))
	}

	a.prober.Start(ctx)
	a.logger.Info("client prober started",
		logger.Duration("interval", a.cfg.ClientProbeInterval))

	if a.collector != nil {
		a.collector.Start(ctx)
		a.logger.Info("snapshot collector started",
			logger.Duration("interval", a.cfg.SnapshotGCInterval))
	}

	server := httpserver.New(a.cfg, a.logger, a.deps())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	a.prober.Stop()
	if a.collector != nil {
		a.collector.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("failed to stop server: %w", err))
	}
	runErr = multierr.Append(runErr, a.Close(shutdownCtx))

	if runErr == nil {
		a.logger.Info("✅ noteparser stopped cleanly")
	}
	return runErr
}

// Close stops every managed service, closes the plain clients and Redis.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.integ.Initialized() {
		err = multierr.Append(err, a.integ.Shutdown(ctx))
	}
	err = multierr.Append(err, a.clients.CloseAll())
	return multierr.Append(err, a.closeRedis())
}

func (a *App) closeRedis() error {
	if a.redisClient == nil {
		return nil
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Warnf("failed to close redis: %v", err)
		return err
	}
	a.redisClient = nil
	a.logger.Info("✅ Redis closed cleanly")
	return nil
}

func (a *App) deps() deps.Deps {
	d := deps.Deps{
		Logger:       a.logger,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		AllowedCIDRS: a.cfg.AllowedCIDRS,
		TrustProxy:   a.cfg.TrustProxy,
		RateLimit: mw.RateLimitConfig{
			Burst:        a.cfg.RateBurst,
			RefillPerMin: a.cfg.RateRefillMin,
			MaxEntries:   10_000,
			TrustProxy:   a.cfg.TrustProxy,
		},
		Workflows:   a.integ,
		Health:      a.orch,
		Clients:     a.prober,
		RedisClient: a.redisClient,
	}
	// a nil *Store must not end up in a non-nil interface
	if a.store != nil {
		d.Snapshots = a.store
	}
	return d
}
