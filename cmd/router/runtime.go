package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/multibroker/internal/app/broker"
	"github.com/coachpo/multibroker/internal/app/dispatch"
	"github.com/coachpo/multibroker/internal/app/resolver"
	"github.com/coachpo/multibroker/internal/app/router"
	"github.com/coachpo/multibroker/internal/app/session"
	"github.com/coachpo/multibroker/internal/app/sizing"
	"github.com/coachpo/multibroker/internal/domain/directory"
	"github.com/coachpo/multibroker/internal/infra/adapters"
	"github.com/coachpo/multibroker/internal/infra/config"
	"github.com/coachpo/multibroker/internal/infra/directory/file"
	"github.com/coachpo/multibroker/internal/infra/persistence"
	"github.com/coachpo/multibroker/internal/infra/persistence/migrations"
	"github.com/coachpo/multibroker/internal/infra/persistence/postgres"
	httpserver "github.com/coachpo/multibroker/internal/infra/server/http"
	"github.com/coachpo/multibroker/internal/infra/symbols"
	"github.com/coachpo/multibroker/internal/infra/telemetry"
)

const (
	meterName                = "github.com/coachpo/multibroker"
	controlReadHeaderTimeout = 5 * time.Second
	dbPoolName               = "directory"
)

// runtime holds the collaborators built from one AppConfig.
type runtime struct {
	cfg       config.AppConfig
	logger    *log.Logger
	telemetry *telemetry.Provider
	pool      *pgxpool.Pool
	symbols   *symbols.Store
	adapters  *broker.Set
	service   *router.Service
}

type directories struct {
	accounts directory.AccountDirectory
	groups   directory.GroupDirectory
}

func buildRuntime(ctx context.Context, cfg config.AppConfig, logger *log.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.close(context.Background())
		}
	}()

	provider, err := initTelemetry(ctx, logger, cfg.Environment, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	rt.telemetry = provider
	meter := provider.Meter(meterName)

	dispatchMetrics, err := telemetry.NewDispatchMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("dispatch metrics: %w", err)
	}
	sessionMetrics, err := telemetry.NewSessionMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}
	symbolMetrics, err := telemetry.NewSymbolMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("symbol metrics: %w", err)
	}

	registry := broker.NewRegistry()
	adapters.RegisterAll(registry)
	set, err := registry.Build(ctx, cfg.Brokers, logger)
	if err != nil {
		return nil, fmt.Errorf("build brokers: %w", err)
	}
	rt.adapters = set
	logger.Printf("brokers ready: %v", set.Names())

	dirs, err := rt.openDirectory(ctx)
	if err != nil {
		return nil, err
	}

	rt.symbols, err = symbols.Open(cfg.Symbols.Path, symbols.Options{Metrics: symbolMetrics, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open symbol master: %w", err)
	}

	var sizer sizing.Sizer
	if cfg.Sizing.Script != "" {
		script, err := sizing.LoadScript(cfg.Sizing.Script)
		if err != nil {
			return nil, fmt.Errorf("load sizing script: %w", err)
		}
		sizer = script
		logger.Printf("auto sizing script loaded: %s", cfg.Sizing.Script)
	}

	sessions := session.NewStore(set, session.Options{
		SharedSessionBrokers: cfg.Dispatch.SharedSessionBrokers,
		Metrics:              sessionMetrics,
		Logger:               logger,
	})
	engine := dispatch.NewEngine(sessions, dirs.accounts, dispatch.Options{
		MaxWorkers:  cfg.Dispatch.MaxWorkers,
		UnitTimeout: cfg.Dispatch.UnitTimeout,
		Metrics:     dispatchMetrics,
		Logger:      logger,
	})
	rt.service = router.New(router.Deps{
		Accounts:    dirs.accounts,
		Resolver:    resolver.New(dirs.accounts, dirs.groups, rt.symbols, set, sizer),
		Engine:      engine,
		Sessions:    sessions,
		Adapters:    set,
		Lots:        rt.symbols,
		ListWorkers: cfg.Dispatch.ListWorkers,
		Logger:      logger,
	})
	ok = true
	return rt, nil
}

func (rt *runtime) openDirectory(ctx context.Context) (directories, error) {
	switch rt.cfg.Directory.Source {
	case config.DirectoryPostgres:
		pool, err := connectDatabase(ctx, rt.cfg.Database, rt.logger)
		if err != nil {
			return directories{}, err
		}
		rt.pool = pool
		store := postgres.New(pool).Accounts()
		rt.logger.Printf("account directory: postgres")
		return directories{accounts: store, groups: store}, nil
	default:
		mem, err := file.Load(rt.cfg.Directory.Path, rt.logger)
		if err != nil {
			return directories{}, fmt.Errorf("load account directory: %w", err)
		}
		accounts, groups := mem.Snapshot()
		rt.logger.Printf("account directory: path=%s accounts=%d groups=%d", rt.cfg.Directory.Path, len(accounts), len(groups))
		return directories{accounts: mem, groups: mem}, nil
	}
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (*pgxpool.Pool, error) {
	if cfg.RunMigrations {
		if err := migrations.Apply(ctx, cfg.DSN, "", logger); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	pool, err := persistence.Connect(ctx, cfg.DSN, persistence.PoolOptions{
		MaxConns:          cfg.MaxConns,
		MinConns:          cfg.MinConns,
		MaxConnLifetime:   cfg.MaxConnLifetime,
		MaxConnIdleTime:   cfg.MaxConnIdleTime,
		HealthCheckPeriod: cfg.HealthCheckPeriod,
	})
	if err != nil {
		return nil, err
	}
	if err := postgres.ObservePoolMetrics(pool, dbPoolName); err != nil {
		logger.Printf("database pool metrics disabled: %v", err)
	}
	return pool, nil
}

func (rt *runtime) refreshOptions() symbols.RefreshOptions {
	return symbols.RefreshOptions{
		URL:        rt.cfg.Symbols.SourceURL,
		MaxRetries: rt.cfg.Symbols.MaxRetries,
	}
}

// refreshSymbols bounds one symbol master refresh by the configured timeout.
func (rt *runtime) refreshSymbols(ctx context.Context) (int, error) {
	if rt.cfg.Symbols.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.Symbols.RefreshTimeout)
		defer cancel()
	}
	return rt.symbols.Refresh(ctx, rt.refreshOptions())
}

func (rt *runtime) handler() http.Handler {
	return httpserver.NewHandler(httpserver.Options{
		Router:  rt.service,
		Symbols: rt.symbols,
		Refresh: rt.refreshSymbols,
		Logger:  rt.logger,
	})
}

func (rt *runtime) apiServer() *http.Server {
	return &http.Server{
		Addr:              rt.cfg.APIServer.Addr,
		Handler:           rt.handler(),
		ReadHeaderTimeout: controlReadHeaderTimeout,
	}
}

func (rt *runtime) close(ctx context.Context) error {
	var errList []error
	if rt.symbols != nil {
		if err := rt.symbols.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close symbol master: %w", err))
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
		telemetryCfg.Enabled = true
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = telemetryCfg.OTLPInsecure || cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled && telemetryCfg.EnableMetrics {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}
