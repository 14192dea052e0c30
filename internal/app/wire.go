package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/evdms/evdms/internal/auth"
	"github.com/evdms/evdms/internal/finance"
	"github.com/evdms/evdms/internal/identity"
	"github.com/evdms/evdms/internal/ledger"
	"github.com/evdms/evdms/internal/observability"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/sales/orders"
	"github.com/evdms/evdms/internal/sales/quotations"
	"github.com/evdms/evdms/internal/session"
	"github.com/evdms/evdms/internal/shared"
	"github.com/evdms/evdms/jobs"
)

// Deps holds the infrastructure clients opened by a binary. Each may be nil
// when no configured driver needs it.
type Deps struct {
	Pool  *pgxpool.Pool
	Redis redis.UniversalClient
	// Inspector backs the jobs health endpoint. Optional.
	Inspector *asynq.Inspector
}

// Components is the wired application graph.
type Components struct {
	Metrics    *observability.Metrics
	Routes     *rbac.RouteTable
	Sessions   *session.Manager
	Identity   *identity.Local
	Ledger     *ledger.Service
	Orders     *orders.Service
	Quotations *quotations.Service
	Router     http.Handler
}

// Close releases the session stores.
func (c *Components) Close() {
	if c != nil && c.Sessions != nil {
		c.Sessions.Close()
	}
}

// Build selects the adapters named by cfg and wires services, handlers and
// the router.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, deps Deps) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NeedsPostgres() && deps.Pool == nil {
		return nil, fmt.Errorf("%w: postgres driver selected without a pool", shared.ErrConfiguration)
	}
	if cfg.NeedsRedis() && deps.Redis == nil {
		return nil, fmt.Errorf("%w: redis driver selected without a client", shared.ErrConfiguration)
	}

	routes, err := loadRoutes(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics()

	users := userStore(cfg, deps)
	created, err := identity.EnsureAdmin(ctx, users, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("bootstrap admin created", slog.String("email", cfg.BootstrapAdminEmail))
	}
	signer, err := identity.NewSigner(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	if err != nil {
		return nil, err
	}
	provider := identity.NewLocal(users, signer, logger)

	sessions := session.NewManager(sessionConfig(cfg, deps, provider, logger))

	debts := ledger.NewService(ledgerStore(cfg, deps), logger, metrics)
	orderRepo, quotationRepo := salesRepositories(cfg, deps)
	orderService := orders.NewService(orderRepo, debts, logger, metrics)
	quotationService := quotations.NewService(quotationRepo, logger, metrics)

	var jobsHandler *jobs.Handler
	if deps.Inspector != nil {
		jobsHandler = jobs.NewHandler(deps.Inspector, logger)
	}

	router := NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		Sessions:          sessions,
		Routes:            routes,
		Metrics:           metrics,
		RateLimit:         cfg.RateLimitPerMinute,
		AuthHandler:       auth.NewHandler(logger, provider, routes, rbac.DefaultMenu()),
		OrdersHandler:     orders.NewHandler(logger, orderService),
		QuotationsHandler: quotations.NewHandler(logger, quotationService),
		FinanceHandler:    finance.NewHandler(logger, debts, metrics),
		JobsHandler:       jobsHandler,
	})

	return &Components{
		Metrics:    metrics,
		Routes:     routes,
		Sessions:   sessions,
		Identity:   provider,
		Ledger:     debts,
		Orders:     orderService,
		Quotations: quotationService,
		Router:     router,
	}, nil
}

func loadRoutes(path string) (*rbac.RouteTable, error) {
	if path == "" {
		return rbac.DefaultRouteTable()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open route table: %v", shared.ErrConfiguration, err)
	}
	defer f.Close()
	return rbac.LoadRouteTable(f)
}

func userStore(cfg *Config, deps Deps) identity.Store {
	if cfg.StorageDriver == "postgres" {
		return identity.NewPGRepository(deps.Pool)
	}
	return identity.NewMemoryRepository()
}

func sessionConfig(cfg *Config, deps Deps, remote session.Remote, logger *slog.Logger) session.ManagerConfig {
	mc := session.ManagerConfig{
		Remote:       remote,
		TokenTTL:     cfg.SessionTokenTTL,
		CookieTTL:    cfg.SessionCookieTTL,
		AuthCookie:   cfg.AuthCookieName,
		DeviceCookie: cfg.DeviceCookieName,
		Secure:       cfg.CookieSecure || cfg.IsProduction(),
		Logger:       logger,
	}
	if cfg.SessionDriver == "redis" {
		mc.Storage = func(device string) session.Storage {
			return session.NewRedisStorage(deps.Redis, device, cfg.SessionCookieTTL)
		}
		mc.Broadcaster = func(device string) session.Broadcaster {
			return session.NewRedisBroadcaster(deps.Redis, device, logger)
		}
		return mc
	}
	// One store per device lives in this process, so nothing needs a bus.
	mc.Storage = func(string) session.Storage { return session.NewMemoryStorage() }
	return mc
}

func ledgerStore(cfg *Config, deps Deps) ledger.Store {
	switch cfg.LedgerDriver {
	case "redis":
		return ledger.NewRedisStore(deps.Redis)
	case "postgres":
		return ledger.NewPGStore(deps.Pool)
	default:
		return ledger.NewMemoryStore()
	}
}

func salesRepositories(cfg *Config, deps Deps) (orders.Repository, quotations.Repository) {
	if cfg.StorageDriver == "postgres" {
		return orders.NewPGRepository(deps.Pool), quotations.NewPGRepository(deps.Pool)
	}
	return orders.NewMemoryRepository(), quotations.NewMemoryRepository()
}
