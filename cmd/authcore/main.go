// Command authcore runs the authentication and authorization service for the
// auction platform: account lifecycle, JWT sessions with refresh rotation,
// role-based permissions, and the audit trail.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/paddleraise/authcore/pkg/accounts"
	"github.com/paddleraise/authcore/pkg/audit"
	"github.com/paddleraise/authcore/pkg/cache"
	"github.com/paddleraise/authcore/pkg/config"
	"github.com/paddleraise/authcore/pkg/email"
	"github.com/paddleraise/authcore/pkg/httpapi"
	"github.com/paddleraise/authcore/pkg/observability"
	"github.com/paddleraise/authcore/pkg/password"
	"github.com/paddleraise/authcore/pkg/permission"
	"github.com/paddleraise/authcore/pkg/ratelimit"
	"github.com/paddleraise/authcore/pkg/session"
	"github.com/paddleraise/authcore/pkg/store"
	"github.com/paddleraise/authcore/pkg/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authcore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting authcore")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Persistent store
	db, err := store.Connect(cfg.Postgres.URL, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, cfg.Postgres.ConnLifetime)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	st := store.NewPostgres(db, cfg.Postgres.QueryTimeout, logger)

	// Cache store
	rdb, err := cache.Connect(cache.Config{
		URL:        cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("connecting to redis: %w", err)
	}
	cacheClient := cache.NewClient(rdb, cfg.Redis.OpTimeout, logger, metrics)

	tokens, err := token.NewService(token.Config{
		Secret:          []byte(cfg.Token.Secret),
		Issuer:          cfg.Token.Issuer,
		AccessLifetime:  cfg.Token.AccessLifetime,
		RefreshLifetime: cfg.Token.RefreshLifetime,
		ClockSkew:       cfg.Token.ClockSkew,
	}, nil)
	if err != nil {
		db.Close()
		rdb.Close()
		return fmt.Errorf("creating token service: %w", err)
	}

	auditLogger := audit.NewMultiLogger(
		audit.NewStoreLogger(st, logger),
		audit.NewSlogLogger(logger),
	)

	sessions := session.NewManager(st, cacheClient, tokens, nil, logger, metrics, auditLogger)
	resolver, err := permission.NewResolver(cacheClient, logger, metrics)
	if err != nil {
		db.Close()
		rdb.Close()
		return fmt.Errorf("creating permission resolver: %w", err)
	}

	limiter := ratelimit.NewLimiter(cacheClient, map[ratelimit.EndpointClass]ratelimit.Policy{
		ratelimit.ClassRegister:      {Max: cfg.RateLimit.Register.Max, Window: cfg.RateLimit.Register.Window},
		ratelimit.ClassLogin:         {Max: cfg.RateLimit.Login.Max, Window: cfg.RateLimit.Login.Window},
		ratelimit.ClassPasswordReset: {Max: cfg.RateLimit.PasswordReset.Max, Window: cfg.RateLimit.PasswordReset.Window},
		ratelimit.ClassEmailVerify:   {Max: cfg.RateLimit.EmailVerify.Max, Window: cfg.RateLimit.EmailVerify.Window},
	}, cfg.RateLimit.Enabled, nil, logger, metrics)

	svc := accounts.NewService(accounts.Config{
		VerifyTokenLifetime: cfg.Password.VerifyTokenLifetime,
		ResetTokenLifetime:  cfg.Password.ResetTokenLifetime,
	}, st, cacheClient, sessions, resolver, password.NewHasher(cfg.Password.BcryptCost),
		email.NewLogSender(logger), auditLogger, logger, metrics, nil)

	apiServer := httpapi.NewServer(svc, sessions, resolver, limiter, auditLogger, logger, metrics)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scrapers
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, observability.NewHealthChecker(db, rdb))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      opsMux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	janitor := session.NewJanitor(st, nil, logger, auditLogger)
	if cfg.Janitor.Enabled {
		if err := janitor.Start(cfg.Janitor.Schedule); err != nil {
			db.Close()
			rdb.Close()
			return fmt.Errorf("starting session janitor: %w", err)
		}
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("http server", httpServer.Shutdown)
	shutdown.Register("ops server", opsServer.Shutdown)
	if cfg.Janitor.Enabled {
		shutdown.Register("session janitor", janitor.Stop)
	}
	shutdown.Register("audit logger", func(ctx context.Context) error { return auditLogger.Close() })
	shutdown.Register("postgres", func(ctx context.Context) error { return st.Close() })
	shutdown.Register("redis", func(ctx context.Context) error { return rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", opsServer.Addr).Info("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}
