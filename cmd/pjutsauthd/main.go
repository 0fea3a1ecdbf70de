// Command pjutsauthd serves the PJUTS Monitor auth endpoints: PIN login,
// password reset and share-code access.
//
// Configuration is read from .env (optional), the YAML file named by
// PJUTS_CONFIG_FILE (optional) and the environment, in that order. With
// PJUTS_DEV_MODE=true the daemon runs on an in-process Redis and an
// in-memory store, and reset links are written to the log.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/httpapi"
	"github.com/pjuts-monitor/pjutsauth/internal"
	"github.com/pjuts-monitor/pjutsauth/mailer"
	"github.com/pjuts-monitor/pjutsauth/memstore"
	otelexport "github.com/pjuts-monitor/pjutsauth/metrics/export/otel"
	promexport "github.com/pjuts-monitor/pjutsauth/metrics/export/prometheus"
	"github.com/pjuts-monitor/pjutsauth/middleware"
	"github.com/pjuts-monitor/pjutsauth/password"
	"github.com/pjuts-monitor/pjutsauth/postgres"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pjutsauthd: %v\n", err)
		os.Exit(1)
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pjutsauthd: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("pjutsauthd_failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg daemonConfig, logger *zap.Logger) error {
	if err := initSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DevMode {
		logger.Warn("dev mode: not for production use")
		if len(cfg.Engine.Verification.PrivateKey) == 0 {
			secret, err := internal.NewSessionToken()
			if err != nil {
				return fmt.Errorf("generate verification key: %w", err)
			}
			cfg.Engine.Verification.PrivateKey = []byte(secret)
		}
	}

	rdb, closeRedis, err := openRedis(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.close()

	var sink pjutsauth.AuditSink
	if cfg.Engine.Audit.Enabled {
		sink = pjutsauth.NewZapSink(logger.Named("audit"))
	}

	mail, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}

	engine, err := pjutsauth.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithRepository(repo.store).
		WithMailer(mail).
		WithAuditSink(sink).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	var metricsHandler http.Handler
	if cfg.Engine.Metrics.Enabled {
		metricsHandler = promexport.NewPrometheusExporter(engine).Handler()

		if cfg.MetricsLogEvery > 0 {
			shutdown, err := startMetricsLog(engine, cfg.MetricsLogEvery, logger)
			if err != nil {
				return err
			}
			defer shutdown()
		}
	}

	api, err := httpapi.New(httpapi.Options{
		Engine:            engine,
		Resolver:          adminResolver(cfg.AdminTokens),
		Logger:            logger,
		Metrics:           metricsHandler,
		Health:            healthCheck(rdb, repo.ping),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
	if err != nil {
		return err
	}

	if repo.purge != nil && cfg.PurgeEvery > 0 {
		go purgeLoop(ctx, repo.purge, cfg.PurgeEvery, logger)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_start", zap.String("addr", cfg.Addr), zap.Bool("dev_mode", cfg.DevMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func initSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

/*
====================================
BACKENDS
====================================
*/

func openRedis(cfg daemonConfig, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisURL == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start in-process redis: %w", err)
		}
		logger.Info("using in-process redis", zap.String("addr", mr.Addr()))
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

type repository struct {
	store pjutsauth.Repository
	ping  func(ctx context.Context) error
	purge func(ctx context.Context, now time.Time) (int64, error)
	close func()
}

func openRepository(ctx context.Context, cfg daemonConfig, logger *zap.Logger) (*repository, error) {
	if cfg.DatabaseURL == "" {
		store := memstore.New()
		if err := seedDevUser(store, cfg); err != nil {
			return nil, err
		}
		if cfg.DevUserPassword != "" {
			logger.Info("seeded dev user", zap.String("email", cfg.DevUserEmail))
		}
		return &repository{store: store, close: func() {}}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL, cfg.Pool)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := postgres.New(pool)
	return &repository{
		store: store,
		ping:  pool.Ping,
		purge: store.PurgeExpiredResetTokens,
		close: pool.Close,
	}, nil
}

func seedDevUser(store *memstore.Store, cfg daemonConfig) error {
	if cfg.DevUserPassword == "" {
		return nil
	}
	hasher, err := password.NewHasher(password.Config{
		Memory:           cfg.Engine.Password.Memory,
		Time:             cfg.Engine.Password.Time,
		Parallelism:      cfg.Engine.Password.Parallelism,
		SaltLength:       cfg.Engine.Password.SaltLength,
		KeyLength:        cfg.Engine.Password.KeyLength,
		MaxPasswordBytes: cfg.Engine.Password.MaxPasswordBytes,
	})
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(cfg.DevUserPassword)
	if err != nil {
		return fmt.Errorf("hash dev user password: %w", err)
	}
	store.AddCredential(cfg.DevUserEmail, hash, true)
	return nil
}

func newMailer(cfg daemonConfig, logger *zap.Logger) (pjutsauth.Mailer, error) {
	if cfg.SMTP.Host == "" {
		return mailer.NewLogMailer(logger.Named("mail"), cfg.DevMode), nil
	}
	return mailer.NewSMTPMailer(cfg.SMTP)
}

func adminResolver(tokens map[string]string) middleware.PrincipalResolver {
	principals := make(map[string]pjutsauth.Principal, len(tokens))
	for token, email := range tokens {
		principals[token] = pjutsauth.Principal{ID: email, Email: email, Role: pjutsauth.RoleAdmin}
	}
	return middleware.NewStaticTokenResolver(principals)
}

func healthCheck(rdb redis.UniversalClient, dbPing func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if dbPing != nil {
			if err := dbPing(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		return nil
	}
}

/*
====================================
BACKGROUND WORK
====================================
*/

func purgeLoop(ctx context.Context, purge func(context.Context, time.Time) (int64, error), every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := purge(ctx, now)
			if err != nil {
				logger.Warn("purge expired reset tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired reset tokens", zap.Int64("count", n))
			}
		}
	}
}

func startMetricsLog(engine *pjutsauth.Engine, every time.Duration, logger *zap.Logger) (func(), error) {
	reader := sdkmetric.NewPeriodicReader(newLogExporter(logger.Named("metrics")), sdkmetric.WithInterval(every))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	exporter, err := otelexport.NewOTelExporter(provider.Meter("github.com/pjuts-monitor/pjutsauth"), engine)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, fmt.Errorf("otel exporter: %w", err)
	}

	return func() {
		_ = exporter.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}, nil
}
