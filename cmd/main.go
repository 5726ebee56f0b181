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

	"github.com/okian/encuesta/internal/adapters/crm"
	"github.com/okian/encuesta/internal/adapters/http/api"
	"github.com/okian/encuesta/internal/adapters/http/swagger"
	"github.com/okian/encuesta/internal/adapters/lock"
	"github.com/okian/encuesta/internal/adapters/repository"
	"github.com/okian/encuesta/internal/adapters/worker"
	service "github.com/okian/encuesta/internal/app"
	"github.com/okian/encuesta/internal/config"
	"github.com/okian/encuesta/internal/domain/quota"
	"github.com/okian/encuesta/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// HTTP server timeout constants. Webhook batches run to completion inside
// the request, so the write timeout is generous.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Minute
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "service stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "store close failed", logger.Error(err))
		}
	}()

	locker, closeLocker := newLocker(ctx, cfg, log)
	defer closeLocker()

	svc := newService(cfg, store, locker, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store_driver", cfg.StoreDriver),
			logger.Int("concepts", len(cfg.ConceptLimits)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	// In-flight webhook batches finish before the store is closed.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

func newStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn(ctx, "using in-memory store; decisions are lost on restart")
		return repository.NewMemoryStore(), nil
	}

	store, err := repository.NewSQLStore(cfg.StoreDriver, cfg.StoreDSN,
		repository.WithMaxOpenConns(cfg.StoreMaxOpenConns),
		repository.WithMaxIdleConns(cfg.StoreMaxIdleConns),
		repository.WithConnMaxLifetime(cfg.StoreConnMaxLifetime()),
		repository.WithLogger(log.Named("store")),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.StoreEnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return store, nil
}

// newLocker returns a Redis-backed locker when redis_addr is set, so several
// replicas share one quota, and a process-local one otherwise.
func newLocker(ctx context.Context, cfg *config.Config, log logger.Logger) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn(ctx, "redis ping failed; lock acquisition will retry per event",
			logger.String("addr", cfg.RedisAddr), logger.Error(err))
	}
	locker := lock.NewRedis(rdb,
		lock.WithTTL(cfg.LockTTL()),
		lock.WithLogger(log.Named("lock")),
	)
	return locker, func() {
		if err := rdb.Close(); err != nil {
			log.Error(ctx, "redis close failed", logger.Error(err))
		}
	}
}

func newService(cfg *config.Config, store repository.Store, locker lock.Locker, log logger.Logger) *service.Service {
	client := crm.NewClient(cfg.CRMBaseURL,
		crm.WithToken(cfg.CRMToken),
		crm.WithTimeout(cfg.CRMTimeout()),
		crm.WithRateLimit(cfg.CRMRPS, cfg.CRMBurst),
		crm.WithProperties(cfg.CRMConceptProperty, cfg.CRMCloseDateProperty, cfg.CRMFlagProperty),
		crm.WithLogger(log.Named("crm")),
	)

	scheduler := worker.NewScheduler(
		worker.WithChunkSize(cfg.ChunkSize),
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithPause(cfg.ChunkPause()),
		worker.WithLogger(log.Named("scheduler")),
	)

	policy := quota.Policy{
		ContactGuard:   cfg.ContactGuard,
		RequireContact: cfg.RequireContact,
		Bucketing:      cfg.Bucketing,
		Location:       cfg.Location(),
	}

	return service.New(store, client, client,
		service.WithLimits(cfg.ConceptLimits),
		service.WithPolicy(policy),
		service.WithLocker(locker),
		service.WithScheduler(scheduler),
		service.WithLogger(log.Named("service")),
	)
}

func newMux(ctx context.Context, svc *service.Service, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, api.WithLogger(log.Named("api"))).Register(ctx, mux)
	return mux
}
