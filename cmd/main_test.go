package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/okian/encuesta/internal/adapters/lock"
	"github.com/okian/encuesta/internal/adapters/repository"
	"github.com/okian/encuesta/internal/config"
	"github.com/okian/encuesta/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMainComponents(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		ctx := context.Background()
		log := logger.Nop()
		cfg := config.New()

		convey.Convey("When configuration comes from the environment", func() {
			_ = os.Setenv("ENCUESTA_ADDR", ":9090")
			_ = os.Setenv("ENCUESTA_CHUNK_SIZE", "5")
			defer func() {
				_ = os.Unsetenv("ENCUESTA_ADDR")
				_ = os.Unsetenv("ENCUESTA_CHUNK_SIZE")
			}()

			loaded, err := config.Load(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(loaded.Addr, convey.ShouldEqual, ":9090")
			convey.So(loaded.ChunkSize, convey.ShouldEqual, 5)
		})

		convey.Convey("When the memory driver is configured", func() {
			store, err := newStore(ctx, cfg, log)
			convey.So(err, convey.ShouldBeNil)
			defer store.Close()

			convey.So(store, convey.ShouldHaveSameTypeAs, &repository.MemoryStore{})
			convey.So(store.Ping(ctx), convey.ShouldBeNil)
		})

		convey.Convey("When an unsupported driver reaches the store factory", func() {
			cfg.StoreDriver = "sqlite"
			cfg.StoreDSN = "file::memory:"
			_, err := newStore(ctx, cfg, log)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When no redis address is configured", func() {
			locker, closeLocker := newLocker(ctx, cfg, log)
			defer closeLocker()

			convey.So(locker, convey.ShouldHaveSameTypeAs, &lock.Local{})
		})

		convey.Convey("When a redis address is configured", func() {
			cfg.RedisAddr = "127.0.0.1:1"
			pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer cancel()
			locker, closeLocker := newLocker(pingCtx, cfg, log)
			defer closeLocker()

			convey.So(locker, convey.ShouldHaveSameTypeAs, &lock.Redis{})
		})

		convey.Convey("When the full mux is built", func() {
			store := repository.NewMemoryStore()
			svc := newService(cfg, store, lock.NewLocal(), log)
			mux := newMux(ctx, svc, log)

			for _, path := range []string{"/healthz", "/readyz", "/stats", "/logs", "/api/logs", "/metrics", "/openapi.yaml", "/api-docs"} {
				req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a runnable configuration", t, func() {
		cfg := config.New()
		cfg.Addr = "127.0.0.1:0"
		log := logger.Nop()

		convey.Convey("When the root context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- run(ctx, cfg, log) }()
			time.Sleep(50 * time.Millisecond)
			cancel()

			convey.Convey("Then run shuts down cleanly", func() {
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					convey.So("run did not return", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the listen address is invalid", func() {
			cfg.Addr = "127.0.0.1:-1"
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			convey.Convey("Then run returns the listen error", func() {
				convey.So(run(ctx, cfg, log), convey.ShouldNotBeNil)
			})
		})
	})
}
