// Command fitauthd serves the fitauth JSON API.
//
// Identities are loaded from a JSON users file into memory. Sessions and rate
// limits live in Redis; without -redis-addr an embedded miniredis is used,
// which is only suitable for development. Audit entries go to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"
	"github.com/roma-frontend/fitauth"
	"github.com/roma-frontend/fitauth/httpapi"
	"github.com/roma-frontend/fitauth/metrics/export/prometheus"
	"github.com/roma-frontend/fitauth/middleware"
	"github.com/roma-frontend/fitauth/store/memory"
	"github.com/roma-frontend/fitauth/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file; defaults are used when empty")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		redisAddr  = flag.String("redis-addr", "", "redis address; if empty, FITAUTH_REDIS_ADDR env or miniredis is used")
		auditDB    = flag.String("audit-db", "data/audit.db", "SQLite audit database path")
		usersPath  = flag.String("users", "", "JSON users file to seed the directory")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr, *redisAddr, *auditDB, *usersPath); err != nil {
		util.Log(ctx).WithError(err).Error("fitauthd: exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addr, redisAddr, auditDB, usersPath string) error {
	cfg := fitauth.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = fitauth.LoadConfigFile(configPath); err != nil {
			return err
		}
	}
	if len(cfg.JWT.PrivateKey) == 0 {
		cfg.JWT.PrivateKey = []byte(os.Getenv("FITAUTH_JWT_KEY"))
	}

	client, cleanup, err := openRedis(ctx, redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	auditLog, err := sqlite.Open(ctx, auditDB)
	if err != nil {
		return err
	}
	defer func() { _ = auditLog.Close() }()

	hasher, err := cfg.Password.Hasher()
	if err != nil {
		return fmt.Errorf("password config: %w", err)
	}
	dir := memory.NewDirectory(nil)
	if usersPath != "" {
		n, err := loadUsers(usersPath, dir, hasher)
		if err != nil {
			return err
		}
		util.Log(ctx).WithField("users", n).Info("fitauthd: directory seeded")
	}

	engine, err := fitauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserDirectory(dir).
		WithFaceProfileStore(memory.NewFaceProfiles()).
		WithAuditStore(auditLog).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if n, err := engine.VerifyAuditChain(ctx, 0); err != nil {
		util.Log(ctx).WithError(err).Warn("fitauthd: audit chain verification failed")
	} else {
		util.Log(ctx).WithField("entries", n).Info("fitauthd: audit chain verified")
	}

	engine.StartProtection(ctx)

	api := httpapi.New(engine, nil)
	router := api.Router()
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	exporter := prometheus.NewExporter(engine)
	router.GET("/metrics", gin.WrapH(
		middleware.Guard(engine)(middleware.RequirePermission(api.Roles, httpapi.PermSecurityRead)(exporter.Handler())),
	))

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		util.Log(ctx).WithField("addr", addr).Info("fitauthd: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	util.Log(ctx).Info("fitauthd: shutting down")
	return srv.Shutdown(shutdownCtx)
}

func openRedis(ctx context.Context, addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("FITAUTH_REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		util.Log(ctx).WithField("addr", mr.Addr()).Warn("fitauthd: using embedded miniredis")
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	util.Log(ctx).WithField("addr", addr).Info("fitauthd: using redis")
	return client, func() { _ = client.Close() }, nil
}
