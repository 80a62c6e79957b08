//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/roma-frontend/fitauth"
	"github.com/roma-frontend/fitauth/store/memory"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns miniredis always, plus a real Redis when REDIS_ADDR is set.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}
	return modes
}

type integrationEnv struct {
	engine *fitauth.Engine
	dir    *memory.Directory
	log    *memory.AuditLog
}

func newIntegrationEnv(t *testing.T, rdb redis.UniversalClient, backend string) *integrationEnv {
	t.Helper()

	cfg := fitauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("integration-signing-key-32-bytes")
	cfg.QR.SigningKey = []byte("integration-qr-key-32-bytes-long")
	cfg.Audit.ChainKey = []byte("integration-chain")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.Backend = backend
	cfg.RateLimit.MaxAttempts = 3

	env := &integrationEnv{
		dir: memory.NewDirectory(time.Now),
		log: memory.NewAuditLog(),
	}

	hasher, err := cfg.Password.Hasher()
	if err != nil {
		t.Fatalf("Hasher: %v", err)
	}
	hash, err := hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := env.dir.Add(fitauth.Identity{
		ID:           "u1",
		Email:        "member@example.com",
		Name:         "Member",
		Role:         "member",
		PasswordHash: hash,
		Active:       true,
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	engine, err := fitauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(env.dir).
		WithFaceProfileStore(memory.NewFaceProfiles()).
		WithAuditStore(env.log).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func passwordLogin(ip, pw string) fitauth.Credentials {
	return fitauth.Credentials{
		Method:    fitauth.MethodPassword,
		Email:     "member@example.com",
		Password:  pw,
		IP:        ip,
		UserAgent: "integration-suite/1.0",
	}
}
