package fitauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/roma-frontend/fitauth/store/memory"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testEnv struct {
	engine *Engine
	dir    *memory.Directory
	faces  *memory.FaceProfiles
	log    *memory.AuditLog
	outbox *memory.Outbox
	clock  *testClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSigningKey
	cfg.QR.SigningKey = []byte("qr-signing-key-qr-signing-key-32")
	cfg.Audit.ChainKey = []byte("audit-chain-key")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newTestClock()
	env := &testEnv{
		dir:    memory.NewDirectory(clock.Now),
		faces:  memory.NewFaceProfiles(),
		log:    memory.NewAuditLog(),
		outbox: memory.NewOutbox(),
		clock:  clock,
		mr:     mr,
		rdb:    rdb,
	}

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(env.dir).
		WithFaceProfileStore(env.faces).
		WithAuditStore(env.log).
		WithNotifier(env.outbox).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) addUser(t *testing.T, id, email, password string) Identity {
	t.Helper()

	hash, err := env.engine.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	u := Identity{
		ID:           id,
		Email:        email,
		Name:         "User " + id,
		Role:         "member",
		PasswordHash: hash,
		Active:       true,
	}
	if err := env.dir.Add(u); err != nil {
		t.Fatalf("Add identity failed: %v", err)
	}
	return u
}

func (env *testEnv) identity(t *testing.T, id string) Identity {
	t.Helper()

	u, err := env.dir.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) failed: %v", id, err)
	}
	return u
}

// entries returns the audit entries of userID for action, oldest first.
func (env *testEnv) entries(t *testing.T, userID, action string) []AuditEntry {
	t.Helper()

	all, err := env.log.ByUserID(context.Background(), userID, time.Time{})
	if err != nil {
		t.Fatalf("ByUserID failed: %v", err)
	}
	var out []AuditEntry
	for _, e := range all {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func passwordCreds(email, password string) Credentials {
	return Credentials{
		Method:    MethodPassword,
		Email:     email,
		Password:  password,
		IP:        "203.0.113.7",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/140.0",
	}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
