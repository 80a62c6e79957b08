// Command fitauth-loadtest measures login and token validation throughput of
// an engine backed by Redis (or miniredis) and the in-memory stores.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/roma-frontend/fitauth"
	"github.com/roma-frontend/fitauth/store/memory"
)

const descriptorLength = 128

type member struct {
	email string
	face  fitauth.Descriptor

	mu    sync.Mutex
	token string
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of identities to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		logins      = flag.Int("logins", 2000, "password and face logins per phase")
		validations = flag.Int("validations", 100000, "token validations")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *logins <= 0 || *validations <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, logins, and validations must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := fitauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-loadtest-32")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.MaxAttempts = *logins * 2
	cfg.RateLimit.Backend = "redis"
	cfg.FaceID.DescriptorLength = descriptorLength
	cfg.Audit.Async = true
	cfg.Audit.DropIfFull = true
	cfg.Protection.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true

	dir := memory.NewDirectory(nil)
	engine, err := fitauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserDirectory(dir).
		WithFaceProfileStore(memory.NewFaceProfiles()).
		WithAuditStore(memory.NewAuditLog()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d identities...\n", *users)
	startSeed := time.Now()
	members, err := seed(ctx, engine, dir, cfg, *users)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	passwordStats := runPhase(*logins, *concurrency, func(r *rand.Rand) error {
		m := members[r.Intn(len(members))]
		res := engine.Login(ctx, fitauth.Credentials{
			Method: fitauth.MethodPassword, Email: m.email, Password: "loadtest-password",
			IP: "198.51.100.10", UserAgent: "fitauth-loadtest",
		})
		if !res.Success {
			return fmt.Errorf("login: %s", res.Error)
		}
		m.mu.Lock()
		m.token = res.Token
		m.mu.Unlock()
		return nil
	})

	faceStats := runPhase(*logins, *concurrency, func(r *rand.Rand) error {
		m := members[r.Intn(len(members))]
		res := engine.Login(ctx, fitauth.Credentials{
			Method: fitauth.MethodFace, Descriptor: m.face,
			IP: "198.51.100.11", UserAgent: "fitauth-loadtest",
		})
		if !res.Success {
			return fmt.Errorf("face login: %s", res.Error)
		}
		return nil
	})

	validateStats := runPhase(*validations, *concurrency, func(r *rand.Rand) error {
		m := members[r.Intn(len(members))]
		m.mu.Lock()
		token := m.token
		m.mu.Unlock()
		if token == "" {
			return nil
		}
		_, err := engine.ValidateToken(ctx, token)
		return err
	})

	fmt.Println("---- results ----")
	printStats("password-login", passwordStats)
	printStats("face-login", faceStats)
	printStats("validate", validateStats)
	fmt.Printf("audit dropped=%d failed=%d\n", engine.AuditDropped(), engine.AuditFailures())
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// seed adds n identities with the same password and a distinct face each.
// Descriptors are spread far enough apart that each matches only its owner.
func seed(ctx context.Context, engine *fitauth.Engine, dir *memory.Directory, cfg fitauth.Config, n int) ([]*member, error) {
	hasher, err := cfg.Password.Hasher()
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash("loadtest-password")
	if err != nil {
		return nil, err
	}

	r := rand.New(rand.NewSource(42))
	out := make([]*member, n)
	for i := range out {
		id := fmt.Sprintf("u%d", i)
		m := &member{email: id + "@loadtest.local", face: make(fitauth.Descriptor, descriptorLength)}
		for j := range m.face {
			m.face[j] = r.Float64()*2 - 1
		}
		if err := dir.Add(fitauth.Identity{
			ID: id, Email: m.email, Name: id, Role: "member", PasswordHash: hash, Active: true,
		}); err != nil {
			return nil, err
		}
		if _, err := engine.RegisterFaceID(ctx, id, fitauth.FaceRegistration{Descriptor: m.face, Confidence: 95}); err != nil {
			return nil, fmt.Errorf("register face of %s: %w", id, err)
		}
		out[i] = m
	}
	return out, nil
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
