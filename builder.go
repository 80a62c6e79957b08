package fitauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"
	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/notify"
	"github.com/roma-frontend/fitauth/internal/rate"
	"github.com/roma-frontend/fitauth/internal/verify"
	"github.com/roma-frontend/fitauth/jwt"
	"github.com/roma-frontend/fitauth/session"
)

// Builder assembles an Engine. Builders are single-use: configure during
// initialization, call Build once, then discard.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory  UserDirectory
	profiles   FaceProfileStore
	auditStore AuditStore
	notifier   Notifier
	now        func() time.Time

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for sessions, revocation and, when
// RateLimit.Backend is "redis", the attempt window.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.directory = d
	return b
}

// WithFaceProfileStore enables face login and the Face ID lifecycle.
func (b *Builder) WithFaceProfileStore(s FaceProfileStore) *Builder {
	b.profiles = s
	return b
}

func (b *Builder) WithAuditStore(s AuditStore) *Builder {
	b.auditStore = s
	return b
}

// WithNotifier enables user notifications. Without one, notifications are
// skipped.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithClock overrides time.Now for every time-dependent decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if b.auditStore == nil {
		return nil, errors.New("audit store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	loc, err := time.LoadLocation(cfg.Analytics.Timezone)
	if err != nil {
		return nil, err
	}
	adaptivePeriod, err := parsePeriod(cfg.Analytics.AdaptivePeriod)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()

	ephemeralQR := len(cfg.QR.SigningKey) == 0
	if ephemeralQR {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate qr signing key: %w", err)
		}
		cfg.QR.SigningKey = key
		util.Log(ctx).Warn("fitauth: QR SigningKey not configured, using an ephemeral key")
	}

	e := &Engine{
		config:         cfg,
		now:            now,
		loc:            loc,
		thresholds:     cfg.thresholds(),
		adaptivePeriod: adaptivePeriod,
		directory:      b.directory,
		profiles:       b.profiles,
		auditStore:     b.auditStore,
		qrEphemeral:    ephemeralQR,
		faceLocks:      newKeyedMutex(),
		done:           make(chan struct{}),
	}
	e.metrics = NewMetrics(cfg.Metrics)

	// -------- PASSWORD --------
	ph, err := cfg.Password.Hasher()
	if err != nil {
		return nil, err
	}
	e.hasher = ph

	// -------- TOKENS + SESSIONS --------
	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Session.Lifetime,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	e.tokens = jm
	e.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix, now)

	// -------- RATE LIMIT --------
	rcfg := rate.Config{Window: cfg.RateLimit.Window, Limit: cfg.RateLimit.MaxAttempts}
	if cfg.RateLimit.Backend == "redis" {
		e.limiter = rate.NewRedisWindow(b.redis, rcfg, now)
	} else {
		e.limiter = rate.NewWindow(rcfg, now)
	}

	// -------- AUDIT --------
	e.audit = audit.NewLogger(ctx, audit.Config{
		Async:        cfg.Audit.Async,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		WriteTimeout: cfg.Audit.WriteTimeout,
		ChainKey:     cloneBytes(cfg.Audit.ChainKey),
	}, b.auditStore)
	e.audit.OnFailure(func(error) { e.metricInc(MetricAuditWriteFailure) })

	// -------- NOTIFICATIONS --------
	var sender notify.Sender
	if b.notifier != nil {
		sender = b.notifier
	}
	e.notifier = notify.NewDispatcher(notify.Config{
		BufferSize:  cfg.Notification.BufferSize,
		RatePerSec:  cfg.Notification.RatePerSecond,
		Burst:       cfg.Notification.Burst,
		SendTimeout: cfg.Notification.SendTimeout,
	}, sender)
	e.notifier.OnDrop(func() { e.metricInc(MetricNotificationDropped) })

	// -------- VERIFIERS --------
	errs := verifyErrors()
	timeout := cfg.Backend.Timeout
	e.qr = verify.NewQRCodec(cfg.QR.SigningKey)
	verifiers := []verify.Verifier{
		verify.NewPassword(b.directory, ph, errs, timeout),
		verify.NewQR(e.qr, e.sessions, cfg.QR.Validity, b.directory, errs, timeout, now),
	}
	if b.profiles != nil {
		fc := verify.FaceConfig{
			DistanceThreshold: cfg.FaceID.DistanceThreshold,
			DescriptorLength:  cfg.FaceID.DescriptorLength,
			Reactivate:        e.reactivateFace,
		}
		if cfg.FaceID.EnforceAdaptiveConfidence {
			fc.MinConfidence = e.requiredConfidence
		}
		verifiers = append(verifiers, verify.NewFace(fc, b.directory, b.profiles, errs, timeout, now))
	}
	e.verifiers = verify.NewSet(errs, verifiers...)

	// -------- ANALYTICS --------
	e.analytics = newAnalyticsWorker(e, cfg.Analytics.QueueSize, cfg.Analytics.RiskCacheTTL)

	b.built = true

	return e, nil
}
