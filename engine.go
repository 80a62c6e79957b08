package fitauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth/internal/analytics"
	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/notify"
	"github.com/roma-frontend/fitauth/internal/rate"
	"github.com/roma-frontend/fitauth/internal/verify"
	"github.com/roma-frontend/fitauth/jwt"
	"github.com/roma-frontend/fitauth/password"
	"github.com/roma-frontend/fitauth/session"
)

// Engine is the unified authentication facade. It is safe for concurrent use
// once built and must be closed to flush audit and notification queues.
type Engine struct {
	config         Config
	now            func() time.Time
	loc            *time.Location
	thresholds     analytics.Thresholds
	adaptivePeriod Period

	directory  UserDirectory
	profiles   FaceProfileStore
	auditStore AuditStore

	audit     *audit.Logger
	sessions  *session.Store
	tokens    *jwt.Manager
	limiter   rate.Limiter
	verifiers *verify.Set
	qr        *verify.QRCodec
	// qrEphemeral is set when the QR key was generated at Build.
	qrEphemeral bool
	hasher      *password.Argon2
	notifier    *notify.Dispatcher
	analytics   *analyticsWorker
	metrics     *Metrics

	faceLocks *keyedMutex
	// sweepMu serializes auto-protection sweeps.
	sweepMu sync.Mutex

	done      chan struct{}
	bg        sync.WaitGroup
	closeOnce sync.Once
}

// Close stops background work and flushes queued audit entries and
// notifications.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		close(e.done)
		e.bg.Wait()
		e.analytics.Close()
		e.notifier.Close()
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped counts audit entries dropped because the async buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailures counts audit entries the store rejected.
func (e *Engine) AuditFailures() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failures()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

// backend runs fn under the backend timeout. Not-found passes through;
// every other failure becomes ErrBackendUnavailable.
func (e *Engine) backend(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, e.config.Backend.Timeout)
	defer cancel()

	err := fn(cctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

func (e *Engine) getIdentity(ctx context.Context, userID string) (Identity, error) {
	var id Identity
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		id, err = e.directory.GetByID(ctx, userID)
		return err
	})
	return id, err
}

func (e *Engine) notify(ctx context.Context, userID, kind string, details map[string]string) {
	e.notifier.Notify(ctx, notify.Message{UserID: userID, Type: kind, Details: details})
}

func sessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return ErrNotFound
	case errors.Is(err, session.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	default:
		return err
	}
}

// Logout destroys the session and revokes its token.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return fmt.Errorf("%w: session id required", ErrValidation)
	}

	cctx, cancel := context.WithTimeout(ctx, e.config.Backend.Timeout)
	defer cancel()

	sess, err := e.sessions.Get(cctx, sessionID)
	if err != nil {
		return sessionErr(err)
	}
	if _, err := e.sessions.Delete(cctx, sess.UserID, sessionID, e.tokens.TTL()); err != nil {
		return sessionErr(err)
	}

	e.metricInc(MetricLogout)
	e.record(ctx, audit.Entry{
		UserID:  sess.UserID,
		Action:  ActionLogout,
		Method:  Method(sess.Method),
		Success: true,
		Actor:   sess.UserID,
		IP:      sess.IP,
		Device:  sess.Device,
	})
	return nil
}

// LogoutAll destroys every session of userID and returns how many existed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	cctx, cancel := context.WithTimeout(ctx, e.config.Backend.Timeout)
	defer cancel()

	n, err := e.sessions.DeleteAllForUser(cctx, userID, e.tokens.TTL())
	if err != nil {
		return 0, sessionErr(err)
	}
	e.metricInc(MetricLogoutAll)
	return n, nil
}

// ValidateSession returns the live session for sessionID. It never mutates
// session state.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	cctx, cancel := context.WithTimeout(ctx, e.config.Backend.Timeout)
	defer cancel()

	sess, err := e.sessions.Get(cctx, sessionID)
	if err != nil {
		return nil, sessionErr(err)
	}
	return sess, nil
}

// ValidateToken checks signature, expiry and the revocation list.
func (e *Engine) ValidateToken(ctx context.Context, token string) (TokenInfo, error) {
	if e == nil || e.tokens == nil {
		return TokenInfo{}, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metricObserve(MetricValidateLatency, time.Since(start)) }()

	claims, err := e.tokens.ParseAccess(token)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenInfo{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenExpired)
		}
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.config.Backend.Timeout)
	defer cancel()

	revoked, err := e.sessions.IsRevoked(cctx, claims.SID)
	if err != nil {
		return TokenInfo{}, sessionErr(err)
	}
	if revoked {
		e.metricInc(MetricTokenRejected)
		return TokenInfo{}, fmt.Errorf("%w: session revoked", ErrInvalidToken)
	}

	info := TokenInfo{
		UserID:    claims.UID,
		Email:     claims.Email,
		Name:      claims.Name,
		Role:      claims.Role,
		SessionID: claims.SID,
		Method:    Method(claims.Method),
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// IssueQRPayload returns a signed QR login payload for userID, valid for
// QR.Validity.
func (e *Engine) IssueQRPayload(ctx context.Context, userID string) (string, error) {
	if e == nil || e.qr == nil {
		return "", ErrEngineNotReady
	}
	id, err := e.getIdentity(ctx, userID)
	if err != nil {
		return "", err
	}
	if !id.Active {
		return "", ErrAccountBlocked
	}
	payload, err := e.qr.Issue(id.ID, e.now())
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Error("qr: issue failed")
		return "", err
	}
	return payload, nil
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
