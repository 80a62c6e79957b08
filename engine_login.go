package fitauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
	"github.com/roma-frontend/fitauth/jwt"
	"github.com/roma-frontend/fitauth/session"
)

// loginAttempt accumulates what the pipeline learned for the single audit
// entry written at the end.
type loginAttempt struct {
	creds    Credentials
	method   Method
	identity Identity
	attempt  audit.Attempt
	device   string
	detail   []string
	recorded bool
}

func (a *loginAttempt) note(s string) {
	if s != "" {
		a.detail = append(a.detail, s)
	}
}

// Login authenticates creds and, on success, issues a session and access
// token. It never returns an error or panics: every outcome is a LoginResult
// and exactly one audit entry.
func (e *Engine) Login(ctx context.Context, creds Credentials) (result LoginResult) {
	if e == nil || e.verifiers == nil {
		return LoginResult{Error: MessageMethodUnsupported, Method: creds.Method}
	}
	start := time.Now()
	defer func() { e.metricObserve(MetricLoginLatency, time.Since(start)) }()

	if creds.IP == "" {
		creds.IP = clientIPFromContext(ctx)
	}
	if creds.UserAgent == "" {
		creds.UserAgent = userAgentFromContext(ctx)
	}

	la := &loginAttempt{
		creds:  creds,
		method: creds.Method,
		device: model.DeviceToken(creds.UserAgent),
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			util.Log(ctx).WithError(err).WithField("method", creds.Method).Error("login: recovered from panic")
			result = e.loginFailed(ctx, la, err)
		}
	}()

	v, err := e.verifiers.Get(creds.Method)
	if err != nil {
		return e.loginFailed(ctx, la, err)
	}

	allowed, err := e.limiter.Allow(ctx, v.RateKey(creds))
	if err != nil {
		return e.loginFailed(ctx, la, fmt.Errorf("%w: %v", ErrBackendUnavailable, err))
	}
	if !allowed {
		return e.loginFailed(ctx, la, ErrRateLimited)
	}

	res, err := v.Verify(ctx, creds)
	la.attempt = res.Attempt
	la.identity = res.Identity
	la.note(res.Detail)
	if err != nil {
		return e.loginFailed(ctx, la, err)
	}

	if !res.Identity.Active {
		return e.loginFailed(ctx, la, ErrAccountBlocked)
	}

	newDevice, err := e.checkDevice(ctx, res.Identity.ID, la.device)
	if err != nil {
		return e.loginFailed(ctx, la, err)
	}
	if newDevice {
		la.note("new device")
	}

	sess, token, err := e.issueSession(ctx, res.Identity, creds, la.device)
	if err != nil {
		return e.loginFailed(ctx, la, err)
	}

	if creds.Method == MethodPassword {
		e.upgradePasswordHash(ctx, res.Identity, creds.Password)
	}
	e.touchLastLogin(ctx, res.Identity.ID)

	e.metricInc(MetricLoginSuccess)
	e.recordLogin(ctx, la, nil)
	e.analytics.Enqueue(res.Identity.ID)

	if newDevice {
		e.metricInc(MetricNewDevice)
		e.notify(ctx, res.Identity.ID, NotifyNewDevice, map[string]string{
			"device": la.device,
			"ip":     creds.IP,
		})
	}

	return LoginResult{
		Success:   true,
		Method:    creds.Method,
		Token:     token,
		SessionID: sess.SessionID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
		User:      userInfo(res.Identity),
		NewDevice: newDevice,
	}
}

func (e *Engine) loginFailed(ctx context.Context, la *loginAttempt, err error) LoginResult {
	e.metricInc(MetricLoginFailure)
	switch {
	case errors.Is(err, ErrRateLimited):
		e.metricInc(MetricLoginRateLimited)
	case errors.Is(err, ErrAccountBlocked):
		e.metricInc(MetricLoginBlocked)
	case errors.Is(err, ErrDeviceNotTrusted):
		e.metricInc(MetricDeviceRejected)
	case errors.Is(err, ErrBackendUnavailable):
		e.metricInc(MetricLoginBackendError)
		util.Log(ctx).WithError(err).WithField("method", la.method).Error("login: backend unavailable")
	}
	switch la.method {
	case MethodPassword:
		e.metricInc(MetricPasswordLoginFailure)
	case MethodFace:
		e.metricInc(MetricFaceLoginFailure)
	case MethodQR:
		e.metricInc(MetricQRLoginFailure)
	}

	e.recordLogin(ctx, la, err)
	if la.identity.ID != "" {
		e.analytics.Enqueue(la.identity.ID)
	}
	return LoginResult{Error: failureMessage(la.method, err), Method: la.method}
}

func (e *Engine) recordLogin(ctx context.Context, la *loginAttempt, err error) {
	if la.recorded {
		return
	}
	la.recorded = true

	entry := audit.Entry{
		UserID:  la.identity.ID,
		Action:  ActionLogin,
		Method:  la.method,
		Success: err == nil,
		Reason:  auditReason(err),
		IP:      la.creds.IP,
		Device:  la.device,
		Detail:  strings.Join(la.detail, "; "),
		Attempt: la.attempt,
	}
	if la.identity.ID != "" {
		entry.Actor = la.identity.ID
	}
	if !la.method.Valid() {
		entry.Method = model.MethodNone
	}
	e.record(ctx, entry)
}

func (e *Engine) issueSession(ctx context.Context, id Identity, creds Credentials, device string) (*Session, string, error) {
	now := e.now()
	sess := &session.Session{
		SessionID: uuid.NewString(),
		UserID:    id.ID,
		Email:     id.Email,
		Name:      id.Name,
		Role:      id.Role,
		Method:    string(creds.Method),
		IP:        creds.IP,
		Device:    device,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(e.config.Session.Lifetime).Unix(),
	}

	token, err := e.tokens.CreateAccess(jwt.Identity{
		UserID: id.ID,
		Email:  id.Email,
		Name:   id.Name,
		Role:   id.Role,
	}, sess.SessionID, string(creds.Method), time.Unix(sess.ExpiresAt, 0))
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.config.Backend.Timeout)
	defer cancel()
	if err := e.sessions.Save(cctx, sess); err != nil {
		return nil, "", sessionErr(err)
	}
	e.metricInc(MetricSessionCreated)
	return sess, token, nil
}

// checkDevice reports whether device is new for userID and denies the login
// when it would be the MaxNewDevices-th new device inside NewDeviceWindow.
// History read failures do not block the login.
func (e *Engine) checkDevice(ctx context.Context, userID, device string) (bool, error) {
	if !e.config.Device.Enabled {
		return false, nil
	}
	now := e.now()

	var entries []AuditEntry
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		entries, err = e.auditStore.ByUserID(ctx, userID, now.Add(-e.config.Device.TrustLookback))
		return err
	})
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Warn("login: device history unavailable, skipping device gating")
		return false, nil
	}

	firstSeen := make(map[string]time.Time)
	for _, entry := range entries {
		if entry.Action != ActionLogin || !entry.Success || entry.Device == "" {
			continue
		}
		if t, ok := firstSeen[entry.Device]; !ok || entry.Timestamp.Before(t) {
			firstSeen[entry.Device] = entry.Timestamp
		}
	}
	if _, known := firstSeen[device]; known {
		return false, nil
	}

	windowStart := now.Add(-e.config.Device.NewDeviceWindow)
	recent := 1
	for _, t := range firstSeen {
		if !t.Before(windowStart) {
			recent++
		}
	}
	if recent >= e.config.Device.MaxNewDevices {
		e.notify(ctx, userID, NotifyDeviceRejected, map[string]string{"device": device})
		return true, fmt.Errorf("%w: %d new devices within %s", ErrDeviceNotTrusted, recent, e.config.Device.NewDeviceWindow)
	}
	return true, nil
}

func (e *Engine) touchLastLogin(ctx context.Context, userID string) {
	err := e.backend(ctx, func(ctx context.Context) error {
		return e.directory.UpdateLastLogin(ctx, userID, e.now())
	})
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Warn("login: last-login update failed")
	}
}

// upgradePasswordHash rehashes with the current parameters when the stored
// hash is weaker. Failures are logged only.
func (e *Engine) upgradePasswordHash(ctx context.Context, id Identity, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(id.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", id.ID).Warn("login: password rehash failed")
		return
	}
	err = e.backend(ctx, func(ctx context.Context) error {
		return e.directory.UpdatePassword(ctx, id.ID, hash)
	})
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", id.ID).Warn("login: password rehash store failed")
		return
	}
	e.metricInc(MetricPasswordRehash)
}
