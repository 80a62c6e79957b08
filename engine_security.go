package fitauth

import (
	"context"
	"fmt"

	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth/internal/analytics"
)

func parsePeriod(s string) (Period, error) {
	p, err := analytics.ParsePeriod(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return p, nil
}

// GetSecurityAnalytics aggregates all login activity over period ("day",
// "week" or "month"; empty means week).
func (e *Engine) GetSecurityAnalytics(ctx context.Context, period string) (SecurityReport, error) {
	if e == nil || e.auditStore == nil {
		return SecurityReport{}, ErrEngineNotReady
	}
	p, err := parsePeriod(period)
	if err != nil {
		return SecurityReport{}, err
	}

	now := e.now()
	var entries []AuditEntry
	err = e.backend(ctx, func(ctx context.Context) error {
		var err error
		entries, err = e.auditStore.Since(ctx, now.Add(-p.Duration()))
		return err
	})
	if err != nil {
		return SecurityReport{}, err
	}

	report := analytics.System(entries, p, now)
	for _, a := range report.Alerts {
		util.Log(ctx).WithField("severity", a.Severity).
			WithField("kind", a.Kind).
			WithField("count", a.Count).Warn("security: " + a.Message)
	}
	return report, nil
}

// GetUserRiskProfile computes userID's risk over period.
func (e *Engine) GetUserRiskProfile(ctx context.Context, userID, period string) (RiskProfile, error) {
	if e == nil || e.auditStore == nil {
		return RiskProfile{}, ErrEngineNotReady
	}
	p, err := parsePeriod(period)
	if err != nil {
		return RiskProfile{}, err
	}
	return e.computeRisk(ctx, userID, p)
}

func (e *Engine) computeRisk(ctx context.Context, userID string, p Period) (RiskProfile, error) {
	now := e.now()
	var entries []AuditEntry
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		entries, err = e.auditStore.ByUserID(ctx, userID, now.Add(-p.Duration()))
		return err
	})
	if err != nil {
		return RiskProfile{}, err
	}
	return analytics.Profile(userID, entries, p, now, e.loc, e.thresholds), nil
}

// GetAdaptiveFaceIDSettings derives the face confidence userID must reach
// from its recent login behaviour, together with its trusted devices.
func (e *Engine) GetAdaptiveFaceIDSettings(ctx context.Context, userID string) (AdaptiveFaceIDSettings, error) {
	if e == nil || e.auditStore == nil {
		return AdaptiveFaceIDSettings{}, ErrEngineNotReady
	}
	if _, err := e.getIdentity(ctx, userID); err != nil {
		return AdaptiveFaceIDSettings{}, err
	}

	rp, err := e.computeRisk(ctx, userID, e.adaptivePeriod)
	if err != nil {
		return AdaptiveFaceIDSettings{}, err
	}
	e.analytics.put(rp)

	return AdaptiveFaceIDSettings{
		UserID:             userID,
		RiskLevel:          rp.Tier,
		RequiredConfidence: rp.RequiredConfidence,
		TrustedDevices:     rp.Devices,
		FailureRate:        rp.FailureRate,
		NightRatio:         rp.NightRatio,
		Anomalies:          rp.Anomalies,
		Enforced:           e.config.FaceID.EnforceAdaptiveConfidence,
	}, nil
}

// requiredConfidence is the adaptive floor applied to face matches. A risk
// read failure falls back to the low-tier floor.
func (e *Engine) requiredConfidence(ctx context.Context, userID string) float64 {
	if rp, ok := e.analytics.get(userID); ok {
		return rp.RequiredConfidence
	}
	rp, err := e.computeRisk(ctx, userID, e.adaptivePeriod)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Warn("analytics: risk unavailable, using baseline confidence")
		return e.thresholds.ConfidenceLow
	}
	e.analytics.put(rp)
	return rp.RequiredConfidence
}

// DetectSuspiciousActivity lists identities with at least
// Protection.FailureThreshold failed logins inside Protection.DetectionWindow.
func (e *Engine) DetectSuspiciousActivity(ctx context.Context) ([]Suspect, error) {
	if e == nil || e.auditStore == nil {
		return nil, ErrEngineNotReady
	}
	now := e.now()
	var entries []AuditEntry
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		entries, err = e.auditStore.Since(ctx, now.Add(-e.config.Protection.DetectionWindow))
		return err
	})
	if err != nil {
		return nil, err
	}
	return analytics.Suspicious(entries, e.config.Protection.FailureThreshold), nil
}
