package fitauth

import "github.com/roma-frontend/fitauth/internal/security"

// SecurityPosture describes the protections the engine runs with and the
// settings that weaken them.
type SecurityPosture = security.Posture

// SecurityPosture evaluates the engine configuration.
func (e *Engine) SecurityPosture() SecurityPosture {
	if e == nil {
		return SecurityPosture{Warnings: []string{}}
	}

	c := e.config
	return security.Evaluate(security.Input{
		SigningAlgorithm: c.JWT.SigningMethod,
		SessionLifetime:  c.Session.Lifetime,
		Password: security.PasswordParams{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		UpgradeOnLogin:        c.Password.UpgradeOnLogin,
		RateLimitBackend:      c.RateLimit.Backend,
		MaxAttempts:           c.RateLimit.MaxAttempts,
		RateWindow:            c.RateLimit.Window,
		DeviceGating:          c.Device.Enabled,
		AutoProtection:        c.Protection.Enabled,
		FaceIDAvailable:       e.profiles != nil,
		FaceDistanceThreshold: c.FaceID.DistanceThreshold,
		EnforceAdaptiveFace:   c.FaceID.EnforceAdaptiveConfidence,
		AuditChainKeyed:       len(c.Audit.ChainKey) > 0,
		AuditAsync:            c.Audit.Async,
		AuditDropIfFull:       c.Audit.DropIfFull,
		QRKeyEphemeral:        e.qrEphemeral,
		NotifierConfigured:    e.notifier != nil,
	})
}
