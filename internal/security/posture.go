package security

import (
	"fmt"
	"time"
)

// RecommendedPasswordMemory is the Argon2id memory cost, in KiB, below which
// a warning is raised.
const RecommendedPasswordMemory = 64 * 1024

// RecommendedFaceDistance is the largest descriptor distance considered safe
// for matching.
const RecommendedFaceDistance = 0.6

type PasswordParams struct {
	Memory      uint32 `json:"memory"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
	SaltLength  uint32 `json:"salt_length"`
	KeyLength   uint32 `json:"key_length"`
}

// Input is the configuration slice the posture is derived from.
type Input struct {
	SigningAlgorithm      string
	SessionLifetime       time.Duration
	Password              PasswordParams
	UpgradeOnLogin        bool
	RateLimitBackend      string
	MaxAttempts           int
	RateWindow            time.Duration
	DeviceGating          bool
	AutoProtection        bool
	FaceIDAvailable       bool
	FaceDistanceThreshold float64
	EnforceAdaptiveFace   bool
	AuditChainKeyed       bool
	AuditAsync            bool
	AuditDropIfFull       bool
	QRKeyEphemeral        bool
	NotifierConfigured    bool
}

// Posture summarizes the effective protections. Warnings is never nil.
type Posture struct {
	SigningAlgorithm      string         `json:"signing_algorithm"`
	SessionLifetime       time.Duration  `json:"session_lifetime"`
	Argon2                PasswordParams `json:"argon2"`
	PasswordUpgrade       bool           `json:"password_upgrade"`
	RateLimitingActive    bool           `json:"rate_limiting_active"`
	DistributedRateLimit  bool           `json:"distributed_rate_limit"`
	DeviceGating          bool           `json:"device_gating"`
	AutoProtection        bool           `json:"auto_protection"`
	FaceIDAvailable       bool           `json:"face_id_available"`
	FaceDistanceThreshold float64        `json:"face_distance_threshold"`
	AdaptiveFaceEnforced  bool           `json:"adaptive_face_enforced"`
	TamperEvidentAudit    bool           `json:"tamper_evident_audit"`
	LossyAudit            bool           `json:"lossy_audit"`
	PersistentQRKey       bool           `json:"persistent_qr_key"`
	Notifications         bool           `json:"notifications"`
	Warnings              []string       `json:"warnings"`
}

// Evaluate derives the posture of in.
func Evaluate(in Input) Posture {
	p := Posture{
		SigningAlgorithm:      in.SigningAlgorithm,
		SessionLifetime:       in.SessionLifetime,
		Argon2:                in.Password,
		PasswordUpgrade:       in.UpgradeOnLogin,
		RateLimitingActive:    in.MaxAttempts > 0 && in.RateWindow > 0,
		DistributedRateLimit:  in.RateLimitBackend == "redis",
		DeviceGating:          in.DeviceGating,
		AutoProtection:        in.AutoProtection,
		FaceIDAvailable:       in.FaceIDAvailable,
		FaceDistanceThreshold: in.FaceDistanceThreshold,
		AdaptiveFaceEnforced:  in.FaceIDAvailable && in.EnforceAdaptiveFace,
		TamperEvidentAudit:    in.AuditChainKeyed,
		LossyAudit:            in.AuditAsync && in.AuditDropIfFull,
		PersistentQRKey:       !in.QRKeyEphemeral,
		Notifications:         in.NotifierConfigured,
		Warnings:              []string{},
	}

	warn := func(format string, args ...any) {
		p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
	}
	if !p.DistributedRateLimit {
		warn("rate limits are per process; use the redis backend when running more than one instance")
	}
	if in.Password.Memory < RecommendedPasswordMemory {
		warn("argon2 memory %d KiB is below the recommended %d KiB", in.Password.Memory, RecommendedPasswordMemory)
	}
	if in.FaceIDAvailable && in.FaceDistanceThreshold > RecommendedFaceDistance {
		warn("face distance threshold %.2f is above the recommended %.2f", in.FaceDistanceThreshold, RecommendedFaceDistance)
	}
	if !p.TamperEvidentAudit {
		warn("audit chain key not set; the chain is hashed without a secret")
	}
	if p.LossyAudit {
		warn("audit entries are dropped when the async buffer is full")
	}
	if !p.PersistentQRKey {
		warn("qr signing key is ephemeral; issued payloads do not survive a restart")
	}
	if !p.AutoProtection {
		warn("auto-protection is disabled")
	}
	return p
}
