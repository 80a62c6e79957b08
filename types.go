package fitauth

import (
	"context"
	"time"

	"github.com/roma-frontend/fitauth/internal/analytics"
	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
	"github.com/roma-frontend/fitauth/internal/verify"
	"github.com/roma-frontend/fitauth/session"
)

type (
	// Identity is the directory record for one user.
	Identity = model.Identity
	// FaceProfile is the biometric credential of one identity.
	FaceProfile       = model.FaceProfile
	FaceProfileUpdate = model.FaceProfileUpdate
	FaceMatch         = model.FaceMatch
	Descriptor        = model.Descriptor
	DeviceInfo        = model.DeviceInfo
	Method            = model.Method

	// Credentials is the raw login input passed to [Engine.Login].
	Credentials = verify.Credentials

	AuditEntry      = audit.Entry
	AuditFilter     = audit.Filter
	PasswordAttempt = audit.PasswordAttempt
	FaceAttempt     = audit.FaceAttempt
	QRAttempt       = audit.QRAttempt

	RiskProfile    = analytics.RiskProfile
	RiskTier       = analytics.Tier
	SecurityReport = analytics.Report
	Suspect        = analytics.Suspect
	Period         = analytics.Period

	// Session is the server-side record behind an access token.
	Session = session.Session
)

const (
	MethodPassword = model.MethodPassword
	MethodFace     = model.MethodFace
	MethodQR       = model.MethodQR

	PeriodDay   = analytics.PeriodDay
	PeriodWeek  = analytics.PeriodWeek
	PeriodMonth = analytics.PeriodMonth
)

// UserDirectory owns identity records. Lookups return an error wrapping
// [ErrNotFound] for missing identities.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	BlockUser(ctx context.Context, id, reason, actor string) error
	UnblockUser(ctx context.Context, id, actor string) error
	UpdateFaceIDFlag(ctx context.Context, id string, enabled bool) error
}

// FaceProfileStore owns face profiles, at most one per identity.
//
// FindByDescriptor returns the closest profile that is either active or
// temporarily disabled; it returns [ErrNotFound] when none lies within
// threshold. Update replaces the biometric data in place and reactivates the
// profile, clearing any disable window and the re-registration flag.
// Deactivate clears any temporary disable window so the profile is not
// reactivated lazily.
type FaceProfileStore interface {
	FindByDescriptor(ctx context.Context, d Descriptor, threshold float64) (FaceMatch, error)
	GetByUserID(ctx context.Context, userID string) (FaceProfile, error)
	GetAll(ctx context.Context) ([]FaceProfile, error)
	Create(ctx context.Context, p FaceProfile) error
	Update(ctx context.Context, profileID string, u FaceProfileUpdate) error
	Touch(ctx context.Context, profileID string, at time.Time) error
	Deactivate(ctx context.Context, profileID, actor string) error
	TemporaryDisable(ctx context.Context, profileID string, until time.Time, reason, actor string) error
	Reactivate(ctx context.Context, profileID string) error
	MarkReregistrationRequired(ctx context.Context, profileID, actor string) error
}

// AuditStore persists audit entries. Stores may also implement
// audit.Querier and audit.Pruner.
type AuditStore = audit.Store

// Notifier delivers user notifications (email, push).
type Notifier interface {
	Send(ctx context.Context, userID, kind string, details map[string]string) error
}

// Notification kinds passed to [Notifier.Send].
const (
	NotifyAccountBlocked       = "account_blocked"
	NotifyAccountUnblocked     = "account_unblocked"
	NotifyAutoBlocked          = "auto_block"
	NotifyPasswordChanged      = "password_changed"
	NotifyNewDevice            = "new_device"
	NotifyDeviceRejected       = "device_rejected"
	NotifyFaceIDReregistration = "faceid_reregistration_required"
	NotifyFaceIDTemporarilyOff = "faceid_temporarily_disabled"
)

// UserInfo is the identity snapshot returned to callers. It never carries
// the password hash.
type UserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	FaceIDEnabled bool   `json:"face_id_enabled"`
}

func userInfo(id Identity) *UserInfo {
	return &UserInfo{ID: id.ID, Email: id.Email, Name: id.Name, Role: id.Role, FaceIDEnabled: id.FaceIDEnabled}
}

// LoginResult is the outcome of [Engine.Login]. Failures carry only the
// generic message for the method; the reason is kept in the audit trail.
type LoginResult struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Method    Method    `json:"method"`
	Token     string    `json:"token,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
	// NewDevice is set when the login came from a device not seen before.
	NewDevice bool `json:"new_device,omitempty"`
}

// TokenInfo is the validated content of an access token.
type TokenInfo struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	SessionID string    `json:"session_id"`
	Method    Method    `json:"method"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FaceRegistration is the input to face registration and update.
type FaceRegistration struct {
	Descriptor Descriptor
	// FaceData is base64 of a JSON number array, used when Descriptor is empty.
	FaceData   string
	Confidence float64
	Device     DeviceInfo
}

// FaceIDState is the lifecycle position of an identity's face credential.
type FaceIDState string

const (
	FaceIDUnregistered          FaceIDState = "unregistered"
	FaceIDActive                FaceIDState = "active"
	FaceIDTemporarilyDisabled   FaceIDState = "temporarily_disabled"
	FaceIDDeactivated           FaceIDState = "deactivated"
	FaceIDPendingReregistration FaceIDState = "pending_reregistration"
)

// FaceIDStatus describes an identity's face credential without its descriptor.
type FaceIDStatus struct {
	UserID         string      `json:"user_id"`
	State          FaceIDState `json:"state"`
	Enabled        bool        `json:"enabled"`
	ProfileID      string      `json:"profile_id,omitempty"`
	Confidence     float64     `json:"confidence,omitempty"`
	Device         DeviceInfo  `json:"device"`
	RegisteredAt   time.Time   `json:"registered_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at,omitempty"`
	LastUsedAt     time.Time   `json:"last_used_at,omitempty"`
	DisabledUntil  time.Time   `json:"disabled_until,omitempty"`
	DisabledReason string      `json:"disabled_reason,omitempty"`
}

// AdaptiveFaceIDSettings is the face policy derived from an identity's risk.
type AdaptiveFaceIDSettings struct {
	UserID             string   `json:"user_id"`
	RiskLevel          RiskTier `json:"risk_level"`
	RequiredConfidence float64  `json:"required_confidence"`
	TrustedDevices     []string `json:"trusted_devices"`
	FailureRate        float64  `json:"failure_rate"`
	NightRatio         float64  `json:"night_ratio"`
	Anomalies          []string `json:"anomalies,omitempty"`
	// Enforced reports whether face logins are rejected below RequiredConfidence.
	Enforced bool `json:"enforced"`
}

// ProtectionReport summarizes one auto-protection sweep.
type ProtectionReport struct {
	Suspects int      `json:"suspects"`
	Blocked  []string `json:"blocked"`
	Skipped  []string `json:"skipped"`
}

// ExportFormat selects the encoding of [Engine.ExportSecurityLogs].
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)
