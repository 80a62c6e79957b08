package fitauth

import (
	"errors"

	"github.com/roma-frontend/fitauth/internal/model"
	"github.com/roma-frontend/fitauth/internal/verify"
	"github.com/roma-frontend/fitauth/jwt"
)

var (
	// ErrInvalidCredentials is returned when a password or QR payload does not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotFound is returned when the referenced identity, profile or session
	// does not exist. Directory and profile stores return it too.
	ErrNotFound = model.ErrNotFound
	// ErrAccountBlocked is returned when credentials verify for an inactive identity.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrInsufficientBiometricData is returned for an empty face descriptor.
	ErrInsufficientBiometricData = errors.New("insufficient biometric data")
	// ErrNoBiometricMatch is returned when no usable face profile is close enough.
	ErrNoBiometricMatch = errors.New("no biometric match")
	// ErrQRExpired is returned for a QR payload past its validity window.
	ErrQRExpired = errors.New("qr code expired")
	// ErrRateLimited is returned when the attempt window for a key is full.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps directory, profile, session or limiter failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDeviceNotTrusted is returned when new-device gating denies a login.
	ErrDeviceNotTrusted = errors.New("device not trusted")
	// ErrInvalidToken is returned when an access token fails signature, expiry or revocation checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when an access token is past its expiry.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrAuditUnsupported is returned when the audit store lacks an optional capability.
	ErrAuditUnsupported = errors.New("audit store capability unsupported")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// User-facing login messages. Method-specific failure reasons collapse into
// one message per method.
const (
	MessagePasswordFailed    = "Invalid email or password"
	MessageFaceFailed        = "Face ID not recognized"
	MessageQRFailed          = "QR code invalid or expired"
	MessageRateLimited       = "Too many attempts. Try again later"
	MessageMethodUnsupported = "Unsupported login method"
)

func verifyErrors() verify.Errors {
	return verify.Errors{
		InvalidCredentials: ErrInvalidCredentials,
		NotFound:           ErrNotFound,
		InsufficientData:   ErrInsufficientBiometricData,
		NoMatch:            ErrNoBiometricMatch,
		Expired:            ErrQRExpired,
		Validation:         ErrValidation,
		BackendUnavailable: ErrBackendUnavailable,
	}
}

// auditReason maps an error onto the reason code stored in the audit trail.
func auditReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAccountBlocked):
		return "account_blocked"
	case errors.Is(err, ErrInsufficientBiometricData):
		return "insufficient_biometric_data"
	case errors.Is(err, ErrNoBiometricMatch):
		return "no_biometric_match"
	case errors.Is(err, ErrQRExpired):
		return "qr_expired"
	case errors.Is(err, ErrDeviceNotTrusted):
		return "device_rejected"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	default:
		return "internal_error"
	}
}

func failureMessage(m Method, err error) string {
	if errors.Is(err, ErrRateLimited) {
		return MessageRateLimited
	}
	switch m {
	case MethodPassword:
		return MessagePasswordFailed
	case MethodFace:
		return MessageFaceFailed
	case MethodQR:
		return MessageQRFailed
	default:
		return MessageMethodUnsupported
	}
}
