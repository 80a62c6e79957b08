// Package model holds the identity and biometric records shared by the engine,
// its internal flows and the store adapters.
//
// # What this package must NOT do
//
//   - Import fitauth or any sibling package.
//   - Perform I/O.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by directory and profile stores when the requested
// record does not exist.
var ErrNotFound = errors.New("not found")

// Method tags the credential type used for an authentication attempt.
type Method string

const (
	MethodPassword Method = "password"
	MethodFace     Method = "face-id"
	MethodQR       Method = "qr-code"
	// MethodNone marks audit entries that are not authentication attempts.
	MethodNone Method = ""
)

// Valid reports whether m is one of the supported login methods.
func (m Method) Valid() bool {
	switch m {
	case MethodPassword, MethodFace, MethodQR:
		return true
	}
	return false
}

// Identity is the directory record for one user.
type Identity struct {
	ID            string
	Email         string
	Name          string
	Role          string
	PasswordHash  string
	Active        bool
	FaceIDEnabled bool
	LastLogin     time.Time

	BlockedReason string
	BlockedBy     string
	BlockedAt     time.Time
}

// Descriptor is a fixed-length face feature vector.
type Descriptor []float64

// DeviceInfo describes the client a biometric profile was captured on.
type DeviceInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Class     string `json:"class,omitempty"`
}

// FaceProfile is the biometric credential of one identity. A profile is
// replaced in place on re-registration and deactivated instead of deleted.
type FaceProfile struct {
	ID           string
	UserID       string
	Descriptor   Descriptor
	Confidence   float64
	Active       bool
	Device       DeviceInfo
	RegisteredAt time.Time
	UpdatedAt    time.Time
	LastUsedAt   time.Time

	// DisabledUntil is non-zero while the profile is temporarily disabled.
	DisabledUntil  time.Time
	DisabledReason string
	DisabledBy     string

	ReregistrationRequired bool
}

// TemporarilyDisabled reports whether the profile carries a temporary
// disable window, elapsed or not.
func (p FaceProfile) TemporarilyDisabled() bool {
	return !p.Active && !p.DisabledUntil.IsZero()
}

// FaceProfileUpdate replaces the biometric data of an existing profile.
type FaceProfileUpdate struct {
	Descriptor Descriptor
	Confidence float64
	Device     DeviceInfo
	UpdatedAt  time.Time
}

// FaceMatch is the closest profile returned by a descriptor search.
type FaceMatch struct {
	Profile  FaceProfile
	Distance float64
}

// Similarity converts a descriptor distance into a 0..100 confidence score.
func Similarity(distance float64) float64 {
	s := (1 - distance) * 100
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// NormalizeEmail lowercases and trims an email address for lookups and
// rate-limit keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DeviceClass buckets a user agent into mobile, tablet, desktop or unknown.
func DeviceClass(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return "mobile"
	default:
		return "desktop"
	}
}

// DeviceToken fingerprints a client as "<class>:<hash prefix>" so raw user
// agents never reach the audit trail.
func DeviceToken(userAgent string) string {
	class := DeviceClass(userAgent)
	if userAgent == "" {
		return class
	}
	sum := sha256.Sum256([]byte(userAgent))
	return class + ":" + hex.EncodeToString(sum[:4])
}
