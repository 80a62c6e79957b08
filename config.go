package fitauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/roma-frontend/fitauth/internal/analytics"
	"github.com/roma-frontend/fitauth/password"
)

// Config holds every tunable of the Engine. Builders clone it, so a Config
// value may be reused after Build.
type Config struct {
	JWT          JWTConfig          `toml:"jwt"`
	Session      SessionConfig      `toml:"session"`
	RateLimit    RateLimitConfig    `toml:"rate_limit"`
	FaceID       FaceIDConfig       `toml:"face_id"`
	QR           QRConfig           `toml:"qr"`
	Password     PasswordConfig     `toml:"password"`
	Audit        AuditConfig        `toml:"audit"`
	Analytics    AnalyticsConfig    `toml:"analytics"`
	Protection   ProtectionConfig   `toml:"protection"`
	Device       DeviceConfig       `toml:"device"`
	Backend      BackendConfig      `toml:"backend"`
	Notification NotificationConfig `toml:"notification"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access token signing. The token lifetime follows
// Session.Lifetime.
type JWTConfig struct {
	SigningMethod string `toml:"signing_method"` // "hs256" (default) or "ed25519"
	PrivateKey    []byte `toml:"-"`
	PublicKey     []byte `toml:"-"`
	Issuer        string `toml:"issuer"`
	Audience      string `toml:"audience"`
	// Leeway tolerates clock skew on iat and nbf. Expiry is never extended.
	Leeway time.Duration `toml:"leeway"`
	KeyID  string        `toml:"key_id"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures session storage.
type SessionConfig struct {
	RedisPrefix string        `toml:"redis_prefix"`
	Lifetime    time.Duration `toml:"lifetime"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the login attempt window.
type RateLimitConfig struct {
	Window      time.Duration `toml:"window"`
	MaxAttempts int           `toml:"max_attempts"`
	// Backend is "memory" (default) or "redis".
	Backend string `toml:"backend"`
}

/*
====================================
FACE ID CONFIG
====================================
*/

// FaceIDConfig configures biometric matching and the profile lifecycle.
type FaceIDConfig struct {
	DistanceThreshold         float64 `toml:"distance_threshold"`
	MinRegistrationConfidence float64 `toml:"min_registration_confidence"`
	// DescriptorLength rejects descriptors of other lengths when non-zero.
	DescriptorLength int `toml:"descriptor_length"`
	// EnforceAdaptiveConfidence rejects face matches below the identity's
	// risk-derived required confidence.
	EnforceAdaptiveConfidence bool          `toml:"enforce_adaptive_confidence"`
	MaxTemporaryDisable       time.Duration `toml:"max_temporary_disable"`
}

/*
====================================
QR CONFIG
====================================
*/

// QRConfig configures QR login payloads. A random key is generated at Build
// when SigningKey is empty; payloads then do not survive a restart.
type QRConfig struct {
	Validity   time.Duration `toml:"validity"`
	SigningKey []byte        `toml:"-"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures Argon2id hashing.
type PasswordConfig struct {
	Memory         uint32 `toml:"memory"` // in KB
	Time           uint32 `toml:"time"`
	Parallelism    uint8  `toml:"parallelism"`
	SaltLength     uint32 `toml:"salt_length"`
	KeyLength      uint32 `toml:"key_length"`
	MinLength      int    `toml:"min_length"`
	MaxLength      int    `toml:"max_length"`
	UpgradeOnLogin bool   `toml:"upgrade_on_login"`
}

// Hasher returns an Argon2id hasher with these parameters. Tools that seed
// identity stores use it to produce hashes the engine accepts.
func (c PasswordConfig) Hasher() (*password.Argon2, error) {
	return password.NewArgon2(password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
		MinLength:   c.MinLength,
		MaxLength:   c.MaxLength,
	})
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the audit writer.
type AuditConfig struct {
	Async        bool          `toml:"async"`
	BufferSize   int           `toml:"buffer_size"`
	DropIfFull   bool          `toml:"drop_if_full"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	// ChainKey keys the HMAC chain. Without it entries are chained with plain SHA-256.
	ChainKey  []byte        `toml:"-"`
	Retention time.Duration `toml:"retention"`
}

/*
====================================
ANALYTICS CONFIG
====================================
*/

// AnalyticsConfig configures risk scoring.
type AnalyticsConfig struct {
	// Timezone is the IANA zone night hours are evaluated in. Empty means UTC.
	Timezone       string        `toml:"timezone"`
	AdaptivePeriod string        `toml:"adaptive_period"`
	RiskCacheTTL   time.Duration `toml:"risk_cache_ttl"`
	QueueSize      int           `toml:"queue_size"`

	HighFailureRate   float64 `toml:"high_failure_rate"`
	MediumFailureRate float64 `toml:"medium_failure_rate"`
	HighDevices       int     `toml:"high_devices"`
	AnomalyDevices    int     `toml:"anomaly_devices"`
	AnomalyNightRatio float64 `toml:"anomaly_night_ratio"`
}

/*
====================================
PROTECTION CONFIG
====================================
*/

// ProtectionConfig configures automatic blocking.
type ProtectionConfig struct {
	Enabled          bool          `toml:"enabled"`
	DetectionWindow  time.Duration `toml:"detection_window"`
	FailureThreshold int           `toml:"failure_threshold"`
	SweepInterval    time.Duration `toml:"sweep_interval"`
	BlockReason      string        `toml:"block_reason"`
}

/*
====================================
DEVICE CONFIG
====================================
*/

// DeviceConfig configures new-device gating on login.
type DeviceConfig struct {
	Enabled         bool          `toml:"enabled"`
	MaxNewDevices   int           `toml:"max_new_devices"`
	NewDeviceWindow time.Duration `toml:"new_device_window"`
	TrustLookback   time.Duration `toml:"trust_lookback"`
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendConfig bounds every call to an external collaborator.
type BackendConfig struct {
	Timeout time.Duration `toml:"timeout"`
}

/*
====================================
NOTIFICATION CONFIG
====================================
*/

// NotificationConfig configures the notification queue.
type NotificationConfig struct {
	BufferSize    int           `toml:"buffer_size"`
	RatePerSecond float64       `toml:"rate_per_second"`
	Burst         int           `toml:"burst"`
	SendTimeout   time.Duration `toml:"send_timeout"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

// DefaultConfig returns the stock configuration. JWT keys must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	th := analytics.DefaultThresholds()
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
		},
		Session: SessionConfig{
			RedisPrefix: "fs",
			Lifetime:    24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Window:      60 * time.Second,
			MaxAttempts: 10,
			Backend:     "memory",
		},
		FaceID: FaceIDConfig{
			DistanceThreshold:         0.6,
			MinRegistrationConfidence: 75,
			MaxTemporaryDisable:       30 * 24 * time.Hour,
		},
		QR: QRConfig{
			Validity: 5 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Async:        false,
			BufferSize:   1024,
			DropIfFull:   false,
			WriteTimeout: 2 * time.Second,
			Retention:    90 * 24 * time.Hour,
		},
		Analytics: AnalyticsConfig{
			AdaptivePeriod:    string(analytics.PeriodMonth),
			RiskCacheTTL:      10 * time.Minute,
			QueueSize:         256,
			HighFailureRate:   th.HighFailureRate,
			MediumFailureRate: th.MediumFailureRate,
			HighDevices:       th.HighDevices,
			AnomalyDevices:    th.AnomalyDevices,
			AnomalyNightRatio: th.AnomalyNightRatio,
		},
		Protection: ProtectionConfig{
			Enabled:          true,
			DetectionWindow:  time.Hour,
			FailureThreshold: analytics.DefaultFailureThreshold,
			SweepInterval:    5 * time.Minute,
			BlockReason:      "Automatic block: repeated failed logins",
		},
		Device: DeviceConfig{
			Enabled:         true,
			MaxNewDevices:   3,
			NewDeviceWindow: 24 * time.Hour,
			TrustLookback:   30 * 24 * time.Hour,
		},
		Backend: BackendConfig{
			Timeout: 800 * time.Millisecond,
		},
		Notification: NotificationConfig{
			BufferSize:    64,
			RatePerSecond: 10,
			Burst:         20,
			SendTimeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.QR.SigningKey = cloneBytes(cfg.QR.SigningKey)
	out.Audit.ChainKey = cloneBytes(cfg.Audit.ChainKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c Config) thresholds() analytics.Thresholds {
	th := analytics.DefaultThresholds()
	th.HighFailureRate = c.Analytics.HighFailureRate
	th.MediumFailureRate = c.Analytics.MediumFailureRate
	th.HighDevices = c.Analytics.HighDevices
	th.AnomalyDevices = c.Analytics.AnomalyDevices
	th.AnomalyNightRatio = c.Analytics.AnomalyNightRatio
	return th
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Rate limit
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	if c.RateLimit.MaxAttempts <= 0 {
		return errors.New("RateLimit MaxAttempts must be > 0")
	}
	if c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "redis" {
		return errors.New("RateLimit Backend must be 'memory' or 'redis'")
	}

	// Face ID
	if c.FaceID.DistanceThreshold <= 0 || c.FaceID.DistanceThreshold > 1 {
		return errors.New("FaceID DistanceThreshold must be in (0, 1]")
	}
	if c.FaceID.MinRegistrationConfidence < 0 || c.FaceID.MinRegistrationConfidence > 100 {
		return errors.New("FaceID MinRegistrationConfidence must be in [0, 100]")
	}
	if c.FaceID.DescriptorLength < 0 {
		return errors.New("FaceID DescriptorLength must be >= 0")
	}
	if c.FaceID.MaxTemporaryDisable <= 0 {
		return errors.New("FaceID MaxTemporaryDisable must be > 0")
	}

	// QR
	if c.QR.Validity <= 0 {
		return errors.New("QR Validity must be > 0")
	}
	if len(c.QR.SigningKey) > 0 && len(c.QR.SigningKey) < 32 {
		return errors.New("QR SigningKey must be at least 32 bytes")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MinLength must be >= 1 and <= MaxLength")
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Async is true")
	}
	if c.Audit.WriteTimeout <= 0 {
		return errors.New("Audit WriteTimeout must be > 0")
	}
	if c.Audit.Retention < 0 {
		return errors.New("Audit Retention must be >= 0")
	}

	// Analytics
	if _, err := time.LoadLocation(c.Analytics.Timezone); err != nil {
		return fmt.Errorf("Analytics Timezone is invalid: %w", err)
	}
	if _, err := analytics.ParsePeriod(c.Analytics.AdaptivePeriod); err != nil {
		return fmt.Errorf("Analytics AdaptivePeriod is invalid: %w", err)
	}
	if c.Analytics.RiskCacheTTL <= 0 {
		return errors.New("Analytics RiskCacheTTL must be > 0")
	}
	if c.Analytics.QueueSize <= 0 {
		return errors.New("Analytics QueueSize must be > 0")
	}
	if c.Analytics.MediumFailureRate <= 0 || c.Analytics.HighFailureRate < c.Analytics.MediumFailureRate || c.Analytics.HighFailureRate > 1 {
		return errors.New("Analytics failure rates must satisfy 0 < Medium <= High <= 1")
	}
	if c.Analytics.AnomalyDevices <= 0 || c.Analytics.HighDevices < c.Analytics.AnomalyDevices {
		return errors.New("Analytics device counts must satisfy 0 < AnomalyDevices <= HighDevices")
	}
	if c.Analytics.AnomalyNightRatio <= 0 || c.Analytics.AnomalyNightRatio > 1 {
		return errors.New("Analytics AnomalyNightRatio must be in (0, 1]")
	}

	// Protection
	if c.Protection.DetectionWindow <= 0 {
		return errors.New("Protection DetectionWindow must be > 0")
	}
	if c.Protection.FailureThreshold <= 0 {
		return errors.New("Protection FailureThreshold must be > 0")
	}
	if c.Protection.SweepInterval <= 0 {
		return errors.New("Protection SweepInterval must be > 0")
	}

	// Device
	if c.Device.Enabled {
		if c.Device.MaxNewDevices <= 0 {
			return errors.New("Device MaxNewDevices must be > 0 when Enabled is true")
		}
		if c.Device.NewDeviceWindow <= 0 || c.Device.TrustLookback < c.Device.NewDeviceWindow {
			return errors.New("Device windows must satisfy 0 < NewDeviceWindow <= TrustLookback")
		}
	}

	// Backend
	if c.Backend.Timeout <= 0 {
		return errors.New("Backend Timeout must be > 0")
	}

	// Notification
	if c.Notification.BufferSize <= 0 {
		return errors.New("Notification BufferSize must be > 0")
	}
	if c.Notification.RatePerSecond <= 0 || c.Notification.Burst <= 0 {
		return errors.New("Notification RatePerSecond and Burst must be > 0")
	}
	if c.Notification.SendTimeout <= 0 {
		return errors.New("Notification SendTimeout must be > 0")
	}

	return nil
}

// fileSecrets carries key material in a config file. Keys are plain strings.
type fileSecrets struct {
	Secrets struct {
		JWTPrivateKey string `toml:"jwt_private_key"`
		JWTPublicKey  string `toml:"jwt_public_key"`
		QRSigningKey  string `toml:"qr_signing_key"`
		AuditChainKey string `toml:"audit_chain_key"`
	} `toml:"secrets"`
}

// LoadConfigFile overlays the TOML file at path onto the defaults. Durations
// are written as strings ("60s", "24h"); key material lives under [secrets].
// The result is not validated.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	var sec fileSecrets
	if _, err := toml.DecodeFile(path, &sec); err != nil {
		return Config{}, fmt.Errorf("decode config secrets %s: %w", path, err)
	}
	if s := sec.Secrets.JWTPrivateKey; s != "" {
		cfg.JWT.PrivateKey = []byte(s)
	}
	if s := sec.Secrets.JWTPublicKey; s != "" {
		cfg.JWT.PublicKey = []byte(s)
	}
	if s := sec.Secrets.QRSigningKey; s != "" {
		cfg.QR.SigningKey = []byte(s)
	}
	if s := sec.Secrets.AuditChainKey; s != "" {
		cfg.Audit.ChainKey = []byte(s)
	}
	return cfg, nil
}
