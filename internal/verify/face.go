package verify

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
)

// DefaultDistanceThreshold admits matches at or above roughly 60% similarity.
const DefaultDistanceThreshold = 0.6

// Profiles is the biometric lookup used by the face verifier.
type Profiles interface {
	FindByDescriptor(ctx context.Context, d model.Descriptor, threshold float64) (model.FaceMatch, error)
	Touch(ctx context.Context, profileID string, at time.Time) error
	Reactivate(ctx context.Context, profileID string) error
}

// FaceConfig tunes descriptor matching.
type FaceConfig struct {
	DistanceThreshold float64
	// DescriptorLength rejects descriptors of any other length when non-zero.
	DescriptorLength int
	// MinConfidence, when set, returns the confidence a match for userID
	// must reach on top of the distance threshold.
	MinConfidence func(ctx context.Context, userID string) float64
	// Reactivate, when set, reactivates the elapsed temporary disable of
	// userID's profile and returns the profile as stored afterwards. The
	// caller serializes it with other lifecycle changes of that profile.
	Reactivate func(ctx context.Context, userID string) (model.FaceProfile, error)
}

// Face verifies a face descriptor against stored profiles.
type Face struct {
	cfg      FaceConfig
	dir      Directory
	profiles Profiles
	errs     Errors
	timeout  time.Duration
	now      func() time.Time
}

func NewFace(cfg FaceConfig, dir Directory, profiles Profiles, errs Errors, timeout time.Duration, now func() time.Time) *Face {
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = DefaultDistanceThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Face{cfg: cfg, dir: dir, profiles: profiles, errs: errs, timeout: timeout, now: now}
}

func (f *Face) Method() model.Method { return model.MethodFace }

// RateKey charges the client address, else its user agent. Attempts with
// neither are charged to a coarse fingerprint of the probe itself.
func (f *Face) RateKey(c Credentials) string {
	if c.IP != "" {
		return "face:" + c.IP
	}
	if c.UserAgent != "" {
		return "face:" + model.DeviceToken(c.UserAgent)
	}
	return "face-probe:" + probeFingerprint(c)
}

// probeFingerprint hashes the descriptor rounded to two decimals, or the raw
// face data when no descriptor is given.
func probeFingerprint(c Credentials) string {
	h := sha256.New()
	if len(c.Descriptor) == 0 {
		h.Write([]byte(strings.TrimSpace(c.FaceData)))
	} else {
		for _, v := range c.Descriptor {
			fmt.Fprintf(h, "%.2f,", v)
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// DecodeDescriptor parses base64 of a JSON number array.
func DecodeDescriptor(payload string) (model.Descriptor, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("face data is not base64: %w", err)
		}
	}
	var d model.Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("face data is not a descriptor: %w", err)
	}
	return d, nil
}

func (f *Face) descriptor(c Credentials) (model.Descriptor, error) {
	d := c.Descriptor
	if len(d) == 0 {
		decoded, err := DecodeDescriptor(c.FaceData)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", f.errs.Validation, err)
		}
		d = decoded
	}
	if len(d) == 0 {
		return nil, f.errs.InsufficientData
	}
	if f.cfg.DescriptorLength > 0 && len(d) != f.cfg.DescriptorLength {
		return nil, fmt.Errorf("%w: descriptor has %d values, want %d", f.errs.InsufficientData, len(d), f.cfg.DescriptorLength)
	}
	for _, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: descriptor contains non-finite values", f.errs.Validation)
		}
	}
	return d, nil
}

func (f *Face) Verify(ctx context.Context, c Credentials) (Result, error) {
	attempt := audit.FaceAttempt{DeviceClass: model.DeviceClass(c.UserAgent), Quality: audit.QualityTier(0)}
	res := Result{Attempt: attempt}

	d, err := f.descriptor(c)
	if err != nil {
		return res, err
	}

	match, err := lookup(ctx, f.timeout, f.errs, func(ctx context.Context) (model.FaceMatch, error) {
		return f.profiles.FindByDescriptor(ctx, d, f.cfg.DistanceThreshold)
	})
	if err != nil {
		if errors.Is(err, f.errs.NotFound) {
			return res, f.errs.NoMatch
		}
		return res, err
	}

	confidence := model.Similarity(match.Distance)
	attempt.Confidence = confidence
	attempt.Quality = audit.QualityTier(confidence)
	attempt.ProfileID = match.Profile.ID
	res.Attempt = attempt

	if match.Distance > f.cfg.DistanceThreshold {
		return res, f.errs.NoMatch
	}

	profile := match.Profile
	now := f.now()
	if !profile.Active {
		if !profile.TemporarilyDisabled() || now.Before(profile.DisabledUntil) {
			return res, f.errs.NoMatch
		}
		current, err := f.reactivate(ctx, profile)
		if err != nil {
			if errors.Is(err, f.errs.NotFound) {
				return res, f.errs.NoMatch
			}
			return res, err
		}
		if current.ID != profile.ID || !current.Active {
			return res, f.errs.NoMatch
		}
		res.Detail = "profile reactivated after temporary disable"
	}

	if f.cfg.MinConfidence != nil {
		if required := f.cfg.MinConfidence(ctx, profile.UserID); confidence < required {
			res.Detail = fmt.Sprintf("confidence %.1f below adaptive floor %.0f", confidence, required)
			return res, f.errs.NoMatch
		}
	}

	id, err := lookup(ctx, f.timeout, f.errs, func(ctx context.Context) (model.Identity, error) {
		return f.dir.GetByID(ctx, profile.UserID)
	})
	if err != nil {
		return res, err
	}
	res.Identity = id

	// Last-used is bookkeeping; a failed touch does not fail the login.
	if _, err := lookup(ctx, f.timeout, f.errs, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f.profiles.Touch(ctx, profile.ID, now)
	}); err != nil {
		res.Detail = strings.TrimSpace(res.Detail + " last-used update failed")
	}
	return res, nil
}

func (f *Face) reactivate(ctx context.Context, p model.FaceProfile) (model.FaceProfile, error) {
	if f.cfg.Reactivate != nil {
		return f.cfg.Reactivate(ctx, p.UserID)
	}
	if _, err := lookup(ctx, f.timeout, f.errs, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f.profiles.Reactivate(ctx, p.ID)
	}); err != nil {
		return model.FaceProfile{}, err
	}
	p.Active = true
	p.DisabledUntil = time.Time{}
	return p, nil
}
