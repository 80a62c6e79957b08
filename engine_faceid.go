package fitauth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
	"github.com/roma-frontend/fitauth/internal/verify"
)

func (e *Engine) faceReady() error {
	if e == nil || e.profiles == nil {
		return ErrEngineNotReady
	}
	return nil
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return fmt.Errorf("%w: actor required", ErrValidation)
	}
	return nil
}

// faceDescriptor validates a registration payload and returns its descriptor.
func (e *Engine) faceDescriptor(reg FaceRegistration) (Descriptor, error) {
	d := reg.Descriptor
	if len(d) == 0 && reg.FaceData != "" {
		decoded, err := verify.DecodeDescriptor(reg.FaceData)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		d = decoded
	}
	if len(d) == 0 {
		return nil, ErrInsufficientBiometricData
	}
	if n := e.config.FaceID.DescriptorLength; n > 0 && len(d) != n {
		return nil, fmt.Errorf("%w: descriptor length %d, want %d", ErrValidation, len(d), n)
	}
	for _, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: descriptor contains non-finite values", ErrValidation)
		}
	}
	if reg.Confidence > 100 || math.IsNaN(reg.Confidence) {
		return nil, fmt.Errorf("%w: confidence %.1f outside 0..100", ErrValidation, reg.Confidence)
	}
	if reg.Confidence < e.config.FaceID.MinRegistrationConfidence {
		return nil, fmt.Errorf("%w: confidence %.1f below required %.0f", ErrValidation, reg.Confidence, e.config.FaceID.MinRegistrationConfidence)
	}
	return d, nil
}

func (e *Engine) profileOf(ctx context.Context, userID string) (FaceProfile, error) {
	var p FaceProfile
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		p, err = e.profiles.GetByUserID(ctx, userID)
		return err
	})
	return p, err
}

func (e *Engine) setFaceFlag(ctx context.Context, userID string, enabled bool) error {
	return e.backend(ctx, func(ctx context.Context) error {
		return e.directory.UpdateFaceIDFlag(ctx, userID, enabled)
	})
}

func (e *Engine) recordFace(ctx context.Context, action, userID, actor string, err error, detail string) {
	if actor == "" {
		actor = userID
	}
	e.record(ctx, audit.Entry{
		UserID:  userID,
		Action:  action,
		Success: err == nil,
		Reason:  auditReason(err),
		Actor:   actor,
		IP:      clientIPFromContext(ctx),
		Device:  deviceFromContext(ctx),
		Detail:  detail,
	})
}

func deviceFromContext(ctx context.Context) string {
	ua := userAgentFromContext(ctx)
	if ua == "" {
		return ""
	}
	return model.DeviceToken(ua)
}

// RegisterFaceID stores a face profile for userID, replacing any existing
// profile in place. The capture confidence must reach
// FaceID.MinRegistrationConfidence.
func (e *Engine) RegisterFaceID(ctx context.Context, userID string, reg FaceRegistration) (FaceIDStatus, error) {
	if err := e.faceReady(); err != nil {
		return FaceIDStatus{}, err
	}
	unlock := e.faceLocks.Lock(userID)
	defer unlock()

	status, err := e.registerFace(ctx, userID, reg)
	e.recordFace(ctx, ActionFaceRegister, userID, userID, err, fmt.Sprintf("confidence %.1f", reg.Confidence))
	if err != nil {
		return FaceIDStatus{}, err
	}
	e.metricInc(MetricFaceRegistered)
	return status, nil
}

func (e *Engine) registerFace(ctx context.Context, userID string, reg FaceRegistration) (FaceIDStatus, error) {
	if _, err := e.getIdentity(ctx, userID); err != nil {
		return FaceIDStatus{}, err
	}
	d, err := e.faceDescriptor(reg)
	if err != nil {
		return FaceIDStatus{}, err
	}

	now := e.now()
	existing, err := e.profileOf(ctx, userID)
	switch {
	case err == nil:
		err = e.backend(ctx, func(ctx context.Context) error {
			return e.profiles.Update(ctx, existing.ID, FaceProfileUpdate{
				Descriptor: d,
				Confidence: reg.Confidence,
				Device:     reg.Device,
				UpdatedAt:  now,
			})
		})
		if err != nil {
			return FaceIDStatus{}, err
		}
		existing.UpdatedAt = now
	case errors.Is(err, ErrNotFound):
		existing = FaceProfile{
			ID:           uuid.NewString(),
			UserID:       userID,
			Descriptor:   d,
			Confidence:   reg.Confidence,
			Active:       true,
			Device:       reg.Device,
			RegisteredAt: now,
			UpdatedAt:    now,
		}
		err = e.backend(ctx, func(ctx context.Context) error {
			return e.profiles.Create(ctx, existing)
		})
		if err != nil {
			return FaceIDStatus{}, err
		}
	default:
		return FaceIDStatus{}, err
	}

	if err := e.setFaceFlag(ctx, userID, true); err != nil {
		return FaceIDStatus{}, err
	}

	return FaceIDStatus{
		UserID:       userID,
		State:        FaceIDActive,
		Enabled:      true,
		ProfileID:    existing.ID,
		Confidence:   reg.Confidence,
		Device:       reg.Device,
		RegisteredAt: existing.RegisteredAt,
		UpdatedAt:    existing.UpdatedAt,
		LastUsedAt:   existing.LastUsedAt,
	}, nil
}

// UpdateFaceID replaces the descriptor of an active profile in place.
// Disabled or deactivated profiles must go through RegisterFaceID.
func (e *Engine) UpdateFaceID(ctx context.Context, userID string, reg FaceRegistration) (FaceIDStatus, error) {
	if err := e.faceReady(); err != nil {
		return FaceIDStatus{}, err
	}
	unlock := e.faceLocks.Lock(userID)
	defer unlock()

	status, err := e.updateFace(ctx, userID, reg)
	e.recordFace(ctx, ActionFaceUpdate, userID, userID, err, fmt.Sprintf("confidence %.1f", reg.Confidence))
	if err != nil {
		return FaceIDStatus{}, err
	}
	e.metricInc(MetricFaceUpdated)
	return status, nil
}

func (e *Engine) updateFace(ctx context.Context, userID string, reg FaceRegistration) (FaceIDStatus, error) {
	p, err := e.profileOf(ctx, userID)
	if err != nil {
		return FaceIDStatus{}, err
	}
	if !p.Active {
		return FaceIDStatus{}, fmt.Errorf("%w: face id is not active", ErrValidation)
	}
	d, err := e.faceDescriptor(reg)
	if err != nil {
		return FaceIDStatus{}, err
	}

	now := e.now()
	err = e.backend(ctx, func(ctx context.Context) error {
		return e.profiles.Update(ctx, p.ID, FaceProfileUpdate{
			Descriptor: d,
			Confidence: reg.Confidence,
			Device:     reg.Device,
			UpdatedAt:  now,
		})
	})
	if err != nil {
		return FaceIDStatus{}, err
	}

	return FaceIDStatus{
		UserID:       userID,
		State:        FaceIDActive,
		Enabled:      true,
		ProfileID:    p.ID,
		Confidence:   reg.Confidence,
		Device:       reg.Device,
		RegisteredAt: p.RegisteredAt,
		UpdatedAt:    now,
		LastUsedAt:   p.LastUsedAt,
	}, nil
}

// DisableFaceID deactivates the profile and clears the identity's Face ID flag.
func (e *Engine) DisableFaceID(ctx context.Context, userID, actor string) error {
	if err := e.faceReady(); err != nil {
		return err
	}
	if err := requireActor(actor); err != nil {
		return err
	}
	unlock := e.faceLocks.Lock(userID)
	defer unlock()

	err := e.disableFace(ctx, userID, actor)
	e.recordFace(ctx, ActionFaceDisable, userID, actor, err, "")
	if err != nil {
		return err
	}
	e.metricInc(MetricFaceDisabled)
	return nil
}

func (e *Engine) disableFace(ctx context.Context, userID, actor string) error {
	p, err := e.profileOf(ctx, userID)
	if err != nil {
		return err
	}
	err = e.backend(ctx, func(ctx context.Context) error {
		return e.profiles.Deactivate(ctx, p.ID, actor)
	})
	if err != nil {
		return err
	}
	return e.setFaceFlag(ctx, userID, false)
}

// TemporaryDisableFaceID suspends face login for duration. The profile is
// reactivated lazily by the first face login or status read after the
// window ends. It returns the end of the window.
func (e *Engine) TemporaryDisableFaceID(ctx context.Context, userID string, duration time.Duration, reason, actor string) (time.Time, error) {
	if err := e.faceReady(); err != nil {
		return time.Time{}, err
	}
	if err := requireActor(actor); err != nil {
		return time.Time{}, err
	}
	unlock := e.faceLocks.Lock(userID)
	defer unlock()

	until := e.now().Add(duration)
	err := e.temporaryDisableFace(ctx, userID, duration, until, reason, actor)
	e.recordFace(ctx, ActionFaceTemporaryDisable, userID, actor, err,
		fmt.Sprintf("until %s: %s", until.UTC().Format(time.RFC3339), reason))
	if err != nil {
		return time.Time{}, err
	}
	e.metricInc(MetricFaceDisabled)
	e.notify(ctx, userID, NotifyFaceIDTemporarilyOff, map[string]string{
		"until":  until.UTC().Format(time.RFC3339),
		"reason": reason,
	})
	return until, nil
}

func (e *Engine) temporaryDisableFace(ctx context.Context, userID string, duration time.Duration, until time.Time, reason, actor string) error {
	if duration <= 0 || duration > e.config.FaceID.MaxTemporaryDisable {
		return fmt.Errorf("%w: duration must be in (0, %s]", ErrValidation, e.config.FaceID.MaxTemporaryDisable)
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: reason required", ErrValidation)
	}
	p, err := e.profileOf(ctx, userID)
	if err != nil {
		return err
	}
	if !p.Active && !p.TemporarilyDisabled() {
		return fmt.Errorf("%w: face id is deactivated", ErrValidation)
	}
	return e.backend(ctx, func(ctx context.Context) error {
		return e.profiles.TemporaryDisable(ctx, p.ID, until, reason, actor)
	})
}

// ForceFaceIDReregistration deactivates the profile and requires a fresh
// registration before face login works again.
func (e *Engine) ForceFaceIDReregistration(ctx context.Context, userID, reason, actor string) error {
	if err := e.faceReady(); err != nil {
		return err
	}
	if err := requireActor(actor); err != nil {
		return err
	}
	unlock := e.faceLocks.Lock(userID)
	defer unlock()

	err := e.forceReregistration(ctx, userID, actor)
	e.recordFace(ctx, ActionFaceForceReregister, userID, actor, err, reason)
	if err != nil {
		return err
	}
	e.metricInc(MetricFaceReregistrationForced)
	e.notify(ctx, userID, NotifyFaceIDReregistration, map[string]string{"reason": reason})
	return nil
}

func (e *Engine) forceReregistration(ctx context.Context, userID, actor string) error {
	p, err := e.profileOf(ctx, userID)
	if err != nil {
		return err
	}
	err = e.backend(ctx, func(ctx context.Context) error {
		if err := e.profiles.Deactivate(ctx, p.ID, actor); err != nil {
			return err
		}
		return e.profiles.MarkReregistrationRequired(ctx, p.ID, actor)
	})
	if err != nil {
		return err
	}
	return e.setFaceFlag(ctx, userID, false)
}

// GetFaceIDStatus reports the lifecycle state of userID's face credential.
// An elapsed temporary disable is reactivated as a side effect.
func (e *Engine) GetFaceIDStatus(ctx context.Context, userID string) (FaceIDStatus, error) {
	if err := e.faceReady(); err != nil {
		return FaceIDStatus{}, err
	}
	id, err := e.getIdentity(ctx, userID)
	if err != nil {
		return FaceIDStatus{}, err
	}

	p, err := e.profileOf(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return FaceIDStatus{UserID: userID, State: FaceIDUnregistered, Enabled: id.FaceIDEnabled}, nil
	}
	if err != nil {
		return FaceIDStatus{}, err
	}

	if p.TemporarilyDisabled() && !e.now().Before(p.DisabledUntil) {
		if p, err = e.reactivateFace(ctx, userID); err != nil {
			return FaceIDStatus{}, err
		}
	}

	st := FaceIDStatus{
		UserID:         userID,
		Enabled:        id.FaceIDEnabled,
		ProfileID:      p.ID,
		Confidence:     p.Confidence,
		Device:         p.Device,
		RegisteredAt:   p.RegisteredAt,
		UpdatedAt:      p.UpdatedAt,
		LastUsedAt:     p.LastUsedAt,
		DisabledUntil:  p.DisabledUntil,
		DisabledReason: p.DisabledReason,
	}
	switch {
	case p.Active:
		st.State = FaceIDActive
	case p.ReregistrationRequired:
		st.State = FaceIDPendingReregistration
	case p.TemporarilyDisabled():
		st.State = FaceIDTemporarilyDisabled
	default:
		st.State = FaceIDDeactivated
	}
	return st, nil
}

// reactivateFace re-reads the profile under the identity lock and
// reactivates it when its disable window is still the one that elapsed.
func (e *Engine) reactivateFace(ctx context.Context, userID string) (FaceProfile, error) {
	unlock := e.faceLocks.Lock(userID)
	defer unlock()

	p, err := e.profileOf(ctx, userID)
	if err != nil {
		return FaceProfile{}, err
	}
	if !p.TemporarilyDisabled() || e.now().Before(p.DisabledUntil) {
		return p, nil
	}

	err = e.backend(ctx, func(ctx context.Context) error {
		return e.profiles.Reactivate(ctx, p.ID)
	})
	if err != nil {
		return FaceProfile{}, err
	}
	util.Log(ctx).WithField("user_id", userID).Info("faceid: temporary disable elapsed, profile reactivated")
	e.metricInc(MetricFaceReactivated)
	e.recordFace(ctx, ActionFaceReactivated, userID, ActorSystem, nil, "temporary disable elapsed")

	p.Active = true
	p.DisabledUntil = time.Time{}
	p.DisabledReason = ""
	p.DisabledBy = ""
	return p, nil
}
