package memory

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/roma-frontend/fitauth/internal/model"
)

// ErrProfileExists is returned by Create when the identity already owns a profile.
var ErrProfileExists = errors.New("face profile already exists for identity")

// FaceProfiles keeps at most one profile per identity.
type FaceProfiles struct {
	mu     sync.RWMutex
	byID   map[string]model.FaceProfile
	byUser map[string]string
}

func NewFaceProfiles() *FaceProfiles {
	return &FaceProfiles{
		byID:   make(map[string]model.FaceProfile),
		byUser: make(map[string]string),
	}
}

// Distance is the Euclidean distance between two descriptors. Descriptors of
// different lengths are infinitely far apart.
func Distance(a, b model.Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// FindByDescriptor returns the nearest active or temporarily disabled
// profile within threshold.
func (s *FaceProfiles) FindByDescriptor(_ context.Context, d model.Descriptor, threshold float64) (model.FaceMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := model.FaceMatch{Distance: math.Inf(1)}
	found := false
	for _, p := range s.byID {
		if !p.Active && !p.TemporarilyDisabled() {
			continue
		}
		dist := Distance(d, p.Descriptor)
		if dist <= threshold && dist < best.Distance {
			best = model.FaceMatch{Profile: cloneProfile(p), Distance: dist}
			found = true
		}
	}
	if !found {
		return model.FaceMatch{}, model.ErrNotFound
	}
	return best, nil
}

func (s *FaceProfiles) GetByUserID(_ context.Context, userID string) (model.FaceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok {
		return model.FaceProfile{}, model.ErrNotFound
	}
	return cloneProfile(s.byID[id]), nil
}

func (s *FaceProfiles) GetAll(_ context.Context) ([]model.FaceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FaceProfile, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, cloneProfile(p))
	}
	return out, nil
}

func (s *FaceProfiles) Create(_ context.Context, p model.FaceProfile) error {
	if p.ID == "" || p.UserID == "" {
		return errors.New("profile id and user id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[p.UserID]; ok {
		return ErrProfileExists
	}
	s.byID[p.ID] = cloneProfile(p)
	s.byUser[p.UserID] = p.ID
	return nil
}

func (s *FaceProfiles) update(id string, fn func(*model.FaceProfile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	fn(&p)
	s.byID[id] = p
	return nil
}

func (s *FaceProfiles) Update(_ context.Context, profileID string, u model.FaceProfileUpdate) error {
	d := append(model.Descriptor(nil), u.Descriptor...)
	return s.update(profileID, func(p *model.FaceProfile) {
		p.Descriptor = d
		p.Confidence = u.Confidence
		p.Device = u.Device
		p.UpdatedAt = u.UpdatedAt
		p.Active = true
		p.ReregistrationRequired = false
		clearDisable(p)
	})
}

func (s *FaceProfiles) Touch(_ context.Context, profileID string, at time.Time) error {
	return s.update(profileID, func(p *model.FaceProfile) { p.LastUsedAt = at })
}

func (s *FaceProfiles) Deactivate(_ context.Context, profileID, _ string) error {
	return s.update(profileID, func(p *model.FaceProfile) {
		p.Active = false
		clearDisable(p)
	})
}

func (s *FaceProfiles) TemporaryDisable(_ context.Context, profileID string, until time.Time, reason, actor string) error {
	return s.update(profileID, func(p *model.FaceProfile) {
		p.Active = false
		p.DisabledUntil = until
		p.DisabledReason = reason
		p.DisabledBy = actor
	})
}

func (s *FaceProfiles) Reactivate(_ context.Context, profileID string) error {
	return s.update(profileID, func(p *model.FaceProfile) {
		p.Active = true
		clearDisable(p)
	})
}

func (s *FaceProfiles) MarkReregistrationRequired(_ context.Context, profileID, _ string) error {
	return s.update(profileID, func(p *model.FaceProfile) { p.ReregistrationRequired = true })
}

func clearDisable(p *model.FaceProfile) {
	p.DisabledUntil = time.Time{}
	p.DisabledReason = ""
	p.DisabledBy = ""
}

func cloneProfile(p model.FaceProfile) model.FaceProfile {
	p.Descriptor = append(model.Descriptor(nil), p.Descriptor...)
	return p
}
