package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roma-frontend/fitauth/internal/model"
)

// ErrDuplicate is returned when an identity id or email is already taken.
var ErrDuplicate = errors.New("identity already exists")

// Directory is a mutex-guarded identity table indexed by id and email.
type Directory struct {
	mu      sync.RWMutex
	byID    map[string]model.Identity
	byEmail map[string]string
	now     func() time.Time
}

func NewDirectory(now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{
		byID:    make(map[string]model.Identity),
		byEmail: make(map[string]string),
		now:     now,
	}
}

// Add inserts id. Emails are matched case-insensitively.
func (d *Directory) Add(id model.Identity) error {
	if id.ID == "" {
		return errors.New("identity id required")
	}
	email := model.NormalizeEmail(id.Email)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[id.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicate, id.ID)
	}
	if _, ok := d.byEmail[email]; ok && email != "" {
		return fmt.Errorf("%w: email %s", ErrDuplicate, email)
	}
	d.byID[id.ID] = id
	if email != "" {
		d.byEmail[email] = id.ID
	}
	return nil
}

func (d *Directory) GetByEmail(_ context.Context, email string) (model.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[model.NormalizeEmail(email)]
	if !ok {
		return model.Identity{}, model.ErrNotFound
	}
	return d.byID[id], nil
}

func (d *Directory) GetByID(_ context.Context, id string) (model.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return model.Identity{}, model.ErrNotFound
	}
	return u, nil
}

func (d *Directory) update(id string, fn func(*model.Identity)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	fn(&u)
	d.byID[id] = u
	return nil
}

func (d *Directory) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return d.update(id, func(u *model.Identity) { u.LastLogin = at })
}

func (d *Directory) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	return d.update(id, func(u *model.Identity) { u.PasswordHash = passwordHash })
}

func (d *Directory) BlockUser(_ context.Context, id, reason, actor string) error {
	now := d.now()
	return d.update(id, func(u *model.Identity) {
		u.Active = false
		u.BlockedReason = reason
		u.BlockedBy = actor
		u.BlockedAt = now
	})
}

func (d *Directory) UnblockUser(_ context.Context, id, _ string) error {
	return d.update(id, func(u *model.Identity) {
		u.Active = true
		u.BlockedReason = ""
		u.BlockedBy = ""
		u.BlockedAt = time.Time{}
	})
}

func (d *Directory) UpdateFaceIDFlag(_ context.Context, id string, enabled bool) error {
	return d.update(id, func(u *model.Identity) { u.FaceIDEnabled = enabled })
}

// Len returns the number of identities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
