package permission

import (
	"errors"
	"fmt"
	"sync"
)

// Roles holds one permission mask per role name. Configure it at startup,
// then Freeze it.
type Roles struct {
	registry *Registry

	mu     sync.RWMutex
	masks  map[string]Mask
	frozen bool
}

func NewRoles(registry *Registry) *Roles {
	return &Roles{registry: registry, masks: make(map[string]Mask)}
}

// Define sets the permissions of role. Unknown permission names are rejected.
func (r *Roles) Define(role string, permissions ...string) error {
	if role == "" {
		return errors.New("permission: role name empty")
	}

	var mask Mask
	for _, p := range permissions {
		bit, ok := r.registry.Bit(p)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknown, p)
		}
		mask = mask.Set(bit)
	}
	return r.set(role, mask)
}

// DefineRoot gives role every permission, present and future.
func (r *Roles) DefineRoot(role string) error {
	if role == "" {
		return errors.New("permission: role name empty")
	}
	return r.set(role, Mask(0).Set(RootBit))
}

func (r *Roles) set(role string, mask Mask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	if _, exists := r.masks[role]; exists {
		return fmt.Errorf("%w: role %s", ErrDuplicate, role)
	}
	r.masks[role] = mask
	return nil
}

// Mask returns the mask of role.
func (r *Roles) Mask(role string) (Mask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.masks[role]
	return m, ok
}

// Allows reports whether role holds permission. Unknown roles and
// permissions are denied.
func (r *Roles) Allows(role, permission string) bool {
	if r == nil {
		return false
	}
	mask, ok := r.Mask(role)
	if !ok {
		return false
	}
	bit, ok := r.registry.Bit(permission)
	if !ok {
		return false
	}
	return mask.Has(bit)
}

func (r *Roles) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Roles) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.masks)
}
