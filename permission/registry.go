package permission

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrFrozen       = errors.New("permission: registry frozen")
	ErrDuplicate    = errors.New("permission: already registered")
	ErrUnknown      = errors.New("permission: not registered")
	ErrLimitReached = errors.New("permission: limit exceeded")
)

// Registry assigns permission names to bit positions below [RootBit].
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// Register assigns the next free bit to name.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrFrozen
	}
	if name == "" {
		return -1, errors.New("permission: name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	next := len(r.nameToBit)
	if next >= RootBit {
		return -1, ErrLimitReached
	}
	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// MustRegister registers every name and panics on failure. It is meant for
// package-level setup.
func (r *Registry) MustRegister(names ...string) {
	for _, n := range names {
		if _, err := r.Register(n); err != nil {
			panic(err)
		}
	}
}

// Bit returns the bit of name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission stored at bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze stops further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}
