package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
)

// Credentials is the raw login input. Only the fields of the selected method
// are read.
type Credentials struct {
	Method model.Method

	Email    string
	Password string

	Descriptor model.Descriptor
	// FaceData is base64 of a JSON number array, used when Descriptor is empty.
	FaceData string

	QRPayload string

	IP        string
	UserAgent string
}

// Result is what a verifier learned about the attempt. Attempt is populated
// on failure too, as far as the verifier got.
type Result struct {
	Identity model.Identity
	Attempt  audit.Attempt
	// Detail is a short operator-facing note recorded on the audit entry.
	Detail string
}

// Verifier checks one credential type.
type Verifier interface {
	Method() model.Method
	Verify(ctx context.Context, c Credentials) (Result, error)
	// RateKey names the window an attempt is charged to.
	RateKey(c Credentials) string
}

// Errors carries the host-level sentinels verifiers return.
type Errors struct {
	InvalidCredentials error
	NotFound           error
	InsufficientData   error
	NoMatch            error
	Expired            error
	Validation         error
	BackendUnavailable error
}

// Directory is the identity lookup used by verifiers.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (model.Identity, error)
	GetByID(ctx context.Context, id string) (model.Identity, error)
}

// Set dispatches to the verifier registered for a method.
type Set struct {
	verifiers map[model.Method]Verifier
	errs      Errors
}

// NewSet indexes verifiers by their method.
func NewSet(errs Errors, verifiers ...Verifier) *Set {
	s := &Set{verifiers: make(map[model.Method]Verifier, len(verifiers)), errs: errs}
	for _, v := range verifiers {
		s.verifiers[v.Method()] = v
	}
	return s
}

// Get returns the verifier for m.
func (s *Set) Get(m model.Method) (Verifier, error) {
	v, ok := s.verifiers[m]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported method %q", s.errs.Validation, m)
	}
	return v, nil
}

// lookup runs fn under timeout and maps store errors onto the host taxonomy.
func lookup[T any](ctx context.Context, timeout time.Duration, errs Errors, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(cctx)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return v, errs.NotFound
	}
	return v, fmt.Errorf("%w: %v", errs.BackendUnavailable, err)
}
