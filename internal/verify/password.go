package verify

import (
	"context"
	"errors"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
)

// Hasher compares a password to a stored hash in constant time.
type Hasher interface {
	Verify(password, encodedHash string) (bool, error)
	Burn(password string)
}

// Password verifies email + password credentials.
type Password struct {
	dir     Directory
	hasher  Hasher
	errs    Errors
	timeout time.Duration
}

func NewPassword(dir Directory, hasher Hasher, errs Errors, timeout time.Duration) *Password {
	return &Password{dir: dir, hasher: hasher, errs: errs, timeout: timeout}
}

func (p *Password) Method() model.Method { return model.MethodPassword }

func (p *Password) RateKey(c Credentials) string {
	return "pw:" + model.NormalizeEmail(c.Email)
}

func (p *Password) Verify(ctx context.Context, c Credentials) (Result, error) {
	email := model.NormalizeEmail(c.Email)
	res := Result{Attempt: audit.PasswordAttempt{Email: email}}

	if email == "" || c.Password == "" {
		return res, p.errs.Validation
	}

	id, err := lookup(ctx, p.timeout, p.errs, func(ctx context.Context) (model.Identity, error) {
		return p.dir.GetByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, p.errs.NotFound) {
			p.hasher.Burn(c.Password)
		}
		return res, err
	}

	ok, err := p.hasher.Verify(c.Password, id.PasswordHash)
	if err != nil || !ok {
		res.Identity = id
		return res, p.errs.InvalidCredentials
	}

	res.Identity = id
	return res, nil
}
