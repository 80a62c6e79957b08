package fitauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth/internal/analytics"
	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/password"
)

// BlockUser deactivates userID and revokes all of its sessions. Blocking an
// already blocked identity changes nothing and is still audited.
func (e *Engine) BlockUser(ctx context.Context, userID, reason, actor string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	if err := requireActor(actor); err != nil {
		return err
	}
	if actor == ActorSystem {
		return fmt.Errorf("%w: actor %q is reserved", ErrValidation, ActorSystem)
	}
	reason = strings.TrimSpace(reason)

	changed, err := e.blockIdentity(ctx, userID, reason, actor)
	detail := reason
	if err == nil && !changed {
		detail = analytics.DetailAlreadyBlocked
	}
	e.record(ctx, audit.Entry{
		UserID:  userID,
		Action:  ActionBlockUser,
		Success: err == nil,
		Reason:  auditReason(err),
		Actor:   actor,
		IP:      clientIPFromContext(ctx),
		Detail:  detail,
	})
	if err != nil || !changed {
		return err
	}

	e.metricInc(MetricAccountBlocked)
	e.notify(ctx, userID, NotifyAccountBlocked, map[string]string{"reason": reason})
	return nil
}

// blockIdentity blocks userID if a fresh read still shows it active and
// reports whether it did.
func (e *Engine) blockIdentity(ctx context.Context, userID, reason, actor string) (bool, error) {
	id, err := e.getIdentity(ctx, userID)
	if err != nil {
		return false, err
	}
	if !id.Active {
		return false, nil
	}

	err = e.backend(ctx, func(ctx context.Context) error {
		return e.directory.BlockUser(ctx, userID, reason, actor)
	})
	if err != nil {
		return false, err
	}

	if n, err := e.LogoutAll(ctx, userID); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Error("block: session revocation failed")
	} else if n > 0 {
		util.Log(ctx).WithField("user_id", userID).WithField("sessions", n).Info("block: sessions revoked")
	}
	return true, nil
}

// UnblockUser reactivates userID. A later auto-protection sweep only counts
// failures recorded after the unblock.
func (e *Engine) UnblockUser(ctx context.Context, userID, actor string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	if err := requireActor(actor); err != nil {
		return err
	}

	id, err := e.getIdentity(ctx, userID)
	detail := ""
	if err == nil {
		if id.Active {
			detail = analytics.DetailAlreadyActive
		} else {
			err = e.backend(ctx, func(ctx context.Context) error {
				return e.directory.UnblockUser(ctx, userID, actor)
			})
		}
	}
	e.record(ctx, audit.Entry{
		UserID:  userID,
		Action:  ActionUnblockUser,
		Success: err == nil,
		Reason:  auditReason(err),
		Actor:   actor,
		IP:      clientIPFromContext(ctx),
		Detail:  detail,
	})
	if err != nil {
		return err
	}
	if detail == "" {
		e.metricInc(MetricAccountUnblocked)
		e.notify(ctx, userID, NotifyAccountUnblocked, nil)
		e.analytics.Enqueue(userID)
	}
	return nil
}

// ChangePassword replaces the password of userID after checking the current
// one, then revokes every session.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string) error {
	if e == nil || e.directory == nil {
		return ErrEngineNotReady
	}

	err := e.changePassword(ctx, userID, current, next)
	e.record(ctx, audit.Entry{
		UserID:  userID,
		Action:  ActionPasswordChange,
		Method:  MethodPassword,
		Success: err == nil,
		Reason:  auditReason(err),
		Actor:   userID,
		IP:      clientIPFromContext(ctx),
		Device:  deviceFromContext(ctx),
	})
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.notify(ctx, userID, NotifyPasswordChanged, nil)
	return nil
}

func (e *Engine) changePassword(ctx context.Context, userID, current, next string) error {
	allowed, err := e.limiter.Allow(ctx, "pwchange:"+userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !allowed {
		return ErrRateLimited
	}

	id, err := e.getIdentity(ctx, userID)
	if err != nil {
		return err
	}
	if !id.Active {
		return ErrAccountBlocked
	}

	ok, err := e.hasher.Verify(current, id.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	if current == next {
		return fmt.Errorf("%w: new password must differ from the current one", ErrValidation)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, password.ErrPasswordLength) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return err
	}
	err = e.backend(ctx, func(ctx context.Context) error {
		return e.directory.UpdatePassword(ctx, userID, hash)
	})
	if err != nil {
		return err
	}

	if _, err := e.LogoutAll(ctx, userID); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Error("password change: session revocation failed")
	}
	return nil
}
