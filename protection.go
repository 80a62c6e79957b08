package fitauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth/internal/audit"
)

// AutoBlockOnSuspiciousActivity blocks every active identity that crossed
// the failed-login threshold. Already blocked identities are skipped, so
// repeated sweeps are idempotent. Cancelling ctx stops the sweep between
// identities and returns what was done so far with ctx.Err().
func (e *Engine) AutoBlockOnSuspiciousActivity(ctx context.Context) (ProtectionReport, error) {
	if e == nil || e.directory == nil {
		return ProtectionReport{}, ErrEngineNotReady
	}
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	e.metricInc(MetricProtectionSweep)
	suspects, err := e.DetectSuspiciousActivity(ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Error("protection: suspicious activity scan failed")
		return ProtectionReport{}, err
	}

	report := ProtectionReport{Suspects: len(suspects), Blocked: []string{}, Skipped: []string{}}
	for _, s := range suspects {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		reason := fmt.Sprintf("%s (%d failed logins)", e.config.Protection.BlockReason, s.Failures)
		changed, err := e.blockIdentity(ctx, s.UserID, reason, ActorSystem)
		if err != nil {
			util.Log(ctx).WithError(err).WithField("user_id", s.UserID).Error("protection: auto-block failed")
			report.Skipped = append(report.Skipped, s.UserID)
			continue
		}
		if !changed {
			report.Skipped = append(report.Skipped, s.UserID)
			continue
		}

		e.metricInc(MetricAutoBlock)
		e.record(ctx, audit.Entry{
			UserID:  s.UserID,
			Action:  ActionAutoBlock,
			Success: true,
			Actor:   ActorSystem,
			Detail:  reason,
		})
		e.notify(ctx, s.UserID, NotifyAutoBlocked, map[string]string{
			"reason":   reason,
			"failures": strconv.Itoa(s.Failures),
		})
		util.Log(ctx).WithField("user_id", s.UserID).
			WithField("failures", s.Failures).Warn("protection: identity auto-blocked")
		report.Blocked = append(report.Blocked, s.UserID)
	}
	return report, nil
}

// StartProtection runs AutoBlockOnSuspiciousActivity every
// Protection.SweepInterval until ctx is done or the Engine is closed. It is a
// no-op when Protection.Enabled is false.
func (e *Engine) StartProtection(ctx context.Context) {
	if e == nil || !e.config.Protection.Enabled {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ticker := time.NewTicker(e.config.Protection.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case <-ticker.C:
				sctx, cancel := context.WithCancel(ctx)
				go func() {
					select {
					case <-e.done:
						cancel()
					case <-sctx.Done():
					}
				}()
				if _, err := e.AutoBlockOnSuspiciousActivity(sctx); err != nil {
					util.Log(ctx).WithError(err).Warn("protection: sweep ended with error")
				}
				cancel()
			}
		}
	}()
}
