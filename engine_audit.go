package fitauth

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth/internal/analytics"
	"github.com/roma-frontend/fitauth/internal/audit"
)

// Audit actions.
const (
	ActionLogin                = analytics.ActionLogin
	ActionLogout               = "logout"
	ActionBlockUser            = analytics.ActionBlockUser
	ActionUnblockUser          = analytics.ActionUnblockUser
	ActionAutoBlock            = analytics.ActionAutoBlock
	ActionPasswordChange       = "password_change"
	ActionFaceRegister         = "faceid_register"
	ActionFaceUpdate           = "faceid_update"
	ActionFaceDisable          = "faceid_disable"
	ActionFaceTemporaryDisable = "faceid_temporary_disable"
	ActionFaceForceReregister  = "faceid_force_reregistration"
	ActionFaceReactivated      = "faceid_reactivated"
	ActionAuditCleanup         = "audit_cleanup"
)

// Reserved audit identities.
const (
	ActorSystem = audit.ActorSystem
	UserUnknown = audit.UserUnknown
)

const (
	defaultAccessLogLimit = 100
	maxAccessLogLimit     = 1000
	maxExportLimit        = 50000
)

// record stamps and writes one audit entry. Write failures are logged by the
// audit logger and never surface here.
func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if e == nil || e.audit == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.now()
	}
	if entry.UserID == "" {
		entry.UserID = UserUnknown
	}
	e.audit.Log(ctx, entry)
}

// GetAccessLogs returns audit entries matching f, newest first. The limit
// defaults to 100 and is capped at 1000.
func (e *Engine) GetAccessLogs(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	if e == nil || e.auditStore == nil {
		return nil, ErrEngineNotReady
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultAccessLogLimit
	case f.Limit > maxAccessLogLimit:
		f.Limit = maxAccessLogLimit
	}
	return e.queryAudit(ctx, f)
}

func (e *Engine) queryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	if !f.To.IsZero() && !f.From.IsZero() && f.To.Before(f.From) {
		return nil, fmt.Errorf("%w: time range ends before it starts", ErrValidation)
	}
	var entries []AuditEntry
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		entries, err = audit.Query(ctx, e.auditStore, f)
		return err
	})
	if err != nil {
		util.Log(ctx).WithError(err).Error("audit: query failed")
		return nil, err
	}
	return entries, nil
}

var csvHeader = []string{
	"id", "seq", "timestamp", "user_id", "action", "method", "success", "reason",
	"actor", "ip", "device", "detail", "confidence", "quality", "hash",
}

// ExportSecurityLogs encodes entries matching f as a JSON array or CSV.
func (e *Engine) ExportSecurityLogs(ctx context.Context, format ExportFormat, f AuditFilter) ([]byte, error) {
	if e == nil || e.auditStore == nil {
		return nil, ErrEngineNotReady
	}
	if format != ExportJSON && format != ExportCSV {
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrValidation, format)
	}
	if f.Limit <= 0 || f.Limit > maxExportLimit {
		f.Limit = maxExportLimit
	}

	entries, err := e.queryAudit(ctx, f)
	if err != nil {
		return nil, err
	}

	if format == ExportJSON {
		if entries == nil {
			entries = []AuditEntry{}
		}
		return json.MarshalIndent(entries, "", "  ")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		var confidence, quality string
		if fa, ok := entry.Attempt.(audit.FaceAttempt); ok {
			confidence = strconv.FormatFloat(fa.Confidence, 'f', 1, 64)
			quality = fa.Quality
		}
		row := []string{
			entry.ID,
			strconv.FormatUint(entry.Seq, 10),
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			entry.UserID,
			entry.Action,
			string(entry.Method),
			strconv.FormatBool(entry.Success),
			entry.Reason,
			entry.Actor,
			entry.IP,
			entry.Device,
			entry.Detail,
			confidence,
			quality,
			entry.Hash,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CleanupAuditLogs deletes entries older than olderThan, or older than
// Audit.Retention when olderThan is zero. The store must implement
// audit.Pruner.
func (e *Engine) CleanupAuditLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	if e == nil || e.auditStore == nil {
		return 0, ErrEngineNotReady
	}
	if olderThan <= 0 {
		olderThan = e.config.Audit.Retention
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention period required", ErrValidation)
	}
	pruner, ok := e.auditStore.(audit.Pruner)
	if !ok {
		return 0, fmt.Errorf("%w: %w", ErrAuditUnsupported, audit.ErrRetentionUnsupported)
	}

	cutoff := e.now().Add(-olderThan)
	var n int64
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		n, err = pruner.DeleteBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		util.Log(ctx).WithError(err).Error("audit: retention cleanup failed")
		return 0, err
	}

	util.Log(ctx).WithField("deleted", n).WithField("cutoff", cutoff).Info("audit: retention cleanup")
	e.record(ctx, audit.Entry{
		UserID:  ActorSystem,
		Action:  ActionAuditCleanup,
		Success: true,
		Actor:   ActorSystem,
		Detail:  fmt.Sprintf("deleted %d entries before %s", n, cutoff.UTC().Format(time.RFC3339)),
	})
	return n, nil
}

// VerifyAuditChain checks the hash chain over the newest limit entries and
// returns how many were verified. A broken chain yields audit.ErrChainBroken.
func (e *Engine) VerifyAuditChain(ctx context.Context, limit int) (int, error) {
	if e == nil || e.auditStore == nil {
		return 0, ErrEngineNotReady
	}
	if limit <= 0 {
		limit = audit.DefaultRecentLimit
	}

	var entries []AuditEntry
	err := e.backend(ctx, func(ctx context.Context) error {
		var err error
		entries, err = e.auditStore.Recent(ctx, limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	if err := e.audit.Chain().Verify(entries); err != nil {
		if errors.Is(err, audit.ErrChainBroken) {
			util.Log(ctx).WithError(err).Error("audit: chain verification failed")
		}
		return 0, err
	}
	return len(entries), nil
}
