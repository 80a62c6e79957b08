package internaldefs

import (
	"github.com/roma-frontend/fitauth"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   fitauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   fitauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: fitauth.MetricLoginSuccess, Name: "fitauth_login_success_total", Help: "Successful login attempts."},
	{ID: fitauth.MetricLoginFailure, Name: "fitauth_login_failure_total", Help: "Failed login attempts."},
	{ID: fitauth.MetricLoginRateLimited, Name: "fitauth_login_rate_limited_total", Help: "Login attempts denied by the attempt window."},
	{ID: fitauth.MetricLoginBlocked, Name: "fitauth_login_blocked_total", Help: "Verified logins rejected because the account is blocked."},
	{ID: fitauth.MetricLoginBackendError, Name: "fitauth_login_backend_error_total", Help: "Logins failed closed on a backend error."},
	{ID: fitauth.MetricPasswordLoginFailure, Name: "fitauth_password_login_failure_total", Help: "Failed password logins."},
	{ID: fitauth.MetricFaceLoginFailure, Name: "fitauth_face_login_failure_total", Help: "Failed Face ID logins."},
	{ID: fitauth.MetricQRLoginFailure, Name: "fitauth_qr_login_failure_total", Help: "Failed QR logins."},
	{ID: fitauth.MetricNewDevice, Name: "fitauth_new_device_total", Help: "Successful logins from a device not seen before."},
	{ID: fitauth.MetricDeviceRejected, Name: "fitauth_device_rejected_total", Help: "Logins denied by new-device gating."},
	{ID: fitauth.MetricPasswordRehash, Name: "fitauth_password_rehash_total", Help: "Password hashes upgraded on login."},
	{ID: fitauth.MetricSessionCreated, Name: "fitauth_session_created_total", Help: "Created sessions."},
	{ID: fitauth.MetricLogout, Name: "fitauth_logout_total", Help: "Single-session logout operations."},
	{ID: fitauth.MetricLogoutAll, Name: "fitauth_logout_all_total", Help: "Logout-all operations."},
	{ID: fitauth.MetricTokenRejected, Name: "fitauth_token_rejected_total", Help: "Access tokens rejected on validation."},
	{ID: fitauth.MetricFaceRegistered, Name: "fitauth_faceid_registered_total", Help: "Face ID registrations."},
	{ID: fitauth.MetricFaceUpdated, Name: "fitauth_faceid_updated_total", Help: "Face ID descriptor updates."},
	{ID: fitauth.MetricFaceDisabled, Name: "fitauth_faceid_disabled_total", Help: "Face ID permanent and temporary disables."},
	{ID: fitauth.MetricFaceReactivated, Name: "fitauth_faceid_reactivated_total", Help: "Face ID profiles reactivated after a temporary disable."},
	{ID: fitauth.MetricFaceReregistrationForced, Name: "fitauth_faceid_reregistration_forced_total", Help: "Forced Face ID re-registrations."},
	{ID: fitauth.MetricAccountBlocked, Name: "fitauth_account_blocked_total", Help: "Manual account blocks."},
	{ID: fitauth.MetricAccountUnblocked, Name: "fitauth_account_unblocked_total", Help: "Account unblocks."},
	{ID: fitauth.MetricAutoBlock, Name: "fitauth_auto_block_total", Help: "Accounts blocked by auto-protection."},
	{ID: fitauth.MetricPasswordChangeSuccess, Name: "fitauth_password_change_success_total", Help: "Successful password changes."},
	{ID: fitauth.MetricPasswordChangeFailure, Name: "fitauth_password_change_failure_total", Help: "Failed password changes."},
	{ID: fitauth.MetricAuditWriteFailure, Name: "fitauth_audit_write_failure_total", Help: "Audit entries the store failed to persist."},
	{ID: fitauth.MetricNotificationDropped, Name: "fitauth_notification_dropped_total", Help: "Notifications dropped or failed."},
	{ID: fitauth.MetricProtectionSweep, Name: "fitauth_protection_sweep_total", Help: "Auto-protection sweeps run."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: fitauth.MetricLoginLatency, Name: "fitauth_login_latency_seconds", Help: "Login latency histogram."},
	{ID: fitauth.MetricValidateLatency, Name: "fitauth_validate_latency_seconds", Help: "Token validation latency histogram."},
}

// HistogramBounds are the upper bounds of the engine buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names each bucket for exporters without labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
