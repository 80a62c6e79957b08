package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
)

var now = time.Date(2025, 7, 10, 15, 0, 0, 0, time.UTC)

func login(user string, ok bool, at time.Time, device string) audit.Entry {
	return audit.Entry{UserID: user, Action: ActionLogin, Success: ok, Timestamp: at, Device: device, Method: model.MethodPassword}
}

func TestProfileHighRiskOnFailureRate(t *testing.T) {
	var entries []audit.Entry
	for i := 0; i < 6; i++ {
		entries = append(entries, login("u1", true, now.Add(-time.Duration(i+1)*time.Hour), "desktop:aa"))
	}
	for i := 0; i < 4; i++ {
		entries = append(entries, login("u1", false, now.Add(-time.Duration(i+1)*time.Minute), ""))
	}
	entries = append(entries, login("u2", false, now.Add(-time.Minute), ""))

	p := Profile("u1", entries, PeriodWeek, now, time.UTC, DefaultThresholds())
	assert.Equal(t, 10, p.Attempts)
	assert.InDelta(t, 0.4, p.FailureRate, 1e-9)
	assert.Equal(t, TierHigh, p.Tier)
	assert.Equal(t, 90.0, p.RequiredConfidence)
	assert.Equal(t, []string{"desktop:aa"}, p.Devices)
}

func TestProfileTiers(t *testing.T) {
	th := DefaultThresholds()

	clean := []audit.Entry{login("u1", true, now.Add(-time.Hour), "desktop:aa")}
	p := Profile("u1", clean, PeriodDay, now, time.UTC, th)
	assert.Equal(t, TierLow, p.Tier)
	assert.Equal(t, 75.0, p.RequiredConfidence)

	night := []audit.Entry{
		login("u1", true, time.Date(2025, 7, 10, 2, 0, 0, 0, time.UTC), "desktop:aa"),
		login("u1", true, time.Date(2025, 7, 10, 3, 0, 0, 0, time.UTC), "desktop:aa"),
		login("u1", true, time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC), "desktop:aa"),
	}
	p = Profile("u1", night, PeriodDay, now, time.UTC, th)
	assert.Equal(t, TierMedium, p.Tier)
	assert.Equal(t, 85.0, p.RequiredConfidence)
	assert.InDelta(t, 2.0/3.0, p.NightRatio, 1e-9)

	var devices []audit.Entry
	for _, d := range []string{"a", "b", "c", "d", "e", "f"} {
		devices = append(devices, login("u1", true, now.Add(-2*time.Hour), d))
	}
	p = Profile("u1", devices, PeriodDay, now, time.UTC, th)
	assert.Equal(t, TierHigh, p.Tier)
	assert.Len(t, p.Devices, 6)
}

func TestProfileIgnoresEntriesOutsidePeriod(t *testing.T) {
	entries := []audit.Entry{
		login("u1", false, now.Add(-48*time.Hour), ""),
		login("u1", true, now.Add(-time.Hour), "desktop:aa"),
	}
	p := Profile("u1", entries, PeriodDay, now, time.UTC, DefaultThresholds())
	assert.Equal(t, 1, p.Attempts)
	assert.Zero(t, p.FailureRate)
}

func TestSystemAlerts(t *testing.T) {
	var entries []audit.Entry
	for i := 0; i < 11; i++ {
		e := login("unknown", false, now.Add(-time.Duration(i)*time.Minute), "")
		e.Method = model.MethodFace
		entries = append(entries, e)
	}
	entries = append(entries, login("u1", true, now.Add(-time.Minute), "desktop:aa"))
	entries = append(entries, audit.Entry{UserID: "u9", Action: ActionAutoBlock, Success: true, Timestamp: now.Add(-time.Minute)})

	r := System(entries, PeriodWeek, now)
	assert.Equal(t, 12, r.TotalAttempts)
	assert.Equal(t, 11, r.FailedBiometric)
	assert.Equal(t, 1, r.Blocks)
	assert.Equal(t, 1, r.UniqueUsers)
	assert.Equal(t, MethodStats{Attempts: 11, Failures: 11}, r.ByMethod[model.MethodFace])
	require.Len(t, r.Alerts, 1)
	assert.Equal(t, SeverityLow, r.Alerts[0].Severity)

	for i := 0; i < 40; i++ {
		e := login("unknown", false, now.Add(-time.Duration(i)*time.Second), "")
		e.Method = model.MethodFace
		entries = append(entries, e)
	}
	r = System(entries, PeriodWeek, now)
	require.Len(t, r.Alerts, 1)
	assert.Equal(t, SeverityHigh, r.Alerts[0].Severity)
}

func TestSuspiciousThresholdAndUnblockReset(t *testing.T) {
	var entries []audit.Entry
	for i := 0; i < 5; i++ {
		e := login("u1", false, now.Add(-time.Duration(10-i)*time.Minute), "")
		e.IP = "10.0.0.1"
		entries = append(entries, e)
	}
	for i := 0; i < 4; i++ {
		entries = append(entries, login("u2", false, now.Add(-time.Duration(i)*time.Minute), ""))
	}
	for i := 0; i < 9; i++ {
		entries = append(entries, login("unknown", false, now.Add(-time.Minute), ""))
	}

	got := Suspicious(entries, 5)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, 5, got[0].Failures)
	assert.Equal(t, []string{"10.0.0.1"}, got[0].IPs)

	entries = append(entries, audit.Entry{UserID: "u1", Action: ActionUnblockUser, Success: true, Timestamp: now.Add(-time.Minute)})
	assert.Empty(t, Suspicious(entries, 5))
}

func TestSuspiciousIgnoresNoOpUnblock(t *testing.T) {
	var entries []audit.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, login("u1", false, now.Add(-time.Duration(10-i)*time.Minute), ""))
	}
	entries = append(entries, audit.Entry{
		UserID:    "u1",
		Action:    ActionUnblockUser,
		Success:   true,
		Detail:    DetailAlreadyActive,
		Timestamp: now.Add(-time.Minute),
	})

	got := Suspicious(entries, 5)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Failures)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("Month")
	require.NoError(t, err)
	assert.Equal(t, PeriodMonth, p)

	p, err = ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)

	_, err = ParsePeriod("year")
	assert.Error(t, err)
}
