package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
)

// Audit actions analytics reads.
const (
	ActionLogin       = "login"
	ActionUnblockUser = "unblock_user"
	ActionAutoBlock   = "auto_block"
	ActionBlockUser   = "block_user"
)

// Details of block and unblock entries that did not change the account.
const (
	DetailAlreadyBlocked = "already blocked"
	DetailAlreadyActive  = "already active"
)

// Period is a trailing analysis window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod accepts day, week or month. Empty means week.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	case "":
		return PeriodWeek, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// Duration returns the length of the trailing window.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodDay:
		return 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Tier is a risk classification.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Thresholds tunes risk classification.
type Thresholds struct {
	HighFailureRate   float64
	MediumFailureRate float64
	HighDevices       int
	// AnomalyDevices and AnomalyNightRatio mark a medium-tier anomaly.
	AnomalyDevices    int
	AnomalyNightRatio float64
	NightStartHour    int
	NightEndHour      int

	ConfidenceHigh   float64
	ConfidenceMedium float64
	ConfidenceLow    float64
}

// DefaultThresholds returns the stock classification parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighFailureRate:   0.3,
		MediumFailureRate: 0.1,
		HighDevices:       5,
		AnomalyDevices:    3,
		AnomalyNightRatio: 0.3,
		NightStartHour:    0,
		NightEndHour:      6,
		ConfidenceHigh:    90,
		ConfidenceMedium:  85,
		ConfidenceLow:     75,
	}
}

// RequiredConfidence maps a tier to the face confidence it demands.
func (t Thresholds) RequiredConfidence(tier Tier) float64 {
	switch tier {
	case TierHigh:
		return t.ConfidenceHigh
	case TierMedium:
		return t.ConfidenceMedium
	default:
		return t.ConfidenceLow
	}
}

// RiskProfile summarizes one identity's login behaviour over a period.
type RiskProfile struct {
	UserID             string    `json:"user_id"`
	Period             Period    `json:"period"`
	Attempts           int       `json:"attempts"`
	Failures           int       `json:"failures"`
	FailureRate        float64   `json:"failure_rate"`
	Devices            []string  `json:"devices"`
	SuccessfulLogins   int       `json:"successful_logins"`
	NightLogins        int       `json:"night_logins"`
	NightRatio         float64   `json:"night_ratio"`
	Tier               Tier      `json:"risk_level"`
	RequiredConfidence float64   `json:"required_confidence"`
	Anomalies          []string  `json:"anomalies,omitempty"`
	ComputedAt         time.Time `json:"computed_at"`
}

func (t Thresholds) isNight(ts time.Time, loc *time.Location) bool {
	if loc != nil {
		ts = ts.In(loc)
	}
	h := ts.Hour()
	return h >= t.NightStartHour && h < t.NightEndHour
}

// Profile computes userID's risk profile from entries. Entries outside
// [now-period, now] and entries of other identities are ignored. A nil loc
// evaluates night hours in each timestamp's own location.
func Profile(userID string, entries []audit.Entry, period Period, now time.Time, loc *time.Location, th Thresholds) RiskProfile {
	from := now.Add(-period.Duration())
	p := RiskProfile{UserID: userID, Period: period, ComputedAt: now}
	devices := map[string]struct{}{}

	for _, e := range entries {
		if e.UserID != userID || e.Action != ActionLogin {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(now) {
			continue
		}
		p.Attempts++
		if !e.Success {
			p.Failures++
			continue
		}
		p.SuccessfulLogins++
		if e.Device != "" {
			devices[e.Device] = struct{}{}
		}
		if th.isNight(e.Timestamp, loc) {
			p.NightLogins++
		}
	}

	if p.Attempts > 0 {
		p.FailureRate = float64(p.Failures) / float64(p.Attempts)
	}
	if p.SuccessfulLogins > 0 {
		p.NightRatio = float64(p.NightLogins) / float64(p.SuccessfulLogins)
	}
	p.Devices = make([]string, 0, len(devices))
	for d := range devices {
		p.Devices = append(p.Devices, d)
	}
	sort.Strings(p.Devices)

	p.Tier, p.Anomalies = th.classify(p)
	p.RequiredConfidence = th.RequiredConfidence(p.Tier)
	return p
}

func (t Thresholds) classify(p RiskProfile) (Tier, []string) {
	var anomalies []string
	if p.FailureRate > t.HighFailureRate {
		anomalies = append(anomalies, fmt.Sprintf("failure rate %.0f%%", p.FailureRate*100))
	}
	if len(p.Devices) > t.HighDevices {
		anomalies = append(anomalies, fmt.Sprintf("%d distinct devices", len(p.Devices)))
	}
	if len(anomalies) > 0 {
		return TierHigh, anomalies
	}

	if p.FailureRate > t.MediumFailureRate {
		anomalies = append(anomalies, fmt.Sprintf("failure rate %.0f%%", p.FailureRate*100))
	}
	if p.NightRatio > t.AnomalyNightRatio {
		anomalies = append(anomalies, fmt.Sprintf("night logins %.0f%%", p.NightRatio*100))
	}
	if len(p.Devices) > t.AnomalyDevices {
		anomalies = append(anomalies, fmt.Sprintf("%d distinct devices", len(p.Devices)))
	}
	if len(anomalies) > 0 {
		return TierMedium, anomalies
	}
	return TierLow, nil
}
