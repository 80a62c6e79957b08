package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
)

// Severity grades a system alert.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// Alert limits for failed biometric attempts in a period.
const (
	FailedFaceAlertLow  = 10
	FailedFaceAlertHigh = 50
)

// Alert is a system-wide warning surfaced with the analytics report.
type Alert struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
	Count    int      `json:"count"`
}

// MethodStats counts attempts for one login method.
type MethodStats struct {
	Attempts int `json:"attempts"`
	Failures int `json:"failures"`
}

// UserCount pairs an identity with a count.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// Report is the system-wide analytics view of a period.
type Report struct {
	Period          Period                       `json:"period"`
	From            time.Time                    `json:"from"`
	To              time.Time                    `json:"to"`
	TotalAttempts   int                          `json:"total_attempts"`
	Successful      int                          `json:"successful"`
	Failed          int                          `json:"failed"`
	SuccessRate     float64                      `json:"success_rate"`
	ByMethod        map[model.Method]MethodStats `json:"by_method"`
	UniqueUsers     int                          `json:"unique_users"`
	FailedBiometric int                          `json:"failed_biometric"`
	Blocks          int                          `json:"blocks"`
	TopFailing      []UserCount                  `json:"top_failing"`
	Alerts          []Alert                      `json:"alerts"`
}

// System aggregates entries in [now-period, now].
func System(entries []audit.Entry, period Period, now time.Time) Report {
	r := Report{
		Period:   period,
		From:     now.Add(-period.Duration()),
		To:       now,
		ByMethod: map[model.Method]MethodStats{},
		Alerts:   []Alert{},
	}
	users := map[string]struct{}{}
	failing := map[string]int{}

	for _, e := range entries {
		if e.Timestamp.Before(r.From) || e.Timestamp.After(now) {
			continue
		}
		switch e.Action {
		case ActionAutoBlock, ActionBlockUser:
			r.Blocks++
			continue
		case ActionLogin:
		default:
			continue
		}

		r.TotalAttempts++
		stats := r.ByMethod[e.Method]
		stats.Attempts++
		if e.Success {
			r.Successful++
			users[e.UserID] = struct{}{}
		} else {
			r.Failed++
			stats.Failures++
			if e.Method == model.MethodFace {
				r.FailedBiometric++
			}
			if knownUser(e.UserID) {
				failing[e.UserID]++
			}
		}
		r.ByMethod[e.Method] = stats
	}

	if r.TotalAttempts > 0 {
		r.SuccessRate = float64(r.Successful) / float64(r.TotalAttempts)
	}
	r.UniqueUsers = len(users)
	r.TopFailing = topCounts(failing, 10)

	switch {
	case r.FailedBiometric > FailedFaceAlertHigh:
		r.Alerts = append(r.Alerts, Alert{
			Severity: SeverityHigh,
			Kind:     "failed_biometric",
			Message:  fmt.Sprintf("%d failed Face ID attempts this %s", r.FailedBiometric, period),
			Count:    r.FailedBiometric,
		})
	case r.FailedBiometric > FailedFaceAlertLow:
		r.Alerts = append(r.Alerts, Alert{
			Severity: SeverityLow,
			Kind:     "failed_biometric",
			Message:  fmt.Sprintf("%d failed Face ID attempts this %s", r.FailedBiometric, period),
			Count:    r.FailedBiometric,
		})
	}
	return r
}

func knownUser(id string) bool {
	return id != "" && id != audit.UserUnknown && id != audit.ActorSystem
}

func topCounts(m map[string]int, n int) []UserCount {
	out := make([]UserCount, 0, len(m))
	for id, c := range m {
		out = append(out, UserCount{UserID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
