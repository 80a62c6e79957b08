package analytics

import (
	"sort"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
)

// DefaultFailureThreshold is the failed-login count that marks an identity
// suspicious within the detection window.
const DefaultFailureThreshold = 5

// Suspect is an identity whose failed logins crossed the threshold.
type Suspect struct {
	UserID      string    `json:"user_id"`
	Failures    int       `json:"failures"`
	FirstFailed time.Time `json:"first_failed"`
	LastFailed  time.Time `json:"last_failed"`
	IPs         []string  `json:"ips,omitempty"`
}

// Suspicious returns identities with at least threshold failed logins in
// entries. An unblock that reactivated the identity resets the count: only
// failures after it are counted. A no-op unblock of an active identity
// leaves the count alone.
func Suspicious(entries []audit.Entry, threshold int) []Suspect {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	sorted := make([]audit.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	type acc struct {
		s   Suspect
		ips map[string]struct{}
	}
	by := map[string]*acc{}

	for _, e := range sorted {
		if !knownUser(e.UserID) {
			continue
		}
		switch {
		case e.Action == ActionUnblockUser && e.Success && e.Detail != DetailAlreadyActive:
			delete(by, e.UserID)
		case e.Action == ActionLogin && !e.Success:
			a := by[e.UserID]
			if a == nil {
				a = &acc{s: Suspect{UserID: e.UserID, FirstFailed: e.Timestamp}, ips: map[string]struct{}{}}
				by[e.UserID] = a
			}
			a.s.Failures++
			a.s.LastFailed = e.Timestamp
			if e.IP != "" {
				a.ips[e.IP] = struct{}{}
			}
		}
	}

	out := make([]Suspect, 0, len(by))
	for _, a := range by {
		if a.s.Failures < threshold {
			continue
		}
		for ip := range a.ips {
			a.s.IPs = append(a.s.IPs, ip)
		}
		sort.Strings(a.s.IPs)
		out = append(out, a.s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures == out[j].Failures {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Failures > out[j].Failures
	})
	return out
}
