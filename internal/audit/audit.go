package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roma-frontend/fitauth/internal/model"
)

const (
	// ActorSystem attributes actions taken without a human operator.
	ActorSystem = "system"
	// UserUnknown is recorded when an attempt cannot be tied to an identity.
	UserUnknown = "unknown"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        string
	Seq       uint64
	Timestamp time.Time
	UserID    string
	Action    string
	Method    model.Method
	Success   bool
	// Reason is the internal failure code. It is never shown to callers.
	Reason string
	Actor  string
	IP     string
	Device string
	Detail string

	Attempt Attempt

	PrevHash string
	Hash     string
}

// Attempt is the closed set of method-specific details attached to login entries.
type Attempt interface {
	Kind() model.Method
	sealed()
}

// PasswordAttempt carries the identifier used for a password login.
type PasswordAttempt struct {
	Email string `json:"email"`
}

// FaceAttempt carries the biometric match details of a face login.
type FaceAttempt struct {
	Confidence  float64 `json:"confidence"`
	Quality     string  `json:"quality"`
	DeviceClass string  `json:"device_class"`
	ProfileID   string  `json:"profile_id,omitempty"`
}

// QRAttempt carries the issue time of the scanned payload.
type QRAttempt struct {
	IssuedAt   time.Time `json:"issued_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

func (PasswordAttempt) Kind() model.Method { return model.MethodPassword }
func (FaceAttempt) Kind() model.Method     { return model.MethodFace }
func (QRAttempt) Kind() model.Method       { return model.MethodQR }

func (PasswordAttempt) sealed() {}
func (FaceAttempt) sealed()     {}
func (QRAttempt) sealed()       {}

// QualityTier buckets a face confidence score.
func QualityTier(confidence float64) string {
	switch {
	case confidence >= 90:
		return "high"
	case confidence >= 75:
		return "medium"
	default:
		return "low"
	}
}

type attemptJSON struct {
	Kind model.Method    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type entryJSON struct {
	ID        string       `json:"id"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	UserID    string       `json:"user_id"`
	Action    string       `json:"action"`
	Method    model.Method `json:"method,omitempty"`
	Success   bool         `json:"success"`
	Reason    string       `json:"reason,omitempty"`
	Actor     string       `json:"actor,omitempty"`
	IP        string       `json:"ip,omitempty"`
	Device    string       `json:"device,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Attempt   *attemptJSON `json:"attempt,omitempty"`
	PrevHash  string       `json:"prev_hash,omitempty"`
	Hash      string       `json:"hash,omitempty"`
}

// MarshalAttempt encodes an attempt variant as kind + payload.
func MarshalAttempt(a Attempt) (model.Method, []byte, error) {
	if a == nil {
		return model.MethodNone, nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return model.MethodNone, nil, err
	}
	return a.Kind(), data, nil
}

// UnmarshalAttempt decodes the payload written by [MarshalAttempt].
func UnmarshalAttempt(kind model.Method, data []byte) (Attempt, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch kind {
	case model.MethodPassword:
		var a PasswordAttempt
		err := json.Unmarshal(data, &a)
		return a, err
	case model.MethodFace:
		var a FaceAttempt
		err := json.Unmarshal(data, &a)
		return a, err
	case model.MethodQR:
		var a QRAttempt
		err := json.Unmarshal(data, &a)
		return a, err
	case model.MethodNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown attempt kind %q", kind)
	}
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		Action:    e.Action,
		Method:    e.Method,
		Success:   e.Success,
		Reason:    e.Reason,
		Actor:     e.Actor,
		IP:        e.IP,
		Device:    e.Device,
		Detail:    e.Detail,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
	}
	if e.Attempt != nil {
		kind, data, err := MarshalAttempt(e.Attempt)
		if err != nil {
			return nil, err
		}
		out.Attempt = &attemptJSON{Kind: kind, Data: data}
	}
	return json.Marshal(out)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = Entry{
		ID:        in.ID,
		Seq:       in.Seq,
		Timestamp: in.Timestamp,
		UserID:    in.UserID,
		Action:    in.Action,
		Method:    in.Method,
		Success:   in.Success,
		Reason:    in.Reason,
		Actor:     in.Actor,
		IP:        in.IP,
		Device:    in.Device,
		Detail:    in.Detail,
		PrevHash:  in.PrevHash,
		Hash:      in.Hash,
	}
	if in.Attempt != nil {
		a, err := UnmarshalAttempt(in.Attempt.Kind, in.Attempt.Data)
		if err != nil {
			return err
		}
		e.Attempt = a
	}
	return nil
}

// Store persists entries. Implementations must keep a per-identity index so
// ByUserID never scans the full history.
type Store interface {
	Create(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	ByUserID(ctx context.Context, userID string, since time.Time) ([]Entry, error)
	Since(ctx context.Context, from time.Time) ([]Entry, error)
}

// Querier is implemented by stores that evaluate a [Filter] natively.
type Querier interface {
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Pruner is implemented by stores that support retention cleanup.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ErrRetentionUnsupported is returned when the store cannot prune entries.
var ErrRetentionUnsupported = errors.New("audit store does not support retention cleanup")

// Filter selects audit entries. Zero fields match everything.
type Filter struct {
	UserID  string
	Method  model.Method
	Action  string
	Success *bool
	From    time.Time
	To      time.Time
	Limit   int
}

// Match reports whether e satisfies every set field of f.
func (f Filter) Match(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Method != model.MethodNone && e.Method != f.Method {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Apply filters entries, orders them newest first and truncates to f.Limit.
func Apply(entries []Entry, f Filter) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// DefaultRecentLimit bounds unscoped queries that carry neither identity nor time range.
const DefaultRecentLimit = 1000

// Query reads entries for f starting from the narrowest source the store
// offers: native query, identity index, time range, then recent history.
func Query(ctx context.Context, store Store, f Filter) ([]Entry, error) {
	if q, ok := store.(Querier); ok {
		return q.Query(ctx, f)
	}

	var (
		entries []Entry
		err     error
	)
	switch {
	case f.UserID != "":
		entries, err = store.ByUserID(ctx, f.UserID, f.From)
	case !f.From.IsZero():
		entries, err = store.Since(ctx, f.From)
	default:
		limit := f.Limit
		if limit <= 0 {
			limit = DefaultRecentLimit
		}
		entries, err = store.Recent(ctx, limit)
	}
	if err != nil {
		return nil, err
	}
	return Apply(entries, f), nil
}
