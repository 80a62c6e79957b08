package memory

import (
	"context"
	"maps"
	"sync"
)

// Notification is one message captured by [Outbox].
type Notification struct {
	UserID  string
	Kind    string
	Details map[string]string
}

// Outbox records notifications instead of delivering them.
type Outbox struct {
	mu   sync.Mutex
	sent []Notification
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Send(_ context.Context, userID, kind string, details map[string]string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, Notification{UserID: userID, Kind: kind, Details: maps.Clone(details)})
	return nil
}

// Sent returns a copy of every captured notification.
func (o *Outbox) Sent() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Notification(nil), o.sent...)
}

// Kinds returns the kinds sent to userID, in order.
func (o *Outbox) Kinds(userID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, n := range o.sent {
		if n.UserID == userID {
			out = append(out, n.Kind)
		}
	}
	return out
}
