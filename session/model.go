package session

// Session binds an issued token to an identity snapshot and client context.
// The snapshot is fixed at creation; a role change needs a new session.
type Session struct {
	SessionID string
	UserID    string
	Email     string
	Name      string
	Role      string
	Method    string

	IP     string
	Device string

	CreatedAt int64
	ExpiresAt int64
}
