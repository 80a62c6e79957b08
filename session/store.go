package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every Redis transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound is returned for unknown, expired or corrupt sessions.
	ErrSessionNotFound = errors.New("session not found")
)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("SET", KEYS[3], "1", "PX", ARGV[2])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed session store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewStore creates a session [Store]. prefix namespaces every key; a nil
// clock uses time.Now.
func NewStore(client redis.UniversalClient, prefix string, now func() time.Time) *Store {
	if prefix == "" {
		prefix = "fs"
	}
	if now == nil {
		now = time.Now
	}
	return &Store{redis: client, prefix: prefix, now: now}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *Store) nonceKey(nonce string) string {
	return s.prefix + ":qn:" + nonce
}

func (s *Store) revokedKey(sessionID string) string {
	return s.prefix + ":r:" + sessionID
}

// Save persists sess until its ExpiresAt and indexes it under its owner.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	ttl := time.Unix(sess.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return errors.New("session already expired")
	}

	userKey := s.userKey(sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the live session for sessionID. It never mutates storage.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	sess.SessionID = sessionID

	if sess.ExpiresAt <= s.now().Unix() {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes the session and marks its id revoked for revokeFor. It
// reports whether a live session existed. Deleting twice is safe.
func (s *Store) Delete(ctx context.Context, userID, sessionID string, revokeFor time.Duration) (bool, error) {
	if revokeFor < time.Second {
		revokeFor = time.Second
	}
	existed, err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.userKey(userID), s.revokedKey(sessionID)},
		sessionID, revokeFor.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// DeleteAllForUser revokes every session owned by userID and returns how many
// were removed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string, revokeFor time.Duration) (int, error) {
	ids, err := s.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if revokeFor < time.Second {
		revokeFor = time.Second
	}

	var dels []*redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sid := range ids {
			dels = append(dels, pipe.Del(ctx, s.key(sid)))
			pipe.Set(ctx, s.revokedKey(sid), "1", revokeFor)
		}
		pipe.Del(ctx, s.userKey(userID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	removed := 0
	for _, cmd := range dels {
		removed += int(cmd.Val())
	}
	return removed, nil
}

// IsRevoked reports whether sessionID was explicitly revoked.
func (s *Store) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.revokedKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// ActiveSessionIDs lists the session ids indexed under userID.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping measures Redis round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// ConsumeNonce marks a single-use nonce spent for ttl. It reports false when
// the nonce was already spent.
func (s *Store) ConsumeNonce(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.redis.SetNX(ctx, s.nonceKey(nonce), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}
