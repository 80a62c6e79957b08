package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"sync"
	"time"
)

// ErrChainBroken is returned by [Verify] when an entry does not link to its
// predecessor or its hash does not match its contents.
var ErrChainBroken = errors.New("audit chain broken")

// Chain seals entries with a running HMAC-SHA256. Without a key it falls back
// to plain SHA-256, which still detects reordering and deletion.
type Chain struct {
	key []byte

	mu   sync.Mutex
	seq  uint64
	head string
}

// NewChain returns an empty chain.
func NewChain(key []byte) *Chain {
	return &Chain{key: append([]byte(nil), key...)}
}

// Resume positions the chain after the newest entry held by store.
func (c *Chain) Resume(ctx context.Context, store Store) error {
	recent, err := store.Recent(ctx, 1)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(recent) == 0 {
		c.seq, c.head = 0, ""
		return nil
	}
	c.seq, c.head = recent[0].Seq, recent[0].Hash
	return nil
}

// Next returns e with Seq, PrevHash and Hash filled in. The chain head is not
// moved until [Chain.Commit] is called with the sealed entry.
func (c *Chain) Next(e Entry) Entry {
	c.mu.Lock()
	e.Seq = c.seq + 1
	e.PrevHash = c.head
	c.mu.Unlock()
	e.Hash = c.sum(e)
	return e
}

// Commit advances the head to a successfully stored entry.
func (c *Chain) Commit(e Entry) {
	c.mu.Lock()
	if e.Seq == c.seq+1 {
		c.seq, c.head = e.Seq, e.Hash
	}
	c.mu.Unlock()
}

// Head returns the sequence and hash of the last committed entry.
func (c *Chain) Head() (uint64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, c.head
}

// Verify checks entries in ascending sequence order.
func (c *Chain) Verify(entries []Entry) error {
	var prev *Entry
	for i := range entries {
		e := entries[i]
		if prev != nil {
			if e.Seq != prev.Seq+1 {
				return fmt.Errorf("%w: sequence gap after %d", ErrChainBroken, prev.Seq)
			}
			if e.PrevHash != prev.Hash {
				return fmt.Errorf("%w: entry %d does not link to %d", ErrChainBroken, e.Seq, prev.Seq)
			}
		}
		if !hmac.Equal([]byte(c.sum(e)), []byte(e.Hash)) {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Seq)
		}
		prev = &entries[i]
	}
	return nil
}

func (c *Chain) newHash() hash.Hash {
	if len(c.key) == 0 {
		return sha256.New()
	}
	return hmac.New(sha256.New, c.key)
}

func (c *Chain) sum(e Entry) string {
	h := c.newHash()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(strconv.FormatUint(e.Seq, 10))
	write(e.PrevHash)
	write(e.ID)
	write(e.Timestamp.UTC().Format(time.RFC3339Nano))
	write(e.UserID)
	write(e.Action)
	write(string(e.Method))
	write(strconv.FormatBool(e.Success))
	write(e.Reason)
	write(e.Actor)
	write(e.IP)
	write(e.Device)
	write(e.Detail)
	if _, data, err := MarshalAttempt(e.Attempt); err == nil {
		write(string(data))
	}
	return hex.EncodeToString(h.Sum(nil))
}
