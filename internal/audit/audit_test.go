package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roma-frontend/fitauth/internal/model"
)

type sliceStore struct {
	mu      sync.Mutex
	entries []Entry
	failN   int
}

func (s *sliceStore) Create(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("disk full")
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *sliceStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Apply(s.entries, Filter{Limit: limit}), nil
}

func (s *sliceStore) ByUserID(_ context.Context, userID string, since time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Apply(s.entries, Filter{UserID: userID, From: since}), nil
}

func (s *sliceStore) Since(_ context.Context, from time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Apply(s.entries, Filter{From: from}), nil
}

func (s *sliceStore) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func TestEntryJSONKeepsAttemptVariant(t *testing.T) {
	in := Entry{
		ID:        "e1",
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		UserID:    "u1",
		Action:    "login",
		Method:    model.MethodFace,
		Success:   true,
		Attempt:   FaceAttempt{Confidence: 91.5, Quality: QualityTier(91.5), DeviceClass: "mobile"},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out Entry
	require.NoError(t, json.Unmarshal(raw, &out))

	face, ok := out.Attempt.(FaceAttempt)
	require.True(t, ok, "attempt variant lost: %T", out.Attempt)
	assert.Equal(t, "high", face.Quality)
	assert.Equal(t, in.Timestamp, out.Timestamp.UTC())
}

func TestQualityTier(t *testing.T) {
	assert.Equal(t, "high", QualityTier(90))
	assert.Equal(t, "medium", QualityTier(75))
	assert.Equal(t, "low", QualityTier(74.9))
}

func TestApplyOrdersNewestFirstAndLimits(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := true
	entries := []Entry{
		{ID: "a", Timestamp: base, UserID: "u1", Success: true},
		{ID: "b", Timestamp: base.Add(time.Minute), UserID: "u1", Success: false},
		{ID: "c", Timestamp: base.Add(2 * time.Minute), UserID: "u1", Success: true},
		{ID: "d", Timestamp: base.Add(3 * time.Minute), UserID: "u2", Success: true},
	}

	got := Apply(entries, Filter{UserID: "u1", Success: &ok, Limit: 1})
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)
}

func TestQueryUsesIdentityIndex(t *testing.T) {
	store := &sliceStore{}
	now := time.Now().UTC()
	for i, uid := range []string{"u1", "u2", "u1"} {
		require.NoError(t, store.Create(context.Background(), Entry{ID: uid, Seq: uint64(i + 1), UserID: uid, Timestamp: now.Add(time.Duration(i) * time.Second)}))
	}

	got, err := Query(context.Background(), store, Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestChainDetectsTampering(t *testing.T) {
	store := &sliceStore{}
	l := NewLogger(context.Background(), Config{ChainKey: []byte("k")}, store)
	defer l.Close()

	for _, action := range []string{"login", "logout", "block_user"} {
		l.Log(context.Background(), Entry{ID: action, Action: action, UserID: "u1", Timestamp: time.Now()})
	}

	entries := store.all()
	require.Len(t, entries, 3)
	require.NoError(t, l.Chain().Verify(entries))

	entries[1].UserID = "u2"
	assert.ErrorIs(t, l.Chain().Verify(entries), ErrChainBroken)

	entries = store.all()
	assert.ErrorIs(t, l.Chain().Verify([]Entry{entries[0], entries[2]}), ErrChainBroken)
}

func TestLoggerFailedWriteDoesNotAdvanceChain(t *testing.T) {
	store := &sliceStore{failN: 1}
	l := NewLogger(context.Background(), Config{}, store)
	defer l.Close()

	var hookErr error
	l.OnFailure(func(err error) { hookErr = err })

	l.Log(context.Background(), Entry{ID: "lost", Action: "login"})
	l.Log(context.Background(), Entry{ID: "kept", Action: "login"})

	assert.Equal(t, uint64(1), l.Failures())
	assert.Error(t, hookErr)

	entries := store.all()
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Empty(t, entries[0].PrevHash)
}

func TestLoggerResumesChainHead(t *testing.T) {
	store := &sliceStore{}
	first := NewLogger(context.Background(), Config{}, store)
	first.Log(context.Background(), Entry{ID: "1", Action: "login", Timestamp: time.Now()})
	first.Close()

	second := NewLogger(context.Background(), Config{}, store)
	second.Log(context.Background(), Entry{ID: "2", Action: "logout", Timestamp: time.Now().Add(time.Second)})
	second.Close()

	entries := store.all()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[1].Seq)
	assert.NoError(t, second.Chain().Verify(entries))
}

func TestAsyncLoggerDrainsOnClose(t *testing.T) {
	store := &sliceStore{}
	l := NewLogger(context.Background(), Config{Async: true, BufferSize: 64}, store)

	for i := 0; i < 20; i++ {
		l.Log(context.Background(), Entry{Action: "login", Timestamp: time.Now()})
	}
	l.Close()

	assert.Len(t, store.all(), 20)
	l.Log(context.Background(), Entry{Action: "late"})
	assert.Len(t, store.all(), 20)
}
