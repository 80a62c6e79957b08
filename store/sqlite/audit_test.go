package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 123456789, time.UTC)

func openTest(t *testing.T) *AuditLog {
	t.Helper()

	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit", "fitauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// seed writes n chained entries one minute apart, alternating two identities.
func seed(t *testing.T, l *AuditLog, chain *audit.Chain, n int) []audit.Entry {
	t.Helper()

	var out []audit.Entry
	for i := 0; i < n; i++ {
		user := "u1"
		if i%2 == 1 {
			user = "u2"
		}
		e := audit.Entry{
			ID:        "e" + string(rune('a'+i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			UserID:    user,
			Action:    "login",
			Method:    model.MethodFace,
			Success:   i%3 != 0,
			IP:        "203.0.113.7",
			Device:    "desktop:0a1b2c3d",
			Attempt:   audit.FaceAttempt{Confidence: 91.5, Quality: "high", DeviceClass: "desktop"},
		}
		if i%4 == 3 {
			e.Method = model.MethodPassword
			e.Attempt = audit.PasswordAttempt{Email: "a@example.com"}
		}
		e = chain.Next(e)
		require.NoError(t, l.Create(context.Background(), e))
		chain.Commit(e)
		out = append(out, e)
	}
	return out
}

func TestAuditLogRoundTripKeepsChainIntact(t *testing.T) {
	l := openTest(t)
	chain := audit.NewChain([]byte("chain-key"))
	written := seed(t, l, chain, 6)

	all, err := l.Since(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, written[0].Timestamp, all[0].Timestamp)
	assert.Equal(t, audit.FaceAttempt{Confidence: 91.5, Quality: "high", DeviceClass: "desktop"}, all[0].Attempt)
	assert.Equal(t, audit.PasswordAttempt{Email: "a@example.com"}, all[3].Attempt)

	require.NoError(t, audit.NewChain([]byte("chain-key")).Verify(all))
	assert.ErrorIs(t, audit.NewChain([]byte("other-key")).Verify(all), audit.ErrChainBroken)
}

func TestAuditLogResumeFromRecent(t *testing.T) {
	l := openTest(t)
	written := seed(t, l, audit.NewChain(nil), 3)

	resumed := audit.NewChain(nil)
	require.NoError(t, resumed.Resume(context.Background(), l))
	seq, head := resumed.Head()
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, written[2].Hash, head)

	recent, err := l.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, written[2].ID, recent[0].ID)
	assert.Equal(t, written[1].ID, recent[1].ID)
}

func TestAuditLogByUserID(t *testing.T) {
	l := openTest(t)
	seed(t, l, audit.NewChain(nil), 6)

	u1, err := l.ByUserID(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, u1, 3)
	for _, e := range u1 {
		assert.Equal(t, "u1", e.UserID)
	}

	later, err := l.ByUserID(context.Background(), "u1", base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, later, 2)

	none, err := l.ByUserID(context.Background(), "ghost", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditLogQueryMatchesApply(t *testing.T) {
	l := openTest(t)
	written := seed(t, l, audit.NewChain(nil), 8)
	failed := false

	filters := []audit.Filter{
		{},
		{UserID: "u2"},
		{Method: model.MethodPassword},
		{Success: &failed},
		{From: base.Add(2 * time.Minute), To: base.Add(5 * time.Minute)},
		{UserID: "u1", Limit: 2},
		{Action: "logout"},
	}
	for _, f := range filters {
		got, err := l.Query(context.Background(), f)
		require.NoError(t, err)
		want := audit.Apply(written, f)
		require.Len(t, got, len(want), "filter %+v", f)
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID, "filter %+v", f)
		}
	}

	via, err := audit.Query(context.Background(), l, audit.Filter{UserID: "u2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, via, 1)
	assert.Equal(t, written[7].ID, via[0].ID)
}

func TestAuditLogDeleteBefore(t *testing.T) {
	l := openTest(t)
	seed(t, l, audit.NewChain(nil), 5)

	n, err := l.DeleteBefore(context.Background(), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := l.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	var _ audit.Pruner = l
	var _ audit.Querier = l
}

func TestAuditLogInMemoryAndNilDB(t *testing.T) {
	l, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	seed(t, l, audit.NewChain(nil), 2)
	count, err := l.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = NewAuditLog(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilDB)
}

func TestAuditLogDuplicateIDRejected(t *testing.T) {
	l := openTest(t)
	e := audit.Entry{ID: "dup", Timestamp: base, UserID: "u1", Action: "login"}
	require.NoError(t, l.Create(context.Background(), e))
	assert.Error(t, l.Create(context.Background(), e))
}
