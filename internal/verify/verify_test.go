package verify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
)

var (
	errInvalid   = errors.New("invalid credentials")
	errNotFound  = errors.New("not found")
	errNoData    = errors.New("insufficient biometric data")
	errNoMatch   = errors.New("no biometric match")
	errExpired   = errors.New("qr expired")
	errMalformed = errors.New("validation")
	errBackend   = errors.New("backend unavailable")

	testErrs = Errors{
		InvalidCredentials: errInvalid,
		NotFound:           errNotFound,
		InsufficientData:   errNoData,
		NoMatch:            errNoMatch,
		Expired:            errExpired,
		Validation:         errMalformed,
		BackendUnavailable: errBackend,
	}
)

type fakeDir struct {
	users map[string]model.Identity
	err   error
}

func (d *fakeDir) GetByEmail(_ context.Context, email string) (model.Identity, error) {
	if d.err != nil {
		return model.Identity{}, d.err
	}
	for _, u := range d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.Identity{}, model.ErrNotFound
}

func (d *fakeDir) GetByID(_ context.Context, id string) (model.Identity, error) {
	if d.err != nil {
		return model.Identity{}, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return model.Identity{}, model.ErrNotFound
	}
	return u, nil
}

type plainHasher struct{ burned int }

func (h *plainHasher) Verify(password, encoded string) (bool, error) {
	return "plain:"+password == encoded, nil
}

func (h *plainHasher) Burn(string) { h.burned++ }

type fakeProfiles struct {
	profiles    []model.FaceProfile
	touched     []string
	reactivated []string
}

func distance(a, b model.Descriptor) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (p *fakeProfiles) FindByDescriptor(_ context.Context, d model.Descriptor, threshold float64) (model.FaceMatch, error) {
	best := model.FaceMatch{Distance: math.Inf(1)}
	found := false
	for _, prof := range p.profiles {
		if !prof.Active && !prof.TemporarilyDisabled() {
			continue
		}
		if dist := distance(d, prof.Descriptor); dist <= threshold && dist < best.Distance {
			best, found = model.FaceMatch{Profile: prof, Distance: dist}, true
		}
	}
	if !found {
		return model.FaceMatch{}, model.ErrNotFound
	}
	return best, nil
}

func (p *fakeProfiles) Touch(_ context.Context, id string, _ time.Time) error {
	p.touched = append(p.touched, id)
	return nil
}

func (p *fakeProfiles) Reactivate(_ context.Context, id string) error {
	p.reactivated = append(p.reactivated, id)
	return nil
}

func newDir() *fakeDir {
	return &fakeDir{users: map[string]model.Identity{
		"u1": {ID: "u1", Email: "ann@example.com", PasswordHash: "plain:correct horse", Active: true},
		"u2": {ID: "u2", Email: "bob@example.com", PasswordHash: "plain:battery", Active: false},
	}}
}

func TestPasswordVerifier(t *testing.T) {
	h := &plainHasher{}
	v := NewPassword(newDir(), h, testErrs, time.Second)
	ctx := context.Background()

	res, err := v.Verify(ctx, Credentials{Email: " Ann@Example.com ", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Identity.ID)
	assert.Equal(t, audit.PasswordAttempt{Email: "ann@example.com"}, res.Attempt)

	_, err = v.Verify(ctx, Credentials{Email: "ann@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, errInvalid)

	_, err = v.Verify(ctx, Credentials{Email: "ghost@example.com", Password: "x"})
	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, 1, h.burned)

	_, err = v.Verify(ctx, Credentials{Email: "", Password: "x"})
	assert.ErrorIs(t, err, errMalformed)

	// Inactive identities still verify; blocking is decided by the caller.
	res, err = v.Verify(ctx, Credentials{Email: "bob@example.com", Password: "battery"})
	require.NoError(t, err)
	assert.False(t, res.Identity.Active)

	assert.Equal(t, "pw:ann@example.com", v.RateKey(Credentials{Email: "ANN@example.com"}))
}

func TestPasswordVerifierBackendFailure(t *testing.T) {
	dir := newDir()
	dir.err = context.DeadlineExceeded
	v := NewPassword(dir, &plainHasher{}, testErrs, time.Second)

	_, err := v.Verify(context.Background(), Credentials{Email: "ann@example.com", Password: "x"})
	assert.ErrorIs(t, err, errBackend)
}

func encodeDescriptor(t *testing.T, d model.Descriptor) string {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestFaceVerifierMatchAndTouch(t *testing.T) {
	profiles := &fakeProfiles{profiles: []model.FaceProfile{
		{ID: "p1", UserID: "u1", Descriptor: model.Descriptor{0, 0, 0}, Active: true},
	}}
	v := NewFace(FaceConfig{}, newDir(), profiles, testErrs, time.Second, nil)

	res, err := v.Verify(context.Background(), Credentials{
		FaceData:  encodeDescriptor(t, model.Descriptor{0.05, 0, 0}),
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Mobile",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Identity.ID)
	assert.Equal(t, []string{"p1"}, profiles.touched)

	face, ok := res.Attempt.(audit.FaceAttempt)
	require.True(t, ok)
	assert.InDelta(t, 95.0, face.Confidence, 0.001)
	assert.Equal(t, "high", face.Quality)
	assert.Equal(t, "mobile", face.DeviceClass)
}

func TestFaceVerifierRejections(t *testing.T) {
	profiles := &fakeProfiles{profiles: []model.FaceProfile{
		{ID: "active", UserID: "u1", Descriptor: model.Descriptor{5, 5, 5}, Active: true},
		{ID: "deactivated", UserID: "u1", Descriptor: model.Descriptor{0, 0, 0}, Active: false},
	}}
	v := NewFace(FaceConfig{}, newDir(), profiles, testErrs, time.Second, nil)
	ctx := context.Background()

	_, err := v.Verify(ctx, Credentials{})
	assert.ErrorIs(t, err, errNoData)

	_, err = v.Verify(ctx, Credentials{FaceData: "%%%"})
	assert.ErrorIs(t, err, errMalformed)

	// Only the deactivated profile is within the threshold.
	res, err := v.Verify(ctx, Credentials{Descriptor: model.Descriptor{0.05, 0, 0}})
	assert.ErrorIs(t, err, errNoMatch)
	assert.Empty(t, res.Identity.ID)

	// Too far from the active profile.
	_, err = v.Verify(ctx, Credentials{Descriptor: model.Descriptor{4, 4, 4}})
	assert.ErrorIs(t, err, errNoMatch)
}

func TestFaceVerifierTemporaryDisable(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	profiles := &fakeProfiles{profiles: []model.FaceProfile{
		{ID: "p1", UserID: "u1", Descriptor: model.Descriptor{0, 0}, Active: false, DisabledUntil: now.Add(time.Hour)},
	}}
	clock := func() time.Time { return now }
	v := NewFace(FaceConfig{}, newDir(), profiles, testErrs, time.Second, clock)
	ctx := context.Background()

	_, err := v.Verify(ctx, Credentials{Descriptor: model.Descriptor{0, 0}})
	assert.ErrorIs(t, err, errNoMatch)
	assert.Empty(t, profiles.reactivated)

	now = now.Add(2 * time.Hour)
	res, err := v.Verify(ctx, Credentials{Descriptor: model.Descriptor{0, 0}})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Identity.ID)
	assert.Equal(t, []string{"p1"}, profiles.reactivated)
	assert.NotEmpty(t, res.Detail)
}

func TestFaceVerifierAdaptiveFloor(t *testing.T) {
	profiles := &fakeProfiles{profiles: []model.FaceProfile{
		{ID: "p1", UserID: "u1", Descriptor: model.Descriptor{0, 0}, Active: true},
	}}
	cfg := FaceConfig{MinConfidence: func(context.Context, string) float64 { return 90 }}
	v := NewFace(cfg, newDir(), profiles, testErrs, time.Second, nil)

	// distance 0.2 -> confidence 80, under the floor of 90
	_, err := v.Verify(context.Background(), Credentials{Descriptor: model.Descriptor{0.2, 0}})
	assert.ErrorIs(t, err, errNoMatch)

	_, err = v.Verify(context.Background(), Credentials{Descriptor: model.Descriptor{0.05, 0}})
	assert.NoError(t, err)
}

func TestFaceRateKey(t *testing.T) {
	v := NewFace(FaceConfig{}, newDir(), &fakeProfiles{}, testErrs, time.Second, nil)

	assert.Equal(t, "face:10.0.0.9", v.RateKey(Credentials{IP: "10.0.0.9", UserAgent: "curl/8.0"}))
	assert.Equal(t, "face:"+model.DeviceToken("curl/8.0"), v.RateKey(Credentials{UserAgent: "curl/8.0"}))

	a := v.RateKey(Credentials{Descriptor: model.Descriptor{0.11, 0.42}})
	b := v.RateKey(Credentials{Descriptor: model.Descriptor{0.9, -0.3}})
	assert.True(t, strings.HasPrefix(a, "face-probe:"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, v.RateKey(Credentials{Descriptor: model.Descriptor{0.111, 0.419}}))
	assert.NotEqual(t, a, v.RateKey(Credentials{FaceData: "WzAuMSwwLjJd"}))
}

func TestQRVerifier(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	codec := NewQRCodec([]byte("0123456789abcdef0123456789abcdef"))
	v := NewQR(codec, nil, 0, newDir(), testErrs, time.Second, clock)
	ctx := context.Background()

	payload, err := codec.Issue("u1", now.Add(-4*time.Minute))
	require.NoError(t, err)
	res, err := v.Verify(ctx, Credentials{QRPayload: payload})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Identity.ID)
	assert.Equal(t, "qr:u1", v.RateKey(Credentials{QRPayload: payload}))

	stale, err := codec.Issue("u1", now.Add(-5*time.Minute-time.Second))
	require.NoError(t, err)
	_, err = v.Verify(ctx, Credentials{QRPayload: stale})
	assert.ErrorIs(t, err, errExpired)

	staleGhost, err := codec.Issue("ghost", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = v.Verify(ctx, Credentials{QRPayload: staleGhost})
	assert.ErrorIs(t, err, errExpired)

	ghost, err := codec.Issue("ghost", now)
	require.NoError(t, err)
	_, err = v.Verify(ctx, Credentials{QRPayload: ghost})
	assert.ErrorIs(t, err, errNotFound)

	forged, err := NewQRCodec([]byte("another-key-another-key-another-k")).Issue("u1", now)
	require.NoError(t, err)
	_, err = v.Verify(ctx, Credentials{QRPayload: forged})
	assert.ErrorIs(t, err, errMalformed)

	assert.Equal(t, "qr-ip:10.0.0.9", v.RateKey(Credentials{QRPayload: "junk", IP: "10.0.0.9"}))
}

type fakeNonces struct {
	seen map[string]time.Duration
	err  error
}

func (n *fakeNonces) ConsumeNonce(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	if n.err != nil {
		return false, n.err
	}
	if _, ok := n.seen[nonce]; ok {
		return false, nil
	}
	n.seen[nonce] = ttl
	return true, nil
}

func TestQRVerifierSingleUse(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	codec := NewQRCodec([]byte("0123456789abcdef0123456789abcdef"))
	nonces := &fakeNonces{seen: map[string]time.Duration{}}
	v := NewQR(codec, nonces, 0, newDir(), testErrs, time.Second, clock)
	ctx := context.Background()

	payload, err := codec.Issue("u1", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = v.Verify(ctx, Credentials{QRPayload: payload})
	require.NoError(t, err)
	for _, ttl := range nonces.seen {
		assert.Equal(t, DefaultQRValidity+qrClockSkew, ttl)
	}

	_, err = v.Verify(ctx, Credentials{QRPayload: payload})
	assert.ErrorIs(t, err, errMalformed)

	other, err := codec.Issue("u1", now)
	require.NoError(t, err)
	_, err = v.Verify(ctx, Credentials{QRPayload: other})
	require.NoError(t, err)

	nonces.err = errors.New("redis down")
	third, err := codec.Issue("u1", now)
	require.NoError(t, err)
	_, err = v.Verify(ctx, Credentials{QRPayload: third})
	assert.ErrorIs(t, err, errBackend)
}

func TestSetDispatch(t *testing.T) {
	set := NewSet(testErrs, NewPassword(newDir(), &plainHasher{}, testErrs, time.Second))

	v, err := set.Get(model.MethodPassword)
	require.NoError(t, err)
	assert.Equal(t, model.MethodPassword, v.Method())

	_, err = set.Get(model.MethodQR)
	assert.ErrorIs(t, err, errMalformed)
}
