package fitauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var aliceFace = Descriptor{0.11, 0.42, -0.3, 0.07}

func faceCreds(d Descriptor) Credentials {
	return Credentials{Method: MethodFace, Descriptor: d, IP: "203.0.113.7", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/140.0"}
}

func TestRegisterFaceIDConfidenceFloor(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")

	_, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 70})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for confidence 70, got %v", err)
	}
	if _, err := env.faces.GetByUserID(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("profile must not be stored, got %v", err)
	}
	if env.identity(t, "u1").FaceIDEnabled {
		t.Fatalf("flag must stay off")
	}

	st, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 76})
	if err != nil {
		t.Fatalf("expected confidence 76 to register, got %v", err)
	}
	if st.State != FaceIDActive || !st.Enabled || st.ProfileID == "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if !env.identity(t, "u1").FaceIDEnabled {
		t.Fatalf("expected flag to be set")
	}

	regs := env.entries(t, "u1", ActionFaceRegister)
	if len(regs) != 2 || regs[0].Success || !regs[1].Success {
		t.Fatalf("expected failed then successful register entries, got %+v", regs)
	}
}

func TestRegisterFaceIDRejectsBadDescriptors(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.FaceID.DescriptorLength = 4 })
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")

	cases := []struct {
		name string
		reg  FaceRegistration
		want error
	}{
		{"empty", FaceRegistration{Confidence: 90}, ErrInsufficientBiometricData},
		{"short", FaceRegistration{Descriptor: Descriptor{1, 2}, Confidence: 90}, ErrValidation},
		{"not base64", FaceRegistration{FaceData: "%%%", Confidence: 90}, ErrValidation},
		{"over 100", FaceRegistration{Descriptor: aliceFace, Confidence: 101}, ErrValidation},
	}
	for _, tc := range cases {
		if _, err := env.engine.RegisterFaceID(ctx, "u1", tc.reg); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	_, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 101})
	if err == nil || !strings.Contains(err.Error(), "outside 0..100") || strings.Contains(err.Error(), "below required") {
		t.Fatalf("expected out-of-range confidence error, got %v", err)
	}
	_, err = env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 60})
	if err == nil || !strings.Contains(err.Error(), "below required 75") {
		t.Fatalf("expected below-floor confidence error, got %v", err)
	}

	if _, err := env.engine.RegisterFaceID(ctx, "missing", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	// base64 of [0.11,0.42,-0.3,0.07]
	st, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{FaceData: "WzAuMTEsMC40MiwtMC4zLDAuMDdd", Confidence: 90})
	if err != nil {
		t.Fatalf("expected FaceData registration, got %v", err)
	}
	p, err := env.faces.GetByUserID(ctx, "u1")
	if err != nil || p.ID != st.ProfileID || len(p.Descriptor) != 4 {
		t.Fatalf("unexpected stored profile %+v err=%v", p, err)
	}
}

func TestRegisterFaceIDTwiceKeepsOneProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")

	first, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 88})
	if err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	env.clock.Advance(time.Hour)
	second, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: Descriptor{0.5, 0.5, 0.5, 0.5}, Confidence: 93})
	if err != nil {
		t.Fatalf("second register failed: %v", err)
	}
	if first.ProfileID != second.ProfileID {
		t.Fatalf("expected profile to be replaced in place: %s vs %s", first.ProfileID, second.ProfileID)
	}

	all, err := env.faces.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one profile, got %d", len(all))
	}
	if all[0].Confidence != 93 || !all[0].UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected latest registration data, got %+v", all[0])
	}

	// The old descriptor no longer matches.
	if res := env.engine.Login(ctx, faceCreds(aliceFace)); res.Success {
		t.Fatalf("old descriptor still matches")
	}
	if res := env.engine.Login(ctx, faceCreds(Descriptor{0.5, 0.5, 0.5, 0.5})); !res.Success {
		t.Fatalf("new descriptor rejected: %+v", res)
	}
}

func TestUpdateFaceIDRequiresActiveProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")

	if _, err := env.engine.UpdateFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before registration, got %v", err)
	}
	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("RegisterFaceID failed: %v", err)
	}
	if _, err := env.engine.UpdateFaceID(ctx, "u1", FaceRegistration{Descriptor: Descriptor{0, 0, 0, 1}, Confidence: 91}); err != nil {
		t.Fatalf("UpdateFaceID failed: %v", err)
	}
	if err := env.engine.DisableFaceID(ctx, "u1", "u1"); err != nil {
		t.Fatalf("DisableFaceID failed: %v", err)
	}
	if _, err := env.engine.UpdateFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation on deactivated profile, got %v", err)
	}
}

func TestDisableFaceIDClearsFlagAndBlocksLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")
	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("RegisterFaceID failed: %v", err)
	}

	if err := env.engine.DisableFaceID(ctx, "u1", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected actor to be required, got %v", err)
	}
	if err := env.engine.DisableFaceID(ctx, "u1", "admin-1"); err != nil {
		t.Fatalf("DisableFaceID failed: %v", err)
	}
	if env.identity(t, "u1").FaceIDEnabled {
		t.Fatalf("expected flag cleared")
	}
	st, err := env.engine.GetFaceIDStatus(ctx, "u1")
	if err != nil || st.State != FaceIDDeactivated {
		t.Fatalf("expected deactivated, got %+v err=%v", st, err)
	}
	if res := env.engine.Login(ctx, faceCreds(aliceFace)); res.Success {
		t.Fatalf("deactivated profile logged in")
	}

	dis := env.entries(t, "u1", ActionFaceDisable)
	if len(dis) != 1 || dis[0].Actor != "admin-1" {
		t.Fatalf("unexpected disable entries %+v", dis)
	}
}

func TestTemporaryDisableReactivatesOnLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")
	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("RegisterFaceID failed: %v", err)
	}

	until, err := env.engine.TemporaryDisableFaceID(ctx, "u1", 2*time.Hour, "lost phone", "admin-1")
	if err != nil {
		t.Fatalf("TemporaryDisableFaceID failed: %v", err)
	}
	if !until.Equal(env.clock.Now().Add(2 * time.Hour)) {
		t.Fatalf("unexpected until %s", until)
	}

	st, err := env.engine.GetFaceIDStatus(ctx, "u1")
	if err != nil || st.State != FaceIDTemporarilyDisabled || st.DisabledReason != "lost phone" {
		t.Fatalf("unexpected status %+v err=%v", st, err)
	}
	if res := env.engine.Login(ctx, faceCreds(aliceFace)); res.Success {
		t.Fatalf("face login allowed while disabled")
	}

	env.clock.Advance(2*time.Hour + time.Second)
	res := env.engine.Login(ctx, faceCreds(aliceFace))
	if !res.Success {
		t.Fatalf("expected reactivation on login, got %+v", res)
	}
	logins := env.entries(t, "u1", ActionLogin)
	if last := logins[len(logins)-1]; !strings.Contains(last.Detail, "reactivated") {
		t.Fatalf("expected reactivation noted on the login entry, got %q", last.Detail)
	}
	p, err := env.faces.GetByUserID(ctx, "u1")
	if err != nil || !p.Active || !p.DisabledUntil.IsZero() {
		t.Fatalf("expected active profile, got %+v err=%v", p, err)
	}

	eventually(t, func() bool {
		return contains(env.outbox.Kinds("u1"), NotifyFaceIDTemporarilyOff)
	}, "temporary disable notification")
}

func lockRefs(k *keyedMutex, key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l := k.locks[key]; l != nil {
		return l.refs
	}
	return 0
}

func TestFaceLoginReactivationKeepsNewerDisable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")
	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("RegisterFaceID failed: %v", err)
	}
	if _, err := env.engine.TemporaryDisableFaceID(ctx, "u1", time.Hour, "review", "admin-1"); err != nil {
		t.Fatalf("TemporaryDisableFaceID failed: %v", err)
	}
	env.clock.Advance(time.Hour + time.Second)

	unlock := env.engine.faceLocks.Lock("u1")
	done := make(chan LoginResult, 1)
	go func() { done <- env.engine.Login(ctx, faceCreds(aliceFace)) }()
	eventually(t, func() bool { return lockRefs(env.engine.faceLocks, "u1") == 2 }, "login waiting on the profile lock")

	// A fresh disable window lands while the login waits.
	p, err := env.faces.GetByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByUserID failed: %v", err)
	}
	until := env.clock.Now().Add(time.Hour)
	if err := env.faces.TemporaryDisable(ctx, p.ID, until, "second review", "admin-2"); err != nil {
		t.Fatalf("TemporaryDisable failed: %v", err)
	}
	unlock()

	res := <-done
	if res.Success || res.Error != MessageFaceFailed {
		t.Fatalf("expected face login rejected, got %+v", res)
	}
	p, err = env.faces.GetByUserID(ctx, "u1")
	if err != nil || p.Active || !p.DisabledUntil.Equal(until) {
		t.Fatalf("newer disable window lost: %+v err=%v", p, err)
	}
	if n := len(env.entries(t, "u1", ActionFaceReactivated)); n != 0 {
		t.Fatalf("expected no reactivation entry, got %d", n)
	}
}

func TestTemporaryDisableReactivatesOnStatusRead(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")
	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("RegisterFaceID failed: %v", err)
	}
	if _, err := env.engine.TemporaryDisableFaceID(ctx, "u1", time.Hour, "review", "admin-1"); err != nil {
		t.Fatalf("TemporaryDisableFaceID failed: %v", err)
	}

	env.clock.Advance(time.Hour)
	st, err := env.engine.GetFaceIDStatus(ctx, "u1")
	if err != nil || st.State != FaceIDActive || !st.DisabledUntil.IsZero() {
		t.Fatalf("expected active after window, got %+v err=%v", st, err)
	}
	re := env.entries(t, "u1", ActionFaceReactivated)
	if len(re) != 1 || re[0].Actor != ActorSystem {
		t.Fatalf("expected one system reactivation entry, got %+v", re)
	}

	// A second read does not reactivate again.
	if _, err := env.engine.GetFaceIDStatus(ctx, "u1"); err != nil {
		t.Fatalf("GetFaceIDStatus failed: %v", err)
	}
	if n := len(env.entries(t, "u1", ActionFaceReactivated)); n != 1 {
		t.Fatalf("expected one reactivation entry, got %d", n)
	}
}

func TestTemporaryDisableValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")
	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("RegisterFaceID failed: %v", err)
	}

	cases := []struct {
		name     string
		duration time.Duration
		reason   string
		actor    string
	}{
		{"zero duration", 0, "r", "admin"},
		{"too long", 31 * 24 * time.Hour, "r", "admin"},
		{"no reason", time.Hour, " ", "admin"},
		{"no actor", time.Hour, "r", ""},
	}
	for _, tc := range cases {
		if _, err := env.engine.TemporaryDisableFaceID(ctx, "u1", tc.duration, tc.reason, tc.actor); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}

	if err := env.engine.DisableFaceID(ctx, "u1", "admin"); err != nil {
		t.Fatalf("DisableFaceID failed: %v", err)
	}
	if _, err := env.engine.TemporaryDisableFaceID(ctx, "u1", time.Hour, "r", "admin"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation on deactivated profile, got %v", err)
	}
}

func TestForceReregistrationRequiresFreshRegistration(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")
	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("RegisterFaceID failed: %v", err)
	}

	if err := env.engine.ForceFaceIDReregistration(ctx, "u1", "suspected spoofing", "admin-1"); err != nil {
		t.Fatalf("ForceFaceIDReregistration failed: %v", err)
	}
	st, err := env.engine.GetFaceIDStatus(ctx, "u1")
	if err != nil || st.State != FaceIDPendingReregistration || st.Enabled {
		t.Fatalf("unexpected status %+v err=%v", st, err)
	}
	if res := env.engine.Login(ctx, faceCreds(aliceFace)); res.Success {
		t.Fatalf("face login allowed before re-registration")
	}
	if _, err := env.engine.UpdateFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected update to be refused, got %v", err)
	}

	if _, err := env.engine.RegisterFaceID(ctx, "u1", FaceRegistration{Descriptor: aliceFace, Confidence: 90}); err != nil {
		t.Fatalf("re-registration failed: %v", err)
	}
	st, err = env.engine.GetFaceIDStatus(ctx, "u1")
	if err != nil || st.State != FaceIDActive || !st.Enabled {
		t.Fatalf("expected active after re-registration, got %+v err=%v", st, err)
	}
	if res := env.engine.Login(ctx, faceCreds(aliceFace)); !res.Success {
		t.Fatalf("face login failed after re-registration: %+v", res)
	}

	eventually(t, func() bool {
		return contains(env.outbox.Kinds("u1"), NotifyFaceIDReregistration)
	}, "re-registration notification")
}

func TestGetFaceIDStatusUnregistered(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addUser(t, "u1", "alice@example.com", "correct-horse-1")

	st, err := env.engine.GetFaceIDStatus(context.Background(), "u1")
	if err != nil || st.State != FaceIDUnregistered || st.Enabled {
		t.Fatalf("unexpected status %+v err=%v", st, err)
	}
	if _, err := env.engine.GetFaceIDStatus(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
