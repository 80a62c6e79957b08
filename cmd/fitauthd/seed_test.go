package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roma-frontend/fitauth/password"
	"github.com/roma-frontend/fitauth/store/memory"
)

func writeUsers(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write users file: %v", err)
	}
	return path
}

func testHasher(t *testing.T) *password.Argon2 {
	t.Helper()

	h, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func TestLoadUsers(t *testing.T) {
	h := testHasher(t)
	hash, err := h.Hash("correct-horse-2")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	path := writeUsers(t, `[
		{"id": "u1", "email": "alice@example.com", "name": "Alice", "role": "admin", "password": "correct-horse-1"},
		{"id": "u2", "email": "bob@example.com", "role": "member", "password_hash": "`+hash+`", "blocked": true}
	]`)

	dir := memory.NewDirectory(nil)
	n, err := loadUsers(path, dir, h)
	if err != nil {
		t.Fatalf("loadUsers failed: %v", err)
	}
	if n != 2 || dir.Len() != 2 {
		t.Fatalf("expected 2 users, got n=%d len=%d", n, dir.Len())
	}

	alice, err := dir.GetByEmail(context.Background(), "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	ok, err := h.Verify("correct-horse-1", alice.PasswordHash)
	if err != nil || !ok {
		t.Fatalf("expected seeded password to verify, ok=%v err=%v", ok, err)
	}
	if !alice.Active {
		t.Fatal("expected alice active")
	}

	bob, _ := dir.GetByID(context.Background(), "u2")
	if bob.Active || bob.PasswordHash != hash {
		t.Fatalf("expected bob blocked with the given hash, got %+v", bob)
	}
}

func TestLoadUsersErrors(t *testing.T) {
	h := testHasher(t)

	if _, err := loadUsers(filepath.Join(t.TempDir(), "missing.json"), memory.NewDirectory(nil), h); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := loadUsers(writeUsers(t, `{"id": 1}`), memory.NewDirectory(nil), h); err == nil {
		t.Fatal("expected decode error")
	}

	_, err := loadUsers(writeUsers(t, `[{"id": "u1", "email": "a@example.com"}]`), memory.NewDirectory(nil), h)
	if err == nil || !strings.Contains(err.Error(), "password") {
		t.Fatalf("expected missing password error, got %v", err)
	}

	dup := `[{"id": "u1", "email": "a@example.com", "password": "correct-horse-1"},
		{"id": "u2", "email": "A@example.com", "password": "correct-horse-1"}]`
	if _, err := loadUsers(writeUsers(t, dup), memory.NewDirectory(nil), h); err == nil {
		t.Fatal("expected duplicate email error")
	}
}
