package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/roma-frontend/fitauth"
	"github.com/roma-frontend/fitauth/store/memory"
)

// seedUser is one record of the users file. Either Password (hashed on load)
// or PasswordHash must be set.
type seedUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Password     string `json:"password,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
	Blocked      bool   `json:"blocked,omitempty"`
}

type hasher interface {
	Hash(password string) (string, error)
}

// loadUsers reads a JSON array of users from path into dir.
func loadUsers(path string, dir *memory.Directory, h hasher) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read users file: %w", err)
	}

	var users []seedUser
	if err := json.Unmarshal(data, &users); err != nil {
		return 0, fmt.Errorf("decode users file %s: %w", path, err)
	}

	for i, u := range users {
		hash := u.PasswordHash
		switch {
		case hash != "":
		case u.Password != "":
			if hash, err = h.Hash(u.Password); err != nil {
				return i, fmt.Errorf("hash password of %s: %w", u.ID, err)
			}
		default:
			return i, errors.New("user " + u.ID + ": password or password_hash required")
		}

		if err := dir.Add(fitauth.Identity{
			ID:           u.ID,
			Email:        u.Email,
			Name:         u.Name,
			Role:         u.Role,
			PasswordHash: hash,
			Active:       !u.Blocked,
		}); err != nil {
			return i, err
		}
	}
	return len(users), nil
}
