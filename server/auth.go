package server

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// UserTable is an Authenticator backed by bcrypt password hashes.
//
// The zero value rejects everyone. Anonymous logins ("anonymous" and "ftp",
// any password) are accepted only when enabled with AllowAnonymous.
type UserTable struct {
	mu        sync.RWMutex
	hashes    map[string][]byte
	anonymous bool
}

// NewUserTable creates an empty table.
func NewUserTable() *UserTable {
	return &UserTable{hashes: make(map[string][]byte)}
}

// AddHash registers a user with an existing bcrypt hash.
func (t *UserTable) AddHash(user, hash string) error {
	if user == "" {
		return fmt.Errorf("empty user name")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash for user %q: %w", user, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hashes == nil {
		t.hashes = make(map[string][]byte)
	}
	t.hashes[user] = []byte(hash)
	return nil
}

// AddPassword hashes password and registers the user.
func (t *UserTable) AddPassword(user, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return t.AddHash(user, hash)
}

// AllowAnonymous enables or disables anonymous logins.
func (t *UserTable) AllowAnonymous(allow bool) {
	t.mu.Lock()
	t.anonymous = allow
	t.mu.Unlock()
}

// Verify reports whether pass is the password of user.
func (t *UserTable) Verify(user, pass string) bool {
	t.mu.RLock()
	hash, ok := t.hashes[user]
	anonymous := t.anonymous
	t.mu.RUnlock()

	if ok {
		return bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
	}
	return anonymous && (user == "anonymous" || user == "ftp")
}

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
