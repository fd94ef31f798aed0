// Package session exposes the unlocked user session to the data layer: the
// active user, their asymmetric address keys, and access-token introspection.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"passvault.dev/passvault/internal/common"
)

// UserKey is one asymmetric key of the user. Inactive keys (e.g. invalidated
// by a password reset) must not be used for decryption.
type UserKey struct {
	KeyID string

	// PrivateKey is the armored private key; Passphrase unlocks it.
	PrivateKey []byte
	Passphrase []byte

	// PublicKey is the armored public counterpart, used for verification.
	PublicKey []byte

	Active bool
}

// User is the account owning the local cache.
type User struct {
	ID    string
	Email string
	Keys  []UserKey
}

// Manager resolves the active user and their key material.
type Manager interface {
	// ActiveUserID returns the id of the currently unlocked user.
	ActiveUserID(ctx context.Context) (string, error)

	// User returns the user with the given id, including their keys.
	User(ctx context.Context, userID string) (*User, error)
}

// StaticManager is a Manager backed by an in-memory user, set once at unlock.
type StaticManager struct {
	user User
}

func NewStaticManager(user User) *StaticManager {
	return &StaticManager{user: user}
}

func (m *StaticManager) ActiveUserID(ctx context.Context) (string, error) {
	if m.user.ID == "" {
		return "", common.ErrNotFound
	}
	return m.user.ID, nil
}

func (m *StaticManager) User(ctx context.Context, userID string) (*User, error) {
	if userID != m.user.ID {
		return nil, fmt.Errorf("user %s: %w", userID, common.ErrNotFound)
	}
	u := m.user
	return &u, nil
}

// TokenInfo is the subset of access-token claims the client cares about.
type TokenInfo struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// ParseToken extracts claims from an access token without verifying its
// signature. Verification is the server's job; the client only needs the
// subject and expiry to label its session.
func ParseToken(raw string) (*TokenInfo, error) {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(raw, &claims)
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	info := &TokenInfo{UserID: claims.Subject, SessionID: claims.ID}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
