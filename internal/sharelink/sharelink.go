// Package sharelink issues and verifies shareable read-only scene links,
// optionally protected with a password.
package sharelink

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrWrongPassword = errors.New("wrong share link password")

// NewToken creates the opaque token embedded in a share URL.
func NewToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword hashes a share-link password for storage. Returns nil for
// an empty password, meaning the link is open.
func HashPassword(password string) (*string, error) {
	if password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash share password: %w", err)
	}
	s := string(hash)
	return &s, nil
}

// VerifyPassword checks a presented password against the stored hash.
// A nil hash means the link is open and any password is accepted.
func VerifyPassword(hash *string, password string) error {
	if hash == nil {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*hash), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}
