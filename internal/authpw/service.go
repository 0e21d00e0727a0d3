// Package authpw verifies the shared admin password.
package authpw

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordRequired = errors.New("password is required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrNotConfigured    = errors.New("admin password is not configured")
)

// Service checks login attempts against a bcrypt hash of the admin password.
type Service struct {
	hash []byte
}

// NewService prefers an explicit bcrypt hash. A plain password is hashed once
// at construction so it is never compared in clear text.
func NewService(plain, hash string) (*Service, error) {
	hash = strings.TrimSpace(hash)
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("parse admin password hash: %w", err)
		}
		return &Service{hash: []byte(hash)}, nil
	}
	if plain == "" {
		return nil, ErrNotConfigured
	}
	generated, err := HashPassword(plain)
	if err != nil {
		return nil, err
	}
	return &Service{hash: []byte(generated)}, nil
}

// Verify returns nil when password matches.
func (s *Service) Verify(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for PORTAL_ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
