package authpw

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPlainPassword(t *testing.T) {
	svc, err := NewService("line-two-secret", "")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := svc.Verify("line-two-secret"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := svc.Verify("wrong-password"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if err := svc.Verify(""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
}

func TestHashWinsOverPlain(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("from-the-hash"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	svc, err := NewService("from-plain-env", string(hash))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := svc.Verify("from-the-hash"); err != nil {
		t.Fatalf("hash password should verify, got %v", err)
	}
	if err := svc.Verify("from-plain-env"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("plain password must be ignored when a hash is set, got %v", err)
	}
}

func TestNewServiceErrors(t *testing.T) {
	if _, err := NewService("", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewService("", "not-a-bcrypt-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
	if _, err := NewService("short", ""); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("long-enough")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("long-enough")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}
