package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	issued, claims, err := issuer.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if claims.JTI == "" || claims.Exp <= claims.Iat {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	parsed, err := issuer.Parse(issued)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed != claims {
		t.Fatalf("parsed claims %+v differ from issued %+v", parsed, claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issued, _, err := NewIssuer("secret", time.Hour).WithClock(func() time.Time { return past }).Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := NewIssuer("secret", time.Hour).Parse(issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	issued, _, err := issuer.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	payload, signature, _ := strings.Cut(issued, ".")
	cases := map[string]string{
		"other secret": "",
		"no signature": payload,
		"extra part":   issued + ".x",
		"bad payload":  "e30." + signature,
		"empty":        "",
	}
	for name, token := range cases {
		parser := issuer
		if name == "other secret" {
			parser = NewIssuer("other", time.Hour)
			token = issued
		}
		if _, err := parser.Parse(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc.def":  "abc.def",
		"bearer  abc.def": "abc.def",
		"Basic abc":       "",
		"abc.def":         "",
		"":                "",
	}
	for header, want := range cases {
		if got := BearerToken(header); got != want {
			t.Fatalf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
