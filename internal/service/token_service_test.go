package service

import (
	"errors"
	"testing"
	"time"

	"github.com/ferchox920/sessiond/internal/domain"
)

func TestTokenService_IssueVerify(t *testing.T) {
	svc := NewTokenService("secret", 15*time.Minute)
	user := domain.User{
		ID:        "u1",
		Email:     "user@example.com",
		Role:      domain.RoleUser,
		Status:    domain.UserStatusActive,
		CreatedAt: time.Now().UTC(),
	}

	token, err := svc.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "user@example.com" || claims.Role != domain.RoleUser {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenService_RejectsEmptySecret(t *testing.T) {
	svc := NewTokenService("", 15*time.Minute)
	user := domain.User{ID: "u1", Email: "user@example.com", CreatedAt: time.Now().UTC()}

	if _, err := svc.Issue(user); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on empty secret, got %v", err)
	}
}

func TestTokenService_RejectsForeignSecret(t *testing.T) {
	issuer := NewTokenService("secret-a", 15*time.Minute)
	verifier := NewTokenService("secret-b", 15*time.Minute)
	user := domain.User{ID: "u1", Email: "user@example.com", CreatedAt: time.Now().UTC()}

	token, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for foreign signature, got %v", err)
	}
}

func TestTokenService_RejectsExpired(t *testing.T) {
	svc := NewTokenService("secret", time.Nanosecond)
	user := domain.User{ID: "u1", Email: "user@example.com", CreatedAt: time.Now().UTC()}

	token, err := svc.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := svc.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	svc := NewTokenService("secret", 15*time.Minute)
	for _, token := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid for %q, got %v", token, err)
		}
	}
}
