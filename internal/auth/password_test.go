package auth

import (
	"errors"
	"testing"

	"github.com/TheGojiOG/mcpanel/internal/config"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret", 4)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	if err := VerifyPassword("secret", hash); err != nil {
		t.Fatalf("expected password to verify, got %v", err)
	}

	if err := VerifyPassword("wrong", hash); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestAuthenticate(t *testing.T) {
	hash, err := HashPassword("hunter2", 4)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	users := []config.APIUser{{Username: "ops", PasswordHash: hash, Roles: []string{RoleOperator}}}

	roles, err := Authenticate(users, "ops", "hunter2")
	if err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
	if len(roles) != 1 || roles[0] != RoleOperator {
		t.Fatalf("unexpected roles %v", roles)
	}

	for _, tc := range []struct{ user, pass string }{{"ops", "wrong"}, {"nobody", "hunter2"}} {
		if _, err := Authenticate(users, tc.user, tc.pass); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("Authenticate(%s) expected ErrBadCredentials, got %v", tc.user, err)
		}
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword("", 4); err == nil {
		t.Fatal("expected empty password to be rejected")
	}
}
