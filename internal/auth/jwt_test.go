package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTManagerGenerateAndValidate(t *testing.T) {
	manager, err := NewJWTManager("test-secret", 10*time.Minute)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	token, expires, err := manager.GenerateToken("tester", []string{RoleOperator}, 0)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token to be generated")
	}
	if d := time.Until(expires); d <= 9*time.Minute || d > 10*time.Minute {
		t.Fatalf("unexpected expiry %v", expires)
	}

	claims, err := manager.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("failed to validate access token: %v", err)
	}
	if claims.Subject != "tester" || len(claims.Roles) != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.Can(PermServersControl) || claims.Can(PermActivityRead) {
		t.Fatalf("unexpected permissions for operator: %+v", claims.Roles)
	}
}

func TestJWTManagerRejectsBadTokens(t *testing.T) {
	manager, _ := NewJWTManager("test-secret", time.Minute)
	other, _ := NewJWTManager("other-secret", time.Minute)

	foreign, _, err := other.GenerateToken("tester", []string{RoleAdmin}, 0)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if _, err := manager.ValidateAccessToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	past := time.Now().Add(-time.Hour)
	manager.now = func() time.Time { return past }
	expired, _, err := manager.GenerateToken("tester", nil, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	manager.now = time.Now
	if _, err := manager.ValidateAccessToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := manager.ValidateAccessToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestJWTManagerValidation(t *testing.T) {
	if _, err := NewJWTManager("", time.Minute); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
	manager, _ := NewJWTManager("secret", time.Minute)
	if _, _, err := manager.GenerateToken("", nil, 0); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, _, err := manager.GenerateToken("tester", []string{"root"}, 0); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		roles []string
		perm  Permission
		want  bool
	}{
		{[]string{RoleViewer}, PermServersList, true},
		{[]string{RoleViewer}, PermServersControl, false},
		{[]string{RoleViewer, RoleOperator}, PermServersRCON, true},
		{[]string{RoleAdmin}, PermActivityRead, true},
		{nil, PermServersList, false},
		{[]string{"unknown"}, PermServersList, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.roles, tt.perm); got != tt.want {
			t.Fatalf("HasPermission(%v, %s) = %v, want %v", tt.roles, tt.perm, got, tt.want)
		}
	}
}
