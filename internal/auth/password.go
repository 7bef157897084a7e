package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/TheGojiOG/mcpanel/internal/config"
)

// ErrBadCredentials is returned for an unknown user or a wrong password.
var ErrBadCredentials = errors.New("invalid username or password")

// dummyHash keeps the cost of a failed lookup equal to a failed compare.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("mcpanel-unknown-user"), bcrypt.MinCost)

// HashPassword hashes a plain text password using bcrypt
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plain text password with a hashed password
func VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Authenticate checks a login against the configured API users and returns the
// user's roles.
func Authenticate(users []config.APIUser, username, password string) ([]string, error) {
	for _, u := range users {
		if u.Username != username {
			continue
		}
		if err := VerifyPassword(password, u.PasswordHash); err != nil {
			return nil, ErrBadCredentials
		}
		return u.Roles, nil
	}
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
	return nil, ErrBadCredentials
}
