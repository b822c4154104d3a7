// Package authpw provides the opaque password hash/verify primitive.
package authpw

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrPasswordTooShort rejects passwords below the minimum length.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrPasswordMismatch means the password does not match the stored hash.
	ErrPasswordMismatch = errors.New("password mismatch")
	// ErrNoPassword means the account has no stored credential. Legacy rows
	// imported without a hash hit this; they need an explicit credential
	// migration, not a login-time workaround.
	ErrNoPassword = errors.New("no password set")
)

const minPasswordLen = 8

// Hash returns the one-way salted hash for a password.
func Hash(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare verifies a password against a stored hash.
func Compare(hash, password string) error {
	if hash == "" {
		return ErrNoPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
