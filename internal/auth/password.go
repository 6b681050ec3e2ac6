package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var errUnusablePassword = errors.New("auth: account has no usable password")

// HashPassword hashes a plaintext password with bcrypt. An empty password
// yields an empty hash, which never verifies.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errUnusablePassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
