package database

import (
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/edgard/botdeck/internal/errors"
)

// HashPassword returns the bcrypt hash stored in User.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.NewValidationError("password cannot be hashed", err)
	}
	return string(hash), nil
}
