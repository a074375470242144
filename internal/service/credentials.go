package service

import (
	"errors"

	"github.com/storefront/authsession/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// BcryptVerifier checks a password against the bcrypt hash on the user record.
// How hashes are produced is owned by the user service.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(user *models.User, password string) error {
	if user == nil || user.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
