package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMalformed          = errors.New("malformed credentials")
	ErrInvalidField       = errors.New("invalid field")
	ErrUnknownEmail       = errors.New("unknown email")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrSessionExpired     = errors.New("session expired")
	ErrWeakPassword       = errors.New("weak password")
	ErrEmptyPassword      = errors.New("password cannot be empty")
)

func invalidField(f Field) error {
	return fmt.Errorf("%w: %q", ErrInvalidField, string(f))
}
