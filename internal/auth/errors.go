package auth

import "errors"

var (
	// ErrInvalidToken merges malformed, tampered, expired and superseded tokens
	// so callers can't tell them apart.
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrTooFrequentResend  = errors.New("verification email requested too frequently")
	ErrAlreadyVerified    = errors.New("email is already verified")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSamePassword       = errors.New("new password must differ from the current password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInactiveUser       = errors.New("inactive user")
	ErrDuplicateUser      = errors.New("duplicate user")
)
