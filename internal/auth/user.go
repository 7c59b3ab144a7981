package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/krypto"
)

// Role determines what a user is allowed to do on the marketplace.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// User contains the data for a user.
type User struct {
	ID              uuid.UUID
	Email           email.Address
	Name            string
	Role            Role
	PasswordHash    krypto.Argon2Hash
	IsActive        bool
	EmailVerified   bool
	EmailVerifiedAt *time.Time
	// Reset is non-nil while a password reset is pending.
	Reset *ResetMetadata
	// Verification is non-nil while an email verification is pending.
	Verification *VerificationMetadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credentials are used to authenticate a user.
type Credentials struct {
	Email    email.Address
	Password Password
}

// Registration contains the data required to create a new account.
type Registration struct {
	Email    email.Address
	Name     string
	Password StrongPassword
}

// ProfileUpdate contains the fields of a user that the user may change
// themselves. Nil fields are left untouched.
type ProfileUpdate struct {
	Name  *string
	Email *email.Address
}

// NewPassword is a request to set a new password using a reset token.
type NewPassword struct {
	Token    string
	Password StrongPassword
}

// PasswordChange is a request by an authenticated user to change their password.
type PasswordChange struct {
	Current Password
	New     StrongPassword
}
