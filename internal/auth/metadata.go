package auth

import (
	"time"

	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/krypto"
)

// ResetMetadata tracks a pending password reset. Only a hash of the issued
// token is kept, so a leaked database can't be used to reset passwords.
type ResetMetadata struct {
	TokenHash krypto.Argon2Hash
	CreatedAt time.Time
	Attempts  int
}

// VerificationMetadata tracks a pending email verification for Email.
type VerificationMetadata struct {
	TokenHash krypto.Argon2Hash
	Email     email.Address
	CreatedAt time.Time
	Attempts  int
}

func newResetMetadata(token string, now time.Time) (*ResetMetadata, error) {
	hash, err := krypto.HashArgon2([]byte(token))
	if err != nil {
		return nil, err
	}

	return &ResetMetadata{
		TokenHash: hash,
		CreatedAt: now,
		Attempts:  0,
	}, nil
}

func newVerificationMetadata(token string, addr email.Address, now time.Time) (*VerificationMetadata, error) {
	hash, err := krypto.HashArgon2([]byte(token))
	if err != nil {
		return nil, err
	}

	return &VerificationMetadata{
		TokenHash: hash,
		Email:     addr,
		CreatedAt: now,
		Attempts:  0,
	}, nil
}

func (m *ResetMetadata) matches(token string) bool {
	return m.TokenHash.MatchBytes([]byte(token))
}

func (m *ResetMetadata) expired(now time.Time, expiry time.Duration) bool {
	return m.CreatedAt.Add(expiry).Before(now)
}

func (m *VerificationMetadata) matches(token string) bool {
	return m.TokenHash.MatchBytes([]byte(token))
}

func (m *VerificationMetadata) expired(now time.Time, expiry time.Duration) bool {
	return m.CreatedAt.Add(expiry).Before(now)
}

func (u *User) startReset(m *ResetMetadata, now time.Time) {
	u.Reset = m
	u.UpdatedAt = now
}

func (u *User) clearReset(now time.Time) {
	u.Reset = nil
	u.UpdatedAt = now
}

func (u *User) startVerification(m *VerificationMetadata, now time.Time) {
	u.Verification = m
	u.UpdatedAt = now
}

func (u *User) clearVerification(now time.Time) {
	u.Verification = nil
	u.UpdatedAt = now
}

// markVerified marks the current email as verified and ends any pending verification.
func (u *User) markVerified(now time.Time) {
	u.EmailVerified = true
	u.EmailVerifiedAt = ptr(now)
	u.clearVerification(now)
}

// changeEmail switches to a new, unverified email address.
func (u *User) changeEmail(addr email.Address, now time.Time) {
	u.Email = addr
	u.EmailVerified = false
	u.EmailVerifiedAt = nil
	u.clearVerification(now)
}
