package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/krypto"
	"github.com/willemschots/dreambig/internal/signedtoken"
)

// VerificationConfig is the configuration for the VerificationManager.
type VerificationConfig struct {
	// Expiry is the duration a verification token is valid.
	Expiry time.Duration
	// MaxAttempts is the number of failed attempts after which a pending
	// verification is blocked, even for the correct token.
	MaxAttempts int
	// ResendCooldown is the minimum time between two verification emails.
	ResendCooldown time.Duration
}

// DefaultVerificationConfig returns the default verification configuration.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		Expiry:         48 * time.Hour,
		MaxAttempts:    10,
		ResendCooldown: 5 * time.Minute,
	}
}

// VerificationManager manages email verification of users.
// A verification token is bound to both a user and the email address it
// was sent to, changing the address invalidates the token.
type VerificationManager struct {
	store    Store
	codec    *signedtoken.Codec
	notifier *Notifier
	cfg      VerificationConfig

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewVerificationManager creates a new VerificationManager. Tokens are signed with key.
func NewVerificationManager(store Store, key krypto.Key, notifier *Notifier, cfg VerificationConfig) *VerificationManager {
	m := &VerificationManager{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		NowFunc:  time.Now,
	}

	m.codec = signedtoken.New(key, signedtoken.VerificationFormat, cfg.Expiry)
	m.codec.NowFunc = func() time.Time { return m.NowFunc() }

	return m
}

// start issues a new verification token for the current email of u and
// stores its metadata on u. Any previous verification is replaced.
func (m *VerificationManager) start(u *User, now time.Time) (string, error) {
	token, err := m.codec.Issue(u.ID.String(), string(u.Email))
	if err != nil {
		return "", err
	}

	meta, err := newVerificationMetadata(token, u.Email, now)
	if err != nil {
		return "", err
	}

	u.startVerification(meta, now)
	return token, nil
}

// notify sends the verification email in a worker goroutine.
func (m *VerificationManager) notify(u User, token string) {
	m.notifier.Send(TemplateVerification, u.Email, VerificationEmail{
		Name:      u.Name,
		Token:     token,
		ExpiresIn: m.cfg.Expiry,
	})
}

// Send starts a verification for the user and sends the email.
// It does nothing for users whose email is already verified.
func (m *VerificationManager) Send(ctx context.Context, userID uuid.UUID) error {
	now := m.NowFunc()

	var (
		user  User
		token string
	)
	err := inTx(ctx, m.store, func(tx Tx) error {
		var txErr error
		user, txErr = findOne(tx, &UserFilter{IDs: []uuid.UUID{userID}})
		if txErr != nil {
			return txErr
		}

		if user.EmailVerified {
			return nil
		}

		token, txErr = m.start(&user, now)
		if txErr != nil {
			return txErr
		}

		return tx.UpdateUser(&user)
	})
	if err != nil {
		return err
	}

	if token != "" {
		m.notify(user, token)
	}

	return nil
}

// Resend issues a fresh verification token for the user. It fails with
// ErrAlreadyVerified for verified users and with ErrTooFrequentResend when
// the previous email was sent less than ResendCooldown ago.
// The attempts counter starts over with the new token.
func (m *VerificationManager) Resend(ctx context.Context, userID uuid.UUID) error {
	return m.resend(ctx, &UserFilter{IDs: []uuid.UUID{userID}})
}

// ResendTo is like Resend, but looks up the user by email address.
// Unknown addresses are not reported.
func (m *VerificationManager) ResendTo(ctx context.Context, addr email.Address) error {
	err := m.resend(ctx, &UserFilter{Emails: []email.Address{addr}})
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	return err
}

func (m *VerificationManager) resend(ctx context.Context, filter *UserFilter) error {
	now := m.NowFunc()

	var (
		user  User
		token string
	)
	err := inTx(ctx, m.store, func(tx Tx) error {
		var txErr error
		user, txErr = findOne(tx, filter)
		if txErr != nil {
			return txErr
		}

		if user.EmailVerified {
			return ErrAlreadyVerified
		}

		if user.Verification != nil && now.Sub(user.Verification.CreatedAt) < m.cfg.ResendCooldown {
			return ErrTooFrequentResend
		}

		token, txErr = m.start(&user, now)
		if txErr != nil {
			return txErr
		}

		return tx.UpdateUser(&user)
	})
	if err != nil {
		return err
	}

	m.notify(user, token)
	return nil
}

// Verify marks the email address of the user the token was issued to as verified.
//
// A token that fails validation but names a user with a pending verification
// counts as a failed attempt for that verification. Once MaxAttempts is
// reached the verification is blocked with ErrTooManyAttempts, even for the
// correct token.
func (m *VerificationManager) Verify(ctx context.Context, token string) error {
	now := m.NowFunc()

	claims, validErr := m.codec.Validate(token)

	id, ok := tokenUserID(token)
	if !ok {
		return ErrInvalidToken
	}

	failed := false
	err := inTx(ctx, m.store, func(tx Tx) error {
		user, txErr := findOne(tx, &UserFilter{IDs: []uuid.UUID{id}})
		if errors.Is(txErr, ErrUserNotFound) {
			return ErrInvalidToken
		}
		if txErr != nil {
			return txErr
		}

		if user.EmailVerified {
			return ErrAlreadyVerified
		}

		if !user.IsActive || user.Verification == nil {
			return ErrInvalidToken
		}

		meta := user.Verification
		if validErr != nil || !meta.matches(token) || !sameEmail(claims, meta.Email, user.Email) {
			if meta.Attempts >= m.cfg.MaxAttempts {
				return ErrInvalidToken
			}

			meta.Attempts++
			user.UpdatedAt = now
			failed = true
			return tx.UpdateUser(&user)
		}

		if meta.Attempts >= m.cfg.MaxAttempts {
			return ErrTooManyAttempts
		}

		user.markVerified(now)
		return tx.UpdateUser(&user)
	})
	if err != nil {
		return err
	}

	if failed {
		return ErrInvalidToken
	}

	return nil
}

// sameEmail reports whether the email in the claims is both the address
// the verification was started for and the current address of the user.
func sameEmail(c signedtoken.Claims, pending, current email.Address) bool {
	if len(c.Subjects) != 2 {
		return false
	}

	addr := email.Address(c.Subjects[1])
	return addr == pending && addr == current
}

// IsVerified reports whether the email address of the user is verified.
func (m *VerificationManager) IsVerified(ctx context.Context, userID uuid.UUID) (bool, error) {
	var verified bool
	err := inTx(ctx, m.store, func(tx Tx) error {
		user, err := findOne(tx, &UserFilter{IDs: []uuid.UUID{userID}})
		if err != nil {
			return err
		}

		verified = user.EmailVerified
		return nil
	})

	return verified, err
}

// CleanupExpired clears pending verifications older than the token expiry.
// The users stay unverified. It returns the number of cleared verifications.
func (m *VerificationManager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.NowFunc()
	cleared := 0

	err := inTx(ctx, m.store, func(tx Tx) error {
		users, err := tx.FindUsers(&UserFilter{PendingVerification: ptr(true)})
		if err != nil {
			return err
		}

		for _, u := range users {
			if !u.Verification.expired(now, m.cfg.Expiry) {
				continue
			}

			u.clearVerification(now)
			err = tx.UpdateUser(&u)
			if err != nil {
				return err
			}
			cleared++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return cleared, nil
}
