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

// ResetConfig is the configuration for the ResetManager.
type ResetConfig struct {
	// Expiry is the duration a reset token is valid.
	Expiry time.Duration
	// MaxAttempts is the number of failed attempts after which a pending
	// reset is blocked, even for the correct token.
	MaxAttempts int
}

// DefaultResetConfig returns the default reset configuration.
func DefaultResetConfig() ResetConfig {
	return ResetConfig{
		Expiry:      24 * time.Hour,
		MaxAttempts: 5,
	}
}

// ResetManager manages the password reset flow:
//
//	no reset -> issued -> consumed | expired | attempts exhausted
type ResetManager struct {
	store    Store
	codec    *signedtoken.Codec
	notifier *Notifier
	cfg      ResetConfig

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

// NewResetManager creates a new ResetManager. Tokens are signed with key.
func NewResetManager(store Store, key krypto.Key, notifier *Notifier, cfg ResetConfig) *ResetManager {
	m := &ResetManager{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		NowFunc:  time.Now,
	}

	m.codec = signedtoken.New(key, signedtoken.ResetFormat, cfg.Expiry)
	m.codec.NowFunc = func() time.Time { return m.NowFunc() }

	return m
}

// Initiate starts a password reset for the user with the provided email address.
// The main work is done in a worker goroutine and nothing is returned to
// indicate whether the address belongs to an (active) account.
func (m *ResetManager) Initiate(_ context.Context, addr email.Address) {
	// The actual work is done in a separate goroutine to prevent:
	// - Waiting for the email to be send might slow down sending a response.
	// - Information leakage. Timing difference between existing/non-existing
	//   user could lead to user enumeration attacks.
	m.notifier.Go(func(ctx context.Context) error {
		return m.initiate(ctx, addr)
	})
}

func (m *ResetManager) initiate(ctx context.Context, addr email.Address) error {
	now := m.NowFunc()

	var (
		user  User
		token string
	)

	err := inTx(ctx, m.store, func(tx Tx) error {
		var txErr error
		user, txErr = findOne(tx, &UserFilter{
			Emails:   []email.Address{addr},
			IsActive: ptr(true),
		})
		if txErr != nil {
			return txErr
		}

		token, txErr = m.codec.Issue(user.ID.String())
		if txErr != nil {
			return txErr
		}

		meta, txErr := newResetMetadata(token, now)
		if txErr != nil {
			return txErr
		}

		user.startReset(meta, now)
		return tx.UpdateUser(&user)
	})

	if errors.Is(err, ErrUserNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	// This could fail independently of the transaction. The user can
	// request another reset if the email never arrives.
	return m.notifier.emailer.Send(ctx, TemplateReset, user.Email, ResetEmail{
		Name:      user.Name,
		Token:     token,
		ExpiresIn: m.cfg.Expiry,
	})
}

// Reset sets a new password for the user the reset token was issued to.
//
// A token that fails validation but names a user with a pending reset counts
// as a failed attempt for that reset. Once MaxAttempts is reached the reset
// is blocked with ErrTooManyAttempts, even for the correct token.
func (m *ResetManager) Reset(ctx context.Context, req NewPassword) error {
	now := m.NowFunc()

	_, validErr := m.codec.Validate(req.Token)

	id, ok := tokenUserID(req.Token)
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

		if !user.IsActive || user.Reset == nil {
			return ErrInvalidToken
		}

		if validErr != nil || !user.Reset.matches(req.Token) {
			if user.Reset.Attempts >= m.cfg.MaxAttempts {
				return ErrInvalidToken
			}

			user.Reset.Attempts++
			user.UpdatedAt = now
			failed = true
			return tx.UpdateUser(&user)
		}

		if user.Reset.Attempts >= m.cfg.MaxAttempts {
			return ErrTooManyAttempts
		}

		hash, txErr := req.Password.Hash()
		if txErr != nil {
			return txErr
		}

		user.PasswordHash = hash
		user.clearReset(now)
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

// Change changes the password of an authenticated user. A pending reset
// is cancelled.
func (m *ResetManager) Change(ctx context.Context, userID uuid.UUID, req PasswordChange) error {
	now := m.NowFunc()

	return inTx(ctx, m.store, func(tx Tx) error {
		user, err := findOne(tx, &UserFilter{
			IDs:      []uuid.UUID{userID},
			IsActive: ptr(true),
		})
		if err != nil {
			return err
		}

		if !req.Current.Match(user.PasswordHash) {
			return ErrInvalidCredentials
		}

		if req.New.Match(user.PasswordHash) {
			return ErrSamePassword
		}

		hash, err := req.New.Hash()
		if err != nil {
			return err
		}

		user.PasswordHash = hash
		user.clearReset(now)
		return tx.UpdateUser(&user)
	})
}

// CleanupExpired clears pending resets older than the token expiry.
// It returns the number of cleared resets.
func (m *ResetManager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.NowFunc()
	cleared := 0

	err := inTx(ctx, m.store, func(tx Tx) error {
		users, err := tx.FindUsers(&UserFilter{PendingReset: ptr(true)})
		if err != nil {
			return err
		}

		for _, u := range users {
			if !u.Reset.expired(now, m.cfg.Expiry) {
				continue
			}

			u.clearReset(now)
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

// tokenUserID reads the user id from the first field of a token
// without validating the token.
func tokenUserID(token string) (uuid.UUID, bool) {
	subject, ok := signedtoken.Subject(token)
	if !ok {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, false
	}

	return id, true
}
