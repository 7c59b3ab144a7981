package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/errorz"
	"github.com/willemschots/dreambig/internal/krypto"
)

const maxNameBytes = 255

// Service is the type that provides the main rules for
// accounts and authentication.
type Service struct {
	store        Store
	notifier     *Notifier
	verification *VerificationManager

	// comparisonHash is used to compare passwords when no user was found.
	comparisonHash krypto.Argon2Hash

	// NowFunc is used to get the current time.
	// Exposed for testing purposes.
	NowFunc func() time.Time
}

func NewService(s Store, notifier *Notifier, verification *VerificationManager) (*Service, error) {
	dummy, err := krypto.RandomString(32)
	if err != nil {
		return nil, err
	}

	hash, err := krypto.HashArgon2([]byte(dummy))
	if err != nil {
		return nil, err
	}

	svc := &Service{
		store:          s,
		notifier:       notifier,
		verification:   verification,
		comparisonHash: hash,
		NowFunc:        time.Now,
	}

	return svc, nil
}

// Wait waits for all open workers to finish.
func (s *Service) Wait() {
	s.notifier.Wait()
}

// Register creates a new active user with an unverified email address.
// A welcome email and a verification email are sent in worker goroutines.
func (s *Service) Register(ctx context.Context, r Registration) (User, error) {
	name, err := parseName(r.Name)
	if err != nil {
		return User{}, err
	}

	pwdHash, err := r.Password.Hash()
	if err != nil {
		return User{}, err
	}

	now := s.NowFunc()
	user := User{
		ID:            uuid.New(),
		Email:         r.Email,
		Name:          name,
		Role:          RoleUser,
		PasswordHash:  pwdHash,
		IsActive:      true,
		EmailVerified: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var token string
	err = inTx(ctx, s.store, func(tx Tx) error {
		users, txErr := tx.FindUsers(&UserFilter{
			Emails: []email.Address{user.Email},
		})
		if txErr != nil {
			return txErr
		}

		if len(users) > 0 {
			return ErrDuplicateUser
		}

		token, txErr = s.verification.start(&user, now)
		if txErr != nil {
			return txErr
		}

		txErr = tx.CreateUser(&user)
		if errors.Is(txErr, errorz.ErrUniqueViolated) {
			// Lost a race with a concurrent registration.
			return ErrDuplicateUser
		}
		return txErr
	})
	if err != nil {
		return User{}, err
	}

	s.notifier.Send(TemplateWelcome, user.Email, WelcomeEmail{Name: user.Name})
	s.verification.notify(user, token)

	return user, nil
}

// Authenticate checks the provided credentials and returns the matching user.
// Only active users with a verified email address can authenticate.
func (s *Service) Authenticate(ctx context.Context, c Credentials) (User, error) {
	var user User
	err := inTx(ctx, s.store, func(tx Tx) error {
		var txErr error
		user, txErr = findOne(tx, &UserFilter{
			Emails: []email.Address{c.Email},
		})
		return txErr
	})

	if errors.Is(err, ErrUserNotFound) {
		// Even if no user is found we compare to a hash to prevent timing differences
		// that could result in user enumeration attacks.
		_ = c.Password.Match(s.comparisonHash)
		return User{}, ErrInvalidCredentials
	}

	if err != nil {
		return User{}, err
	}

	if !c.Password.Match(user.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		return User{}, ErrInactiveUser
	}

	if !user.EmailVerified {
		return User{}, ErrEmailNotVerified
	}

	return user, nil
}

// User returns the active user with the provided id.
func (s *Service) User(ctx context.Context, id uuid.UUID) (User, error) {
	var user User
	err := inTx(ctx, s.store, func(tx Tx) error {
		var txErr error
		user, txErr = findOne(tx, &UserFilter{
			IDs:      []uuid.UUID{id},
			IsActive: ptr(true),
		})
		return txErr
	})

	return user, err
}

// UpdateProfile updates the profile of the user. A new email address has to
// be verified again, a verification email is sent for it.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (User, error) {
	var name string
	if upd.Name != nil {
		var err error
		name, err = parseName(*upd.Name)
		if err != nil {
			return User{}, err
		}
	}

	now := s.NowFunc()

	var (
		user  User
		token string
	)
	err := inTx(ctx, s.store, func(tx Tx) error {
		var txErr error
		user, txErr = findOne(tx, &UserFilter{
			IDs:      []uuid.UUID{id},
			IsActive: ptr(true),
		})
		if txErr != nil {
			return txErr
		}

		if upd.Name != nil {
			user.Name = name
		}

		if upd.Email != nil && *upd.Email != user.Email {
			others, txErr := tx.FindUsers(&UserFilter{
				Emails: []email.Address{*upd.Email},
			})
			if txErr != nil {
				return txErr
			}

			if len(others) > 0 {
				return ErrDuplicateUser
			}

			user.changeEmail(*upd.Email, now)

			token, txErr = s.verification.start(&user, now)
			if txErr != nil {
				return txErr
			}
		}

		user.UpdatedAt = now
		return tx.UpdateUser(&user)
	})
	if err != nil {
		return User{}, err
	}

	if token != "" {
		s.verification.notify(user, token)
	}

	return user, nil
}

func parseName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || len(name) > maxNameBytes {
		return "", errorz.InvalidInput{errorz.Field("name", "must be between 1 and 255 bytes")}
	}
	return name, nil
}
