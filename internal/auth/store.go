package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/email"
)

// UserFilter is used filter users.
// Returned users must match all the provided fields.
// If a field is empty or nil, it's ignored.
type UserFilter struct {
	IDs                 []uuid.UUID
	Emails              []email.Address
	IsActive            *bool
	PendingReset        *bool
	PendingVerification *bool
}

// Store provides access to the user store.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a transaction. If an error occurs on any of the Create/Update/Find methods,
// the transaction is considered to have failed and should be rolled back.
// Tx is not safe for concurrent use.
type Tx interface {
	Commit() error
	Rollback() error

	CreateUser(u *User) error
	UpdateUser(u *User) error
	FindUsers(filter *UserFilter) ([]User, error)
}

func inTx(ctx context.Context, store Store, f func(tx Tx) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}

	err = f(tx)
	if err != nil {
		rBackErr := tx.Rollback()
		if rBackErr != nil {
			err = errors.Join(err, rBackErr)
		}
		return err
	}

	return tx.Commit()
}

// findOne returns the single user matching filter, or ErrUserNotFound.
func findOne(tx Tx, filter *UserFilter) (User, error) {
	users, err := tx.FindUsers(filter)
	if err != nil {
		return User{}, err
	}

	if len(users) != 1 {
		return User{}, ErrUserNotFound
	}

	return users[0], nil
}

func ptr[T any](v T) *T {
	return &v
}
