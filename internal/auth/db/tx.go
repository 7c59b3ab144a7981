package db

import (
	"database/sql"

	"github.com/willemschots/dreambig/internal/auth"
)

type Tx struct {
	tx    *sql.Tx
	store *Store
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// CreateUser creates a user in the database.
// It returns errorz.ErrConstraintViolated if the ID is zero or the email is taken.
func (t *Tx) CreateUser(u *auth.User) error {
	q := t.store.newQuery()
	return insertUser(&q, t.tx.Exec, u)
}

// UpdateUser updates all fields of a user in the database.
// It returns errorz.ErrNotFound if no user is found.
func (t *Tx) UpdateUser(u *auth.User) error {
	q := t.store.newQuery()
	return updateUser(&q, t.tx.Exec, u)
}

// FindUsers queries for users based on the provided filter.
// It returns an empty slice if no users are found.
func (t *Tx) FindUsers(filter *auth.UserFilter) ([]auth.User, error) {
	q := t.store.newQuery()
	return selectUsers(&q, t.tx.Query, filter)
}
