package errorz

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConstraintViolated = errors.New("constraint violated")
	// ErrUniqueViolated is a constraint violation on a unique column.
	// It also matches ErrConstraintViolated.
	ErrUniqueViolated = fmt.Errorf("%w: unique", ErrConstraintViolated)
	// ErrBusy indicates the database could not acquire a lock in time.
	ErrBusy = errors.New("database busy")
)

// MapDBErr maps database errors to appropriate errorz errors, the driver
// error stays available through errors.As.
// If err is nil, MapDBErr returns nil.
func MapDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var sErr sqlite3.Error
	if !errors.As(err, &sErr) {
		return err
	}

	switch {
	case sErr.ExtendedCode == sqlite3.ErrConstraintUnique, sErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %w", ErrUniqueViolated, err)
	case sErr.Code == sqlite3.ErrConstraint:
		return fmt.Errorf("%w: %w", ErrConstraintViolated, err)
	case sErr.Code == sqlite3.ErrBusy, sErr.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	return err
}
