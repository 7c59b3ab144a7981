package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/db"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/errorz"
	"github.com/willemschots/dreambig/internal/krypto"
)

type execFunc func(query string, params ...any) (sql.Result, error)
type queryFunc func(query string, params ...any) (*sql.Rows, error)

func insertUser(q *db.Query, ef execFunc, u *auth.User) error {
	if u.ID == uuid.Nil {
		return fmt.Errorf("zero uuid provided: %w", errorz.ErrConstraintViolated)
	}

	q.Unsafe(`INSERT INTO users (id, email_encrypted, email_blind_index, name, role, password_hash, is_active, email_verified, email_verified_at, `)
	q.Unsafe(`reset_token_hash, reset_created_at, reset_attempts, `)
	q.Unsafe(`verification_token_hash, verification_email_encrypted, verification_created_at, verification_attempts, `)
	q.Unsafe(`created_at, updated_at) VALUES (`)
	q.Param(u.ID)
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(u.Email))
	q.Unsafe(`, `)
	q.ParamBlindIndex([]byte(u.Email))
	q.Unsafe(`, `)
	q.Params(u.Name, string(u.Role), u.PasswordHash.String(), u.IsActive, u.EmailVerified, utcPtr(u.EmailVerifiedAt))
	q.Unsafe(`, `)
	resetParams(q, u.Reset)
	q.Unsafe(`, `)
	verificationParams(q, u.Verification)
	q.Unsafe(`, `)
	q.Params(u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	q.Unsafe(`)`)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	_, err = ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	return nil
}

func updateUser(q *db.Query, ef execFunc, u *auth.User) error {
	q.Unsafe(`UPDATE users SET `)

	q.Unsafe(`email_encrypted = `)
	q.ParamEncrypted([]byte(u.Email))

	q.Unsafe(`, email_blind_index = `)
	q.ParamBlindIndex([]byte(u.Email))

	q.Unsafe(`, name = `)
	q.Param(u.Name)

	q.Unsafe(`, role = `)
	q.Param(string(u.Role))

	q.Unsafe(`, password_hash = `)
	q.Param(u.PasswordHash.String())

	q.Unsafe(`, is_active = `)
	q.Param(u.IsActive)

	q.Unsafe(`, email_verified = `)
	q.Param(u.EmailVerified)

	q.Unsafe(`, email_verified_at = `)
	q.Param(utcPtr(u.EmailVerifiedAt))

	q.Unsafe(`, (reset_token_hash, reset_created_at, reset_attempts) = (`)
	resetParams(q, u.Reset)
	q.Unsafe(`)`)

	q.Unsafe(`, (verification_token_hash, verification_email_encrypted, verification_created_at, verification_attempts) = (`)
	verificationParams(q, u.Verification)
	q.Unsafe(`)`)

	q.Unsafe(`, created_at = `)
	q.Param(u.CreatedAt.UTC())

	q.Unsafe(`, updated_at = `)
	q.Param(u.UpdatedAt.UTC())

	q.Unsafe(` WHERE id = `)
	q.Param(u.ID)

	s, params, err := q.Get()
	if err != nil {
		return err
	}

	result, err := ef(s, params...)
	if err != nil {
		return errorz.MapDBErr(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errorz.MapDBErr(err)
	}

	if rows == 0 {
		return fmt.Errorf("user not found: %w", errorz.ErrNotFound)
	}

	return nil
}

// resetParams writes the three reset columns.
func resetParams(q *db.Query, m *auth.ResetMetadata) {
	if m == nil {
		q.Params(nil, nil, 0)
		return
	}

	q.Params(m.TokenHash.String(), m.CreatedAt.UTC(), m.Attempts)
}

// verificationParams writes the four verification columns.
func verificationParams(q *db.Query, m *auth.VerificationMetadata) {
	if m == nil {
		q.Params(nil, nil, nil, 0)
		return
	}

	q.Param(m.TokenHash.String())
	q.Unsafe(`, `)
	q.ParamEncrypted([]byte(m.Email))
	q.Unsafe(`, `)
	q.Params(m.CreatedAt.UTC(), m.Attempts)
}

func selectUsers(q *db.Query, qf queryFunc, f *auth.UserFilter) ([]auth.User, error) {
	q.Unsafe(`SELECT id, email_encrypted, name, role, password_hash, is_active, email_verified, email_verified_at, `)
	q.Unsafe(`reset_token_hash, reset_created_at, reset_attempts, `)
	q.Unsafe(`verification_token_hash, verification_email_encrypted, verification_created_at, verification_attempts, `)
	q.Unsafe(`created_at, updated_at FROM users WHERE 1=1 `)

	if len(f.IDs) > 0 {
		q.Unsafe(`AND id IN (`)
		q.Params(anySlice(f.IDs)...)
		q.Unsafe(`) `)
	}

	if len(f.Emails) > 0 {
		q.Unsafe(`AND email_blind_index IN (`)
		for i, email := range f.Emails {
			if i > 0 {
				q.Unsafe(`, `)
			}
			q.ParamBlindIndex([]byte(email))
		}
		q.Unsafe(`) `)
	}

	if f.IsActive != nil {
		q.Unsafe(`AND is_active = `)
		q.Param(*f.IsActive)
		q.Unsafe(` `)
	}

	if f.PendingReset != nil {
		q.Unsafe(`AND reset_token_hash IS `)
		if *f.PendingReset {
			q.Unsafe(`NOT `)
		}
		q.Unsafe(`NULL `)
	}

	if f.PendingVerification != nil {
		q.Unsafe(`AND verification_token_hash IS `)
		if *f.PendingVerification {
			q.Unsafe(`NOT `)
		}
		q.Unsafe(`NULL `)
	}

	q.Unsafe(`ORDER BY created_at ASC, id ASC`)

	s, params, err := q.Get()
	if err != nil {
		return nil, err
	}

	rows, err := qf(s, params...)
	if err != nil {
		return nil, errorz.MapDBErr(err)
	}

	defer rows.Close()

	out := make([]auth.User, 0)
	for rows.Next() {
		var (
			u                 auth.User
			role              string
			verifiedAt        sql.NullTime
			resetHash         sql.NullString
			resetCreatedAt    sql.NullTime
			resetAttempts     int
			verifyHash        sql.NullString
			verifyCreatedAt   sql.NullTime
			verifyAttempts    int
			emailBytes        = q.DecryptionTarget()
			pendingEmailBytes = q.DecryptionTarget()
		)

		err := rows.Scan(
			&u.ID, emailBytes, &u.Name, &role, &u.PasswordHash, &u.IsActive, &u.EmailVerified, &verifiedAt,
			&resetHash, &resetCreatedAt, &resetAttempts,
			&verifyHash, pendingEmailBytes, &verifyCreatedAt, &verifyAttempts,
			&u.CreatedAt, &u.UpdatedAt,
		)
		if err != nil {
			return nil, errorz.MapDBErr(err)
		}

		u.Role = auth.Role(role)

		u.Email, err = email.ParseAddress(string(emailBytes.Data))
		if err != nil {
			return nil, err
		}

		if verifiedAt.Valid {
			u.EmailVerifiedAt = &verifiedAt.Time
		}

		if resetHash.Valid {
			hash, err := krypto.ParseArgon2Hash(resetHash.String)
			if err != nil {
				return nil, err
			}

			u.Reset = &auth.ResetMetadata{
				TokenHash: hash,
				CreatedAt: resetCreatedAt.Time,
				Attempts:  resetAttempts,
			}
		}

		if verifyHash.Valid {
			hash, err := krypto.ParseArgon2Hash(verifyHash.String)
			if err != nil {
				return nil, err
			}

			addr, err := email.ParseAddress(string(pendingEmailBytes.Data))
			if err != nil {
				return nil, err
			}

			u.Verification = &auth.VerificationMetadata{
				TokenHash: hash,
				Email:     addr,
				CreatedAt: verifyCreatedAt.Time,
				Attempts:  verifyAttempts,
			}
		}

		out = append(out, u)
	}

	if err := rows.Err(); err != nil {
		return nil, errorz.MapDBErr(err)
	}

	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	utc := t.UTC()
	return &utc
}

func anySlice[T any](s []T) []any {
	out := make([]any, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	return out
}
