package db

import (
	"context"
	"database/sql"

	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/db"
	"github.com/willemschots/dreambig/internal/krypto"
)

// Store is responsible for storing users in a SQLite database.
// Emails are stored encrypted, lookups by email use a blind index.
type Store struct {
	db            *sql.DB
	encryptor     *krypto.Encryptor
	blindIndexKey krypto.Key
}

// New creates a new Store.
func New(db *sql.DB, encryptor *krypto.Encryptor, blindIndexKey krypto.Key) *Store {
	return &Store{
		db:            db,
		encryptor:     encryptor,
		blindIndexKey: blindIndexKey,
	}
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (auth.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{
		tx:    tx,
		store: s,
	}, nil
}

func (s *Store) newQuery() db.Query {
	return db.Query{
		Encryptor:     s.encryptor,
		BlindIndexKey: s.blindIndexKey,
	}
}
