// Package db opens the SQLite database and builds queries that encrypt
// and blind index sensitive columns.
package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Both option sets enable WAL mode so reads and writes don't block each
// other, enforce foreign keys and wait up to 5 seconds for a lock.
// Writers also take the lock at the start of a transaction, upgrading a
// read lock halfway a transaction would fail with SQLITE_BUSY.
const (
	writeOptions = "?mode=rwc&_foreign_keys=on&_journal_mode=wal&_busy_timeout=5000&_txlock=immediate"
	readOptions  = "?mode=ro&_foreign_keys=on&_journal_mode=wal&_busy_timeout=5000"
)

// OpenSQLite opens a pool of SQLite connections. Different settings
// are appropriate for reading and writing, so this function needs to know
// what the sql.DB will be used for. The database is pinged before it's
// returned, so a missing read only database is reported here.
//
// See this comment for more information:
// https://github.com/mattn/go-sqlite3/issues/1179#issuecomment-1638083995
func OpenSQLite(dbFile string, write bool) (*sql.DB, error) {
	if dbFile == "" {
		return nil, errors.New("no database file provided")
	}

	optsPostfix := readOptions
	if write {
		optsPostfix = writeOptions
	}

	db, err := sql.Open("sqlite3", dbFile+optsPostfix)
	if err != nil {
		return nil, err
	}

	if write {
		// SQLite allows a single writer, more connections would only wait for the lock.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		// keep the connection open, an in memory database lives as long as it does.
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	err = db.Ping()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to %s: %w", dbFile, err), db.Close())
	}

	return db, nil
}
