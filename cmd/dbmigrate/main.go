package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/willemschots/dreambig/internal"
	"github.com/willemschots/dreambig/internal/db"
	"github.com/willemschots/dreambig/internal/db/migrate"
	"github.com/willemschots/dreambig/migrations"
)

const helpText = `Usage: dbmigrate [-list] sqlite_file

Applies the DreamBig migrations to the database. With -list, the
migrations that ran before and the pending ones are printed instead.`

func main() {
	list := flag.Bool("list", false, "list applied and pending migrations without running them")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, helpText)
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	sqlDB, err := db.OpenSQLite(flag.Arg(0), !*list)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*60)
	defer cancel()

	if *list {
		err = listMigrations(ctx, sqlDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list migrations: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ran, err := migrate.RunFS(ctx, sqlDB, migrations.FS, migrate.Metadata{
		AppVersion: internal.Version(),
		Timestamp:  time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	for _, m := range ran {
		printMigration(m)
	}
}

func listMigrations(ctx context.Context, sqlDB *sql.DB) error {
	ran, err := migrate.QueryMigrations(ctx, sqlDB)
	if err != nil && !errors.Is(err, migrate.ErrNoTable) {
		return err
	}

	for _, m := range ran {
		printMigration(m)
	}

	pending, err := migrate.Pending(ctx, sqlDB, migrations.FS)
	if err != nil {
		return err
	}

	for _, name := range pending {
		fmt.Printf("pending: %s\n", name)
	}

	return nil
}

func printMigration(m migrate.Migration) {
	fmt.Printf("%d: %s (%s, %s)\n", m.Sequence, m.Filename, m.Metadata.AppVersion, m.Metadata.Timestamp.Format(time.RFC3339))
}
