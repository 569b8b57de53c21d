package db

import (
	"embed"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

func ApplyMigrations(db *sqlx.DB, migrations embed.FS) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return err
	}

	if err := goose.Up(db.DB, "."); err != nil {
		return err
	}

	return nil
}

// OpenAndMigrate opens path and brings its schema up to date.
func OpenAndMigrate(path string, migrations embed.FS) (*sqlx.DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(db, migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
