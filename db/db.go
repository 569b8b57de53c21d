package db

import (
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Open connects to the play history database at path. sqlite only allows
// one writer so the pool is capped at a single connection, which also keeps
// ":memory:" databases from splitting across connections.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	slog.Debug("Initialised DB connection", slog.String("path", path))
	return db, nil
}
