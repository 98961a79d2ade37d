package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteDB runs snapshot reads against a SQLite database. SQLite
// transactions are serializable, so a plain transaction is a snapshot.
type sqliteDB struct {
	db *sql.DB
}

func (s *sqliteDB) InSnapshotTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// OpenSQLite returns a source over the SQLite database file at path, used
// for local development and offline index builds.
func OpenSQLite(path, query string) (*SQL, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	s := NewSQL("sqlite", &sqliteDB{db: db}, query)
	s.closer = db.Close
	return s, nil
}
