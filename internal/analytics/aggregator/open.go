package aggregator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/foodsearch/foodsearch/pkg/config"
	"github.com/foodsearch/foodsearch/pkg/postgres"
	_ "modernc.org/sqlite"
)

// Open returns the snapshot database: Postgres when enabled, otherwise a
// SQLite file at cfg.Analytics.SQLitePath. The schema is created if missing.
func Open(ctx context.Context, cfg *config.Config) (*Store, func() error, error) {
	var db *sql.DB
	if cfg.Postgres.Enabled {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		db = client.DB
	} else {
		if dir := filepath.Dir(cfg.Analytics.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		var err error
		db, err = sql.Open("sqlite", cfg.Analytics.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Analytics.SQLitePath, err)
		}
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	s := NewStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db.Close, nil
}
