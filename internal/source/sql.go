package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/foodsearch/foodsearch/internal/index"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/postgres"
)

// DefaultQuery selects the records of the locale bound to $1.
const DefaultQuery = `
SELECT food_id, locale, COALESCE(description, ''), COALESCE(popularity_rank, 0)
FROM food_records
WHERE locale = $1
ORDER BY food_id`

// SnapshotRunner runs fn inside a transaction that sees a single
// consistent snapshot of the database.
type SnapshotRunner interface {
	InSnapshotTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// SQL reads food records with one query inside a snapshot transaction.
type SQL struct {
	name   string
	db     SnapshotRunner
	query  string
	closer func() error
	logger *slog.Logger
}

// NewSQL returns a source running query through db. query must accept the
// locale as its only parameter and return food_id, locale, description and
// popularity_rank.
func NewSQL(name string, db SnapshotRunner, query string) *SQL {
	if query == "" {
		query = DefaultQuery
	}
	return &SQL{
		name:   name,
		db:     db,
		query:  query,
		logger: slog.Default().With("component", "source", "source", name),
	}
}

// NewPostgres reads from PostgreSQL in a read-only repeatable-read
// transaction.
func NewPostgres(client *postgres.Client, query string) *SQL {
	s := NewSQL("postgres", client, query)
	s.closer = client.Close
	return s
}

// Name identifies the source in logs and metrics.
func (s *SQL) Name() string {
	return s.name
}

// Close releases the underlying connection pool, if the source owns one.
func (s *SQL) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *SQL) FetchFoodRecords(ctx context.Context, locale string) ([]index.FoodRecord, error) {
	var records []index.FoodRecord
	err := s.db.InSnapshotTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.query, locale)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r index.FoodRecord
			if err := rows.Scan(&r.FoodID, &r.Locale, &r.Description, &r.PopularityRank); err != nil {
				return fmt.Errorf("scanning food record: %w", err)
			}
			records = append(records, r)
		}
		return rows.Err()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnavailable, s.name, err)
	}
	s.logger.Debug("fetched food records", "locale", locale, "count", len(records))
	return records, nil
}
