// Package source provides the food record sources an index is built from:
// SQL databases (PostgreSQL in production, SQLite for local work), record
// files, and a circuit-breaking wrapper around any of them.
package source

import (
	"context"

	"github.com/foodsearch/foodsearch/internal/index"
)

// Source supplies the food records of one locale. Implementations return
// one consistent snapshot per call.
type Source interface {
	FetchFoodRecords(ctx context.Context, locale string) ([]index.FoodRecord, error)
}
