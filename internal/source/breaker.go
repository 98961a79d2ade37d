package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/foodsearch/foodsearch/internal/index"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/resilience"
)

// Breaker fails fast while its source keeps failing, so retries during an
// outage do not pile onto the database.
type Breaker struct {
	inner Source
	cb    *resilience.CircuitBreaker
}

// WithBreaker wraps src in cb.
func WithBreaker(src Source, cb *resilience.CircuitBreaker) *Breaker {
	return &Breaker{inner: src, cb: cb}
}

func (b *Breaker) FetchFoodRecords(ctx context.Context, locale string) ([]index.FoodRecord, error) {
	var records []index.FoodRecord
	err := b.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		records, err = b.inner.FetchFoodRecords(ctx, locale)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnavailable, b.cb.Name(), err)
	}
	return records, err
}

// State exposes the breaker state for health reporting.
func (b *Breaker) State() resilience.State {
	return b.cb.GetState()
}
