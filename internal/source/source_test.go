package source

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foodsearch/foodsearch/internal/index"
	apperrors "github.com/foodsearch/foodsearch/pkg/errors"
	"github.com/foodsearch/foodsearch/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foods.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`
CREATE TABLE food_records (
	food_id TEXT PRIMARY KEY,
	locale TEXT NOT NULL,
	description TEXT,
	popularity_rank INTEGER
);
INSERT INTO food_records VALUES
	('f2', 'en', 'apple juice', 4),
	('f1', 'en', 'apple pie', 5),
	('f3', 'en', NULL, NULL),
	('d1', 'de', 'Apfelkuchen', 9);`)
	require.NoError(t, err)
	return path
}

func TestSQLiteSource(t *testing.T) {
	src, err := OpenSQLite(seedSQLite(t), "")
	require.NoError(t, err)
	defer src.Close()

	records, err := src.FetchFoodRecords(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, []index.FoodRecord{
		{FoodID: "f1", Locale: "en", Description: "apple pie", PopularityRank: 5},
		{FoodID: "f2", Locale: "en", Description: "apple juice", PopularityRank: 4},
		{FoodID: "f3", Locale: "en"},
	}, records)
	assert.Equal(t, "sqlite", src.Name())
}

func TestSQLSourceBadQueryIsUnavailable(t *testing.T) {
	src, err := OpenSQLite(seedSQLite(t), "SELECT nope FROM missing WHERE x = $1")
	require.NoError(t, err)
	defer src.Close()

	_, err = src.FetchFoodRecords(context.Background(), "en")
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestFileSourceFormats(t *testing.T) {
	dir := t.TempDir()
	array := `[{"foodId":"f1","locale":"en","description":"apple pie","popularityRank":3},
	           {"foodId":"d1","locale":"de","description":"Apfelkuchen"},
	           {"foodId":"f2","description":"apple juice"}]`
	lines := "{\"foodId\":\"f1\",\"locale\":\"en\",\"description\":\"apple pie\",\"popularityRank\":3}\n\n" +
		"{\"foodId\":\"d1\",\"locale\":\"de\",\"description\":\"Apfelkuchen\"}\n" +
		"{\"foodId\":\"f2\",\"description\":\"apple juice\"}"
	want := []index.FoodRecord{
		{FoodID: "f1", Locale: "en", Description: "apple pie", PopularityRank: 3},
		{FoodID: "f2", Locale: "en", Description: "apple juice"},
	}
	for name, content := range map[string]string{"foods.json": array, "foods.jsonl": lines} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			records, err := NewFile(path).FetchFoodRecords(context.Background(), "en")
			require.NoError(t, err)
			assert.Equal(t, want, records)
		})
	}
}

func TestFileSourceLocalePlaceholder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foods-de.jsonl"), []byte(`{"foodId":"d1","description":"Brot"}`), 0o644))
	src := NewFile(filepath.Join(dir, "foods-{locale}.jsonl"))

	records, err := src.FetchFoodRecords(context.Background(), "de")
	require.NoError(t, err)
	assert.Equal(t, []index.FoodRecord{{FoodID: "d1", Locale: "de", Description: "Brot"}}, records)

	_, err = src.FetchFoodRecords(context.Background(), "fr")
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
}

func TestParseRecordsRejectsBadLine(t *testing.T) {
	_, err := ParseRecords([]byte("{\"foodId\":\"a\"}\n{oops}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

type failingSource struct{ calls int }

func (f *failingSource) FetchFoodRecords(context.Context, string) ([]index.FoodRecord, error) {
	f.calls++
	return nil, errors.New("connection reset")
}

func TestBreakerFailsFast(t *testing.T) {
	inner := &failingSource{}
	cb := resilience.NewCircuitBreaker("food-source", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})
	src := WithBreaker(inner, cb)

	for i := 0; i < 2; i++ {
		_, err := src.FetchFoodRecords(context.Background(), "en")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, src.State())

	_, err := src.FetchFoodRecords(context.Background(), "en")
	assert.ErrorIs(t, err, apperrors.ErrSourceUnavailable)
	assert.Equal(t, 2, inner.calls)
}
