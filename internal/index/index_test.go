package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foodsearch/foodsearch/internal/dictionary"
	"github.com/foodsearch/foodsearch/internal/locale"
	"github.com/foodsearch/foodsearch/internal/phonetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDictionary(t testing.TB) *dictionary.Dictionary {
	t.Helper()
	d, err := dictionary.New(locale.Config{
		ID:        "en",
		Encoder:   phonetic.DoubleMetaphoneName,
		StopWords: []string{"with"},
		Synonyms:  [][]string{{"soda", "pop"}},
	}, phonetic.DoubleMetaphone{})
	require.NoError(t, err)
	return d
}

func sampleRecords() []FoodRecord {
	return []FoodRecord{
		{FoodID: "f1", Locale: "en", Description: "Apple pie", PopularityRank: 10},
		{FoodID: "f2", Locale: "en", Description: "Apple juice", PopularityRank: 8},
		{FoodID: "f3", Locale: "en", Description: "Cherry pie", PopularityRank: 3},
		{FoodID: "f4", Locale: "en", Description: "Soda", PopularityRank: 5},
		{FoodID: "f5", Locale: "en", Description: "Chicken with rice", PopularityRank: 7},
		{FoodID: "f6", Locale: "en", Description: "Pumpkin soup", PopularityRank: 1},
		{FoodID: "f7", Locale: "en", Description: "Beef stew", PopularityRank: 2},
		{FoodID: "f8", Locale: "en", Description: "Banana bread", PopularityRank: 4},
		{FoodID: "f9", Locale: "en", Description: "   ", PopularityRank: 6},
		{FoodID: "f10", Locale: "xx", Description: "Mystery meat", PopularityRank: 9},
	}
}

func TestBuildSkipsMalformedRecords(t *testing.T) {
	b := NewBuilder(testDictionary(t), 0)
	idx, stats, err := b.Build(context.Background(), "en", 1, sampleRecords())
	require.NoError(t, err)

	assert.Equal(t, 8, idx.Len())
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 8, stats.Indexed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, map[string]int{SkipEmptyDescription: 1, SkipUnknownLocale: 1}, stats.SkippedByReason)
	// 20% skipped is above the default 10% threshold
	assert.True(t, stats.Degraded)
	assert.Equal(t, stats, idx.Stats())
}

func TestBuildSkipReasons(t *testing.T) {
	b := NewBuilder(testDictionary(t), 0.5)
	_, stats, err := b.Build(context.Background(), "en", 1, []FoodRecord{
		{FoodID: "a", Locale: "en", Description: "pie"},
		{FoodID: "a", Locale: "en", Description: "tart"},
		{FoodID: " ", Locale: "en", Description: "cake"},
		{FoodID: "b", Locale: "en", Description: "with"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{SkipDuplicateID: 1, SkipEmptyID: 1, SkipEmptyDescription: 1}, stats.SkippedByReason)
	assert.True(t, stats.Degraded)
}

func TestBuildPostings(t *testing.T) {
	idx, _, err := NewBuilder(testDictionary(t), 0).Build(context.Background(), "en", 3, sampleRecords())
	require.NoError(t, err)

	assert.Equal(t, uint64(3), idx.Version())
	assert.Equal(t, "en", idx.LocaleID())
	assert.Equal(t, []string{"f1", "f3"}, idx.TokenPostings("pie"))
	assert.Equal(t, []string{"f1", "f2"}, idx.TokenPostings("apple"))
	// synonyms are indexed under every member
	assert.Equal(t, []string{"f4"}, idx.TokenPostings("pop"))
	assert.Nil(t, idx.TokenPostings("with"))

	e, ok := idx.Entry("f4")
	require.True(t, ok)
	assert.Equal(t, []string{"soda"}, e.BaseTokens)
	assert.Equal(t, []string{"pop", "soda"}, e.Tokens)

	// every posting points at an entry
	for _, entry := range idx.Entries() {
		for _, tok := range entry.Tokens {
			assert.Contains(t, idx.TokenPostings(tok), entry.FoodID)
		}
		for _, code := range entry.PhoneticCodes {
			assert.Contains(t, idx.PhoneticPostings(code), entry.FoodID)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder(testDictionary(t), 0)
	first, _, err := b.Build(context.Background(), "en", 1, sampleRecords())
	require.NoError(t, err)
	second, _, err := b.Build(context.Background(), "en", 2, sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, first.Entries(), second.Entries())
}

func TestBuildHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idx, _, err := NewBuilder(testDictionary(t), 0).Build(ctx, "en", 1, sampleRecords())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, idx)
}

func TestFromEntriesRoundTrip(t *testing.T) {
	built, _, err := NewBuilder(testDictionary(t), 0).Build(context.Background(), "en", 4, sampleRecords())
	require.NoError(t, err)

	restored, err := FromEntries("en", 4, built.BuiltAt(), built.Entries())
	require.NoError(t, err)
	assert.Equal(t, built.Entries(), restored.Entries())
	assert.Equal(t, built.TokenPostings("pie"), restored.TokenPostings("pie"))
	assert.Equal(t, built.TokenCount(), restored.TokenCount())
	assert.Equal(t, built.PhoneticCount(), restored.PhoneticCount())
}

func TestFromEntriesRejectsDuplicates(t *testing.T) {
	_, err := FromEntries("en", 1, time.Now(), []IndexEntry{{FoodID: "a"}, {FoodID: "a"}})
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}

func TestRegistryPublish(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Current("en"))

	v1, err := FromEntries("en", 1, time.Now(), nil)
	require.NoError(t, err)
	v2, err := FromEntries("en", 2, time.Now(), nil)
	require.NoError(t, err)

	require.NoError(t, r.Publish(v1))
	require.NoError(t, r.Publish(v2))
	assert.Same(t, v2, r.Current("en"))

	assert.ErrorIs(t, r.Publish(v1), ErrStaleVersion)
	assert.ErrorIs(t, r.Publish(v2), ErrStaleVersion)
	assert.Same(t, v2, r.Current("en"))

	de, err := FromEntries("de", 1, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, r.Publish(de))
	assert.Equal(t, []string{"de", "en"}, r.Locales())
}

func TestRegistryConcurrentReadersSeeIncreasingVersions(t *testing.T) {
	r := NewRegistry()
	first, err := FromEntries("en", 1, time.Now(), nil)
	require.NoError(t, err)
	require.NoError(t, r.Publish(first))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for j := 0; j < 1000; j++ {
				v := r.Current("en").Version()
				if v < last {
					t.Errorf("version went backwards: %d after %d", v, last)
					return
				}
				last = v
			}
		}()
	}
	for v := uint64(2); v <= 100; v++ {
		idx, err := FromEntries("en", v, time.Now(), nil)
		require.NoError(t, err)
		require.NoError(t, r.Publish(idx))
	}
	wg.Wait()
	assert.Equal(t, uint64(100), r.Current("en").Version())
}

func BenchmarkBuild(b *testing.B) {
	d := testDictionary(b)
	records := make([]FoodRecord, 5000)
	for i := range records {
		records[i] = FoodRecord{
			FoodID:      fmt.Sprintf("f%d", i),
			Locale:      "en",
			Description: fmt.Sprintf("apple pie %d with cherry soda", i%97),
		}
	}
	builder := NewBuilder(d, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := builder.Build(context.Background(), "en", uint64(i+1), records); err != nil {
			b.Fatal(err)
		}
	}
}
