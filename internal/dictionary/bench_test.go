package dictionary

import (
	"fmt"
	"strings"
	"testing"

	"github.com/foodsearch/foodsearch/internal/locale"
	"github.com/foodsearch/foodsearch/internal/phonetic"
)

var benchLocales = []struct {
	cfg  locale.Config
	text string
}{
	{locale.Config{ID: "en", Encoder: phonetic.DoubleMetaphoneName, StopWords: []string{"with", "and"}}, "Grilled chicken breast with roasted potatoes and gravy"},
	{locale.Config{ID: "de", Encoder: phonetic.NYSIISName, Transliterate: map[string]string{"ß": "ss", "ä": "ae"}}, "Käsespätzle mit Röstzwiebeln und Straßenbrot"},
	{locale.Config{ID: "fr", Encoder: "snowball-french"}, "Crêpes au sucre et à la crème fraîche"},
	{locale.Config{ID: "zh", Encoder: phonetic.PinyinName, Segmentation: locale.SegmentHan}, "宫保鸡丁配米饭"},
}

func benchDictionary(b *testing.B, cfg locale.Config) *Dictionary {
	b.Helper()
	enc, err := phonetic.DefaultRegistry().Lookup(cfg.Encoder)
	if err != nil {
		b.Fatal(err)
	}
	d, err := New(cfg, enc)
	if err != nil {
		b.Fatal(err)
	}
	return d
}

func BenchmarkAnalyze(b *testing.B) {
	for _, l := range benchLocales {
		d := benchDictionary(b, l.cfg)
		b.Run(l.cfg.ID, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(l.text)))
			for i := 0; i < b.N; i++ {
				_ = d.Analyze(l.text)
			}
		})
	}
}

func BenchmarkAnalyzeParallel(b *testing.B) {
	l := benchLocales[0]
	d := benchDictionary(b, l.cfg)
	b.ReportAllocs()
	b.SetBytes(int64(len(l.text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = d.Analyze(l.text)
		}
	})
}

func BenchmarkNormalizeVaryingSize(b *testing.B) {
	d := benchDictionary(b, benchLocales[0].cfg)
	base := "roasted chicken potatoes gravy "
	for _, size := range []int{16, 128, 1024} {
		text := strings.Repeat(base, size/len(base)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = d.Normalize(text)
			}
		})
	}
}
