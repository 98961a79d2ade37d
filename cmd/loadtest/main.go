// Command loadtest drives GET /api/v1/search with a fixed set of
// misspelled and exact food queries per locale and reports latency,
// zero-hit rate and status codes per locale.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultQueries = map[string][]string{
	"en": {"chiken curry", "chicken curry", "aple pie", "spagetti", "brocoli soup", "sandwitch", "soda", "pop"},
	"de": {"strasse brot", "käsekuchen", "kaesekuchen", "apfelstrudel", "schnitzl", "bretzel"},
	"fr": {"croissants", "tarte tatin", "ratatouile", "crêpe", "crepe", "fromages"},
	"es": {"paella", "tortilla española", "gaspacho", "churros", "empanadas"},
	"zh": {"饺子", "jiaozi", "mapo doufu", "宫保鸡丁"},
	"ja": {"すし", "寿司", "らーめん", "てんぷら"},
}

type sample struct {
	latency time.Duration
	status  int
	hits    int
	err     bool
}

type localeStats struct {
	mu      sync.Mutex
	samples []sample
}

func (s *localeStats) add(x sample) {
	s.mu.Lock()
	s.samples = append(s.samples, x)
	s.mu.Unlock()
}

type searchResponse struct {
	TotalHits int `json:"totalHits"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	localeList := flag.String("locales", "en,de,fr,es,zh,ja", "comma-separated locales to query")
	queriesFile := flag.String("queries", "", "JSON file mapping locale to query list (overrides the built-in set)")
	limit := flag.Int("limit", 10, "result limit per query")
	flag.Parse()

	queries := defaultQueries
	if *queriesFile != "" {
		data, err := os.ReadFile(*queriesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading queries: %v\n", err)
			os.Exit(1)
		}
		queries = nil
		if err := json.Unmarshal(data, &queries); err != nil {
			fmt.Fprintf(os.Stderr, "parsing queries: %v\n", err)
			os.Exit(1)
		}
	}

	type target struct{ locale, query string }
	var targets []target
	for _, l := range strings.Split(*localeList, ",") {
		l = strings.TrimSpace(l)
		for _, q := range queries[l] {
			targets = append(targets, target{l, q})
		}
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "no queries for the selected locales")
		os.Exit(1)
	}

	fmt.Println("=== Food Search Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Queries:     %d across %s\n\n", len(targets), *localeList)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        *concurrency * 2,
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	stats := make(map[string]*localeStats)
	for _, t := range targets {
		if stats[t.locale] == nil {
			stats[t.locale] = &localeStats{}
		}
	}

	var g errgroup.Group
	for w := range *concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				t := targets[i%len(targets)]
				s, ok := do(ctx, client, *baseURL, t.locale, t.query, *limit)
				if ok {
					stats[t.locale].add(s)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if !report(stats, *duration) {
		fmt.Println("\nWARNING: no requests completed. Is the service running?")
		os.Exit(1)
	}
}

// do issues one search. ok is false when the run deadline cut the request.
func do(ctx context.Context, client *http.Client, baseURL, locale, query string, limit int) (sample, bool) {
	u := fmt.Sprintf("%s/api/v1/search?locale=%s&q=%s&limit=%d",
		baseURL, url.QueryEscape(locale), url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return sample{err: true}, true
	}
	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return sample{}, false
		}
		return sample{latency: latency, err: true}, true
	}
	defer resp.Body.Close()

	s := sample{latency: latency, status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body searchResponse
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			s.hits = body.TotalHits
		}
	}
	return s, true
}

func report(stats map[string]*localeStats, duration time.Duration) bool {
	locales := make([]string, 0, len(stats))
	for l := range stats {
		locales = append(locales, l)
	}
	slices.Sort(locales)

	var total int
	codes := make(map[int]int)
	fmt.Printf("%-6s %8s %8s %8s %10s %10s %10s %10s\n", "LOCALE", "REQS", "ERRORS", "ZERO%", "P50", "P95", "P99", "MAX")
	for _, l := range locales {
		samples := stats[l].samples
		var errs, zero int
		latencies := make([]time.Duration, 0, len(samples))
		for _, s := range samples {
			codes[s.status]++
			if s.err || s.status >= 400 {
				errs++
				continue
			}
			if s.hits == 0 {
				zero++
			}
			latencies = append(latencies, s.latency)
		}
		total += len(samples)
		slices.Sort(latencies)
		zeroPct := 0.0
		if ok := len(samples) - errs; ok > 0 {
			zeroPct = float64(zero) / float64(ok) * 100
		}
		var maxLatency time.Duration
		if len(latencies) > 0 {
			maxLatency = latencies[len(latencies)-1]
		}
		fmt.Printf("%-6s %8d %8d %7.1f%% %10s %10s %10s %10s\n", l, len(samples), errs, zeroPct,
			percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99), maxLatency)
	}

	if total > 0 {
		fmt.Printf("\nRequests/sec: %.2f\n", float64(total)/duration.Seconds())
	}
	fmt.Println("\n=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for c := range codes {
		keys = append(keys, c)
	}
	slices.Sort(keys)
	for _, c := range keys {
		label := fmt.Sprint(c)
		if c == 0 {
			label = "transport error"
		}
		fmt.Printf("  %s: %d\n", label, codes[c])
	}
	return total > 0
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
