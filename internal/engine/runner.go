package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"surge-scanner/internal/models"
)

// Runner fans a scan out across tickers. Tickers are independent: the only
// shared state is the read-only stage graph, so each worker runs a full scan
// with no coordination. A bad bar sequence fails that ticker alone.
type Runner struct {
	scanner *Scanner
	workers int
	logger  zerolog.Logger
}

// NewRunner creates a runner with a bounded worker count.
func NewRunner(scanner *Scanner, workers int, logger zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		scanner: scanner,
		workers: workers,
		logger:  logger,
	}
}

// Run scans every ticker in feeds and returns per-ticker results and errors.
// Tickers are dispatched in sorted order for reproducible logs; results are
// deterministic regardless of scheduling.
func (r *Runner) Run(ctx context.Context, feeds map[string][]models.Bar) (map[string]*Result, map[string]error) {
	tickers := make([]string, 0, len(feeds))
	for t := range feeds {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	results := make(map[string]*Result, len(tickers))
	failures := make(map[string]error)

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan string)

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range jobs {
				res, err := r.scanner.Scan(ticker, feeds[ticker])
				mu.Lock()
				if err != nil {
					failures[ticker] = err
					r.logger.Warn().Str("ticker", ticker).Err(err).Msg("Ticker skipped")
				} else {
					results[ticker] = res
				}
				mu.Unlock()
			}
		}()
	}

	for _, ticker := range tickers {
		select {
		case <-ctx.Done():
			mu.Lock()
			failures[ticker] = ctx.Err()
			mu.Unlock()
		case jobs <- ticker:
		}
	}
	close(jobs)
	wg.Wait()

	return results, failures
}
