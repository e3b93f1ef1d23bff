package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"surge-scanner/internal/models"
)

func TestRunnerScansAllTickers(t *testing.T) {
	scanner := newTestScanner(t, 4)
	runner := NewRunner(scanner, 3, zerolog.Nop())

	surge := func(ticker string) []models.Bar {
		bars := []models.Bar{quietBar(0), surgeBar(1)}
		bars = append(bars, quietRange(2, 6)...)
		for i := range bars {
			bars[i].Ticker = ticker
		}
		return bars
	}

	feeds := map[string][]models.Bar{
		"AAA": surge("AAA"),
		"BBB": surge("BBB"),
		"CCC": {quietBar(1), quietBar(0)}, // unordered: fails alone
	}
	// The quiet fixture carries the shared test ticker; relabel for CCC.
	for i := range feeds["CCC"] {
		feeds["CCC"][i].Ticker = "CCC"
	}

	results, failures := runner.Run(context.Background(), feeds)

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, ticker := range []string{"AAA", "BBB"} {
		res, ok := results[ticker]
		if !ok {
			t.Fatalf("missing result for %s", ticker)
		}
		if res.Ticker != ticker || len(res.Instances) != 1 {
			t.Errorf("%s result = %+v", ticker, res)
		}
		if res.Instances[0].Ticker != ticker {
			t.Errorf("instance ticker = %s", res.Instances[0].Ticker)
		}
	}

	if len(failures) != 1 {
		t.Fatalf("failures = %v, want only CCC", failures)
	}
	if _, ok := failures["CCC"]; !ok {
		t.Errorf("CCC not in failures: %v", failures)
	}
}

func TestRunnerAccountsForEveryTicker(t *testing.T) {
	scanner := newTestScanner(t, 4)
	runner := NewRunner(scanner, 2, zerolog.Nop())

	feeds := map[string][]models.Bar{}
	for _, ticker := range []string{"A", "B", "C", "D", "E"} {
		bars := quietRange(0, 4)
		for i := range bars {
			bars[i].Ticker = ticker
		}
		feeds[ticker] = bars
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, failures := runner.Run(ctx, feeds)
	if len(results)+len(failures) != len(feeds) {
		t.Fatalf("accounted %d+%d tickers, want %d", len(results), len(failures), len(feeds))
	}
}

func TestRunnerClampsWorkerCount(t *testing.T) {
	runner := NewRunner(newTestScanner(t, 4), 0, zerolog.Nop())
	if runner.workers != 1 {
		t.Errorf("workers = %d, want 1", runner.workers)
	}
}
