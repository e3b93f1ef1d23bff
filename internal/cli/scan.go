package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"surge-scanner/internal/engine"
	"surge-scanner/internal/errors"
	"surge-scanner/internal/graph"
	"surge-scanner/internal/indicators"
	"surge-scanner/internal/models"
)

// barFile is the on-disk form of a pre-annotated bar feed: bars grouped by
// ticker, dates as YYYY-MM-DD, indicators already computed upstream.
type barFile map[string][]barRecord

type barRecord struct {
	Date       string             `json:"date"`
	Open       float64            `json:"open"`
	High       float64            `json:"high"`
	Low        float64            `json:"low"`
	Close      float64            `json:"close"`
	Volume     int64              `json:"volume"`
	Indicators map[string]float64 `json:"indicators"`
}

func newScanCmd(app *App) *cobra.Command {
	var (
		stages   int
		annotate bool
	)

	cmd := &cobra.Command{
		Use:   "scan <bars.json>",
		Short: "Scan a bar feed for surge chains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feeds, err := loadBars(args[0])
			if err != nil {
				return err
			}

			params := graph.DefaultLegacyParams()
			if annotate {
				annotators := indicators.ForLegacyGraph(params)
				for ticker, bars := range feeds {
					if err := indicators.Annotate(bars, annotators...); err != nil {
						return errors.Wrapf(err, "annotating %s", ticker)
					}
				}
			}

			g, err := graph.NewLegacyGraph(stages, params)
			if err != nil {
				return err
			}
			if err := g.Validate(app.Config.Engine.ParamFallback); err != nil {
				return err
			}

			scanner := engine.NewScanner(g, app.Config.Engine, app.Logger)
			runner := engine.NewRunner(scanner, app.Config.Engine.Workers, app.Logger)

			ctx := context.Background()
			results, failures := runner.Run(ctx, feeds)

			for _, ticker := range sortedResultKeys(results) {
				result := results[ticker]
				printSummary(result)
				if app.Store != nil {
					if err := persistResult(ctx, app, result); err != nil {
						return err
					}
				}
			}

			if len(failures) > 0 {
				red := color.New(color.FgRed).SprintFunc()
				for _, ticker := range sortedKeys(failures) {
					fmt.Printf("%s %s: %v\n", red("SKIPPED"), ticker, failures[ticker])
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&stages, "stages", 4, "number of chained stages (3-6)")
	cmd.Flags().BoolVar(&annotate, "annotate", false, "derive missing indicator annotations from the raw bars")
	return cmd
}

func loadBars(path string) (map[string][]models.Bar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading bar file")
	}
	var file barFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parsing bar file")
	}

	feeds := make(map[string][]models.Bar, len(file))
	for ticker, records := range file {
		bars := make([]models.Bar, 0, len(records))
		for _, r := range records {
			date, err := time.Parse("2006-01-02", r.Date)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing date %q for %s", r.Date, ticker)
			}
			bars = append(bars, models.Bar{
				Ticker:     ticker,
				Date:       date,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				Indicators: r.Indicators,
			})
		}
		feeds[ticker] = bars
	}
	return feeds, nil
}

func persistResult(ctx context.Context, app *App, result *engine.Result) error {
	for _, p := range result.Patterns {
		if err := app.Store.SavePattern(ctx, p); err != nil {
			return err
		}
	}
	for _, inst := range result.Instances {
		if err := app.Store.SaveInstance(ctx, inst); err != nil {
			return err
		}
	}
	for _, e := range result.Redetections {
		if err := app.Store.SaveRedetection(ctx, e); err != nil {
			return err
		}
	}
	for _, h := range result.Highlights {
		if err := app.Store.SaveHighlight(ctx, h); err != nil {
			return err
		}
	}
	for _, report := range result.Levels {
		for _, c := range report.Classifications {
			if err := app.Store.SaveClassification(ctx, c); err != nil {
				return err
			}
		}
		for _, r := range report.Retests {
			if err := app.Store.SaveRetest(ctx, r); err != nil {
				return err
			}
		}
		for _, f := range report.Flips {
			if err := app.Store.SaveFlip(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func printSummary(result *engine.Result) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("%s  patterns=%d instances=%d redetections=%d highlights=%d\n",
		bold(result.Ticker), len(result.Patterns), len(result.Instances),
		len(result.Redetections), len(result.Highlights))

	for _, inst := range result.Instances {
		ended := "-"
		if inst.EndedAt != nil {
			ended = inst.EndedAt.Format("2006-01-02")
		}
		fmt.Printf("  %s %s %s -> %s peak=%.2f reason=%s\n",
			green(inst.NodeID), inst.ID,
			inst.StartedAt.Format("2006-01-02"), ended,
			inst.PeakPrice, inst.ExitReason)
	}
	for _, h := range result.Highlights {
		rank := "secondary"
		if h.Rank == 1 {
			rank = "primary"
		}
		fmt.Printf("  %s %s (%s, spots=%d)\n", yellow("anchor:"), h.InstanceID, rank, h.SpotCount)
	}
}

func sortedResultKeys(m map[string]*engine.Result) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
