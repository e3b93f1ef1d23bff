package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"surge-scanner/internal/models"
	"surge-scanner/internal/store"
)

func newReportCmd(app *App) *cobra.Command {
	var (
		nodeID string
		since  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "report <ticker>",
		Short: "Show recorded detections for a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store not initialized")
			}
			ticker := args[0]

			filter := store.InstanceFilter{
				Ticker: ticker,
				NodeID: nodeID,
				Limit:  limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("parsing --since: %w", err)
				}
				filter.StartDate = t
			}

			ctx := context.Background()
			instances, err := app.Store.GetInstances(ctx, filter)
			if err != nil {
				return err
			}
			highlights, err := app.Store.GetHighlights(ctx, ticker)
			if err != nil {
				return err
			}

			printReport(ticker, instances, highlights)
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "filter by stage node id")
	cmd.Flags().StringVar(&since, "since", "", "only instances starting on or after this date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func printReport(ticker string, instances []models.StageInstance, highlights []models.Highlight) {
	bold := color.New(color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	anchors := make(map[string]models.HighlightRank, len(highlights))
	for _, h := range highlights {
		anchors[h.InstanceID] = h.Rank
	}

	fmt.Printf("%s  (%d instances)\n", bold(ticker), len(instances))
	for _, inst := range instances {
		ended := "-"
		if inst.EndedAt != nil {
			ended = inst.EndedAt.Format("2006-01-02")
		}
		marker := " "
		if rank, ok := anchors[inst.ID]; ok {
			marker = "*"
			if rank == models.HighlightPrimary {
				marker = cyan("A")
			}
		}
		fmt.Printf(" %s %-8s %-10s %s -> %-10s peak=%.2f %s\n",
			marker, inst.NodeID, string(inst.Status),
			inst.StartedAt.Format("2006-01-02"), ended,
			inst.PeakPrice, inst.ExitReason)
	}
}

func newConfigCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := app.Config.Engine
			fmt.Printf("cooldown_days:             %d\n", e.CooldownDays)
			fmt.Printf("level_tolerance:           %.3f\n", e.LevelTolerance)
			fmt.Printf("reversal_window:           %d\n", e.ReversalWindow)
			fmt.Printf("forward_spot_volume_ratio: %.2f\n", e.ForwardSpotVolumeRatio)
			fmt.Printf("param_fallback:            %s\n", e.ParamFallback)
			fmt.Printf("workers:                   %d\n", e.Workers)
			return nil
		},
	}
}
