package graph

import (
	"fmt"

	"surge-scanner/internal/errors"
)

// LegacyParams parameterizes the fixed-stage surge chain: a linear
// block1 -> blockN graph whose entry test is the same seven criteria at every
// stage, plus ancestor volume/price checks from stage 2 on. The generic
// scanner reproduces the historical fixed-stage detector when driven by the
// graph this builder produces.
type LegacyParams struct {
	MinROC              float64 // day-over-day rate of change threshold
	TrendMAPeriod       int     // moving average the high must clear
	MaxDeviation        float64 // MA-deviation ceiling
	MinTradingValue     float64 // close * volume floor
	NewHighDays         int     // period for price/volume new-high flags
	VolumeRatio         float64 // volume vs previous day
	AncestorVolumeRatio float64 // volume vs ancestor peak volume (stage 2+)
	PriceMargin         float64 // low margin vs ancestor peak price (stage 2+)
	ExitMAPeriod        int     // close below this MA closes the stage
	ReversalExit        bool    // also close on the first down reversal bar
	RedetectDropRatio   float64 // redetection entry: close vs parent peak
	SpotOffsetStart     int     // forward-spot window start, days after entry
	SpotOffsetEnd       int     // forward-spot window end
	SpotVolumeRatio     float64 // forward-spot volume vs previous day
	RequiredSpots       int     // spots needed for a forward-spot highlight
	MinStageGap         int     // min candles between a stage and its parent
	MaxStageGap         int     // max candles between a stage and its parent
}

// DefaultLegacyParams returns the historical parameterization.
func DefaultLegacyParams() LegacyParams {
	return LegacyParams{
		MinROC:              0.25,
		TrendMAPeriod:       240,
		MaxDeviation:        1.6,
		MinTradingValue:     1_000_000_000,
		NewHighDays:         60,
		VolumeRatio:         4.0,
		AncestorVolumeRatio: 0.8,
		PriceMargin:         0.05,
		ExitMAPeriod:        20,
		RedetectDropRatio:   0.9,
		SpotOffsetStart:     1,
		SpotOffsetEnd:       5,
		SpotVolumeRatio:     2.0,
		RequiredSpots:       1,
		MinStageGap:         1,
		MaxStageGap:         120,
	}
}

// NewLegacyGraph builds the fixed-stage chain as a regular stage graph.
// The historical detector supported 3 to 6 stages.
func NewLegacyGraph(stages int, p LegacyParams) (*StageGraph, error) {
	if stages < 3 || stages > 6 {
		return nil, errors.NewConfigurationError("", "stages", fmt.Sprintf("stage count %d outside 3..6", stages), errors.ErrConfigInvalid)
	}

	g := &StageGraph{
		Nodes:    make(map[string]*StageNode),
		Children: make(map[string][]string),
	}

	for i := 1; i <= stages; i++ {
		id := fmt.Sprintf("block%d", i)
		node := &StageNode{
			ID:              id,
			StageIndex:      i,
			Entry:           legacyEntry(i, p),
			Exit:            legacyExit(id, p),
			RedetectEntry:   legacyRedetectEntry(p),
			RedetectExit:    legacyRedetectExit(),
			Spot:            legacySpot(id, p),
			SingleChildSlot: true,
			Params: Params{
				VolumeRatio:         p.VolumeRatio,
				AncestorVolumeRatio: p.AncestorVolumeRatio,
				PriceMargin:         p.PriceMargin,
				SpotVolumeRatio:     p.SpotVolumeRatio,
				RedetectDropRatio:   p.RedetectDropRatio,
			},
		}
		if i == 1 {
			g.RootID = id
			if p.RequiredSpots > 0 {
				node.Highlight = &HighlightRule{
					Type:          HighlightForwardSpot,
					Enabled:       true,
					Priority:      1,
					RequiredSpots: p.RequiredSpots,
				}
			}
		} else {
			node.MinCandlesFromParent = p.MinStageGap
			node.MaxCandlesFromParent = p.MaxStageGap
			parent := fmt.Sprintf("block%d", i-1)
			g.Children[parent] = append(g.Children[parent], id)
		}
		g.Nodes[id] = node
	}

	return g, nil
}

// legacyEntry builds the seven shared entry criteria, plus the two ancestor
// checks for stages past the first.
func legacyEntry(stage int, p LegacyParams) []*Condition {
	conds := []*Condition{
		{Label: "rate_of_change", Expr: fmt.Sprintf(`ind("roc", 1) >= %v`, p.MinROC)},
		{Label: "above_trend_ma", Expr: fmt.Sprintf(`high >= ma(%d)`, p.TrendMAPeriod)},
		{Label: "deviation_cap", Expr: fmt.Sprintf(`ind("deviation", %d) <= %v`, p.TrendMAPeriod, p.MaxDeviation)},
		{Label: "trading_value", Expr: fmt.Sprintf(`close * volume >= %v`, p.MinTradingValue)},
		{Label: "volume_new_high", Expr: fmt.Sprintf(`ind("new_high_volume", %d) > 0`, p.NewHighDays)},
		{Label: "volume_surge", Expr: fmt.Sprintf(`volume >= %v * prev.volume`, p.VolumeRatio)},
		{Label: "price_new_high", Expr: fmt.Sprintf(`ind("new_high_price", %d) > 0`, p.NewHighDays)},
	}
	if stage > 1 {
		parent := fmt.Sprintf("block%d", stage-1)
		conds = append(conds,
			&Condition{
				Label: "ancestor_volume",
				Expr:  fmt.Sprintf(`volume >= %v * %s.peak_volume`, p.AncestorVolumeRatio, parent),
			},
			&Condition{
				Label: "ancestor_price",
				Expr:  fmt.Sprintf(`low * (1 + %v) > %s.peak_price`, p.PriceMargin, parent),
			},
		)
	}
	return conds
}

func legacyExit(id string, p LegacyParams) []*Condition {
	conds := []*Condition{
		{Label: "ma_break", Expr: fmt.Sprintf(`close < ma(%d)`, p.ExitMAPeriod)},
	}
	if p.ReversalExit {
		conds = append(conds, &Condition{
			Label:    "first_reversal",
			Expr:     fmt.Sprintf(`first_down_reversal(%q)`, id),
			Backdate: true,
		})
	}
	return conds
}

func legacyRedetectEntry(p LegacyParams) []*Condition {
	if p.RedetectDropRatio <= 0 {
		return nil
	}
	return []*Condition{
		{Label: "pullback", Expr: fmt.Sprintf(`close <= parent_block.peak_price * %v`, p.RedetectDropRatio)},
	}
}

func legacyRedetectExit() []*Condition {
	return []*Condition{
		{Label: "peak_reclaim", Expr: `high >= parent_block.peak_price`},
		{Label: "doubling_surge", Expr: `is_price_doubling_surge(parent_block.node_id)`},
	}
}

func legacySpot(id string, p LegacyParams) *Condition {
	if p.SpotOffsetEnd <= 0 {
		return nil
	}
	return &Condition{
		Label: "forward_spot",
		Expr:  fmt.Sprintf(`is_forward_spot(%q, %d, %d)`, id, p.SpotOffsetStart, p.SpotOffsetEnd),
	}
}
