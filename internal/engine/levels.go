package engine

import (
	"math"

	"surge-scanner/internal/models"
)

// LevelAnalyzer classifies later instances of a pattern against the price
// range of an earlier reference instance, and scans their active spans for
// retest and resistance-to-support flip events.
type LevelAnalyzer struct {
	tolerance float64 // percentage, e.g. 0.02 for 2%
}

// NewLevelAnalyzer creates an analyzer with the given tolerance percentage.
func NewLevelAnalyzer(tolerance float64) *LevelAnalyzer {
	return &LevelAnalyzer{tolerance: tolerance}
}

// Analyze compares each later instance against the reference: its peak price
// is classified into strong support, weak support or broken, its active span
// is scanned for retests of the reference high, and breakout/confirmation
// pairs are reported as flips.
func (a *LevelAnalyzer) Analyze(bars []models.Bar, patternID string, ref *models.StageInstance, later []*models.StageInstance) *LevelReport {
	if ref == nil || len(later) == 0 {
		return nil
	}

	refHigh := ref.PeakPrice
	refLow := spanLow(bars, ref)

	report := &LevelReport{
		PatternID:     patternID,
		ReferenceID:   ref.ID,
		ReferenceHigh: refHigh,
		ReferenceLow:  refLow,
	}

	for _, inst := range later {
		report.Classifications = append(report.Classifications, models.LevelClassification{
			InstanceID:    inst.ID,
			ReferenceID:   ref.ID,
			Ticker:        inst.Ticker,
			Class:         a.classify(inst.PeakPrice, refHigh, refLow),
			PeakPrice:     inst.PeakPrice,
			ReferenceHigh: refHigh,
			ReferenceLow:  refLow,
		})
		report.Retests = append(report.Retests, a.findRetests(bars, inst, refHigh)...)
	}

	report.Flips = a.findFlips(bars, refHigh, later)
	return report
}

// classify places a peak into the reference range. The tolerance widens each
// boundary downward so a peak a hair under a level still counts as holding it.
func (a *LevelAnalyzer) classify(peak, refHigh, refLow float64) models.LevelClass {
	switch {
	case peak >= refHigh*(1-a.tolerance):
		return models.LevelStrongSupport
	case peak >= refLow*(1-a.tolerance):
		return models.LevelWeakSupport
	default:
		return models.LevelBroken
	}
}

// findRetests scans an instance's active span for days on which price
// returned to within tolerance of the reference high after having moved away
// from it.
func (a *LevelAnalyzer) findRetests(bars []models.Bar, inst *models.StageInstance, refHigh float64) []models.RetestEvent {
	if refHigh <= 0 {
		return nil
	}
	lower := refHigh * (1 - a.tolerance)
	upper := refHigh * (1 + a.tolerance)

	var events []models.RetestEvent
	away := false
	for i := inst.StartIndex; i <= inst.EndIndex && i < len(bars); i++ {
		b := bars[i]
		distance := math.Abs(b.Close-refHigh) / refHigh
		touching := b.Low <= upper && b.High >= lower

		if away && touching {
			events = append(events, models.RetestEvent{
				InstanceID: inst.ID,
				Ticker:     inst.Ticker,
				Date:       b.Date,
				Price:      b.Close,
				Level:      refHigh,
			})
			away = false
			continue
		}
		if distance > a.tolerance {
			away = true
		}
	}
	return events
}

// findFlips pairs a breakout (an instance closing above the reference high)
// with the first subsequent instance whose lows held at or above that level,
// confirming the former resistance now acts as support.
func (a *LevelAnalyzer) findFlips(bars []models.Bar, refHigh float64, later []*models.StageInstance) []models.FlipEvent {
	floor := refHigh * (1 - a.tolerance)

	var flips []models.FlipEvent
	for i, breakout := range later {
		if breakout.ExitClose <= refHigh {
			continue
		}
		for _, confirm := range later[i+1:] {
			if spanLow(bars, confirm) >= floor {
				flips = append(flips, models.FlipEvent{
					BreakoutID: breakout.ID,
					ConfirmID:  confirm.ID,
					Ticker:     confirm.Ticker,
					Level:      refHigh,
					Date:       confirm.StartedAt,
				})
				break
			}
		}
	}
	return flips
}

// spanLow is the minimum low observed across an instance's active span.
func spanLow(bars []models.Bar, inst *models.StageInstance) float64 {
	low := math.Inf(1)
	for i := inst.StartIndex; i <= inst.EndIndex && i < len(bars); i++ {
		if bars[i].Low < low {
			low = bars[i].Low
		}
	}
	if math.IsInf(low, 1) {
		return 0
	}
	return low
}
