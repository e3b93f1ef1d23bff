package engine

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"surge-scanner/internal/config"
	"surge-scanner/internal/errors"
	"surge-scanner/internal/graph"
	"surge-scanner/internal/models"
)

const testTicker = "ACME"

var testBase = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// testIndicators returns the baseline bar annotations. Baseline values fail
// the entry criteria; overrides flip individual criteria on.
func testIndicators(overrides map[string]float64) map[string]float64 {
	ind := map[string]float64{
		"ma_240":             90,
		"ma_20":              95,
		"deviation_240":      1.1,
		"roc_1":              0,
		"new_high_price_60":  0,
		"new_high_volume_60": 0,
	}
	for k, v := range overrides {
		ind[k] = v
	}
	return ind
}

// quietBar satisfies no entry, exit or spot condition.
func quietBar(i int) models.Bar {
	return models.Bar{
		Ticker: testTicker, Date: barDate(testBase, i),
		Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000,
		Indicators: testIndicators(nil),
	}
}

// surgeBar satisfies all first-stage entry criteria when the previous bar is
// quiet: ROC, trend MA, deviation cap, trading value, volume/price new highs
// and the four-times volume surge.
func surgeBar(i int) models.Bar {
	return models.Bar{
		Ticker: testTicker, Date: barDate(testBase, i),
		Open: 105, High: 125, Low: 104, Close: 120, Volume: 10_000_000,
		Indicators: testIndicators(map[string]float64{
			"roc_1":              0.30,
			"deviation_240":      1.3,
			"new_high_price_60":  1,
			"new_high_volume_60": 1,
		}),
	}
}

// chainBar satisfies the second-stage entry against a surgeBar parent: all
// seven shared criteria plus the ancestor volume and price checks.
func chainBar(i int) models.Bar {
	return models.Bar{
		Ticker: testTicker, Date: barDate(testBase, i),
		Open: 130, High: 140, Low: 131, Close: 138, Volume: 12_000_000,
		Indicators: testIndicators(map[string]float64{
			"roc_1":              0.30,
			"deviation_240":      1.3,
			"new_high_price_60":  1,
			"new_high_volume_60": 1,
		}),
	}
}

// breakBar closes below the 20-day MA, triggering the ma_break exit.
func breakBar(i int) models.Bar {
	return models.Bar{
		Ticker: testTicker, Date: barDate(testBase, i),
		Open: 92, High: 93, Low: 79, Close: 80, Volume: 1000,
		Indicators: testIndicators(nil),
	}
}

func quietRange(from, to int) []models.Bar {
	var bars []models.Bar
	for i := from; i <= to; i++ {
		bars = append(bars, quietBar(i))
	}
	return bars
}

func newTestScanner(t *testing.T, stages int) *Scanner {
	t.Helper()
	g, err := graph.NewLegacyGraph(stages, graph.DefaultLegacyParams())
	if err != nil {
		t.Fatalf("building graph: %v", err)
	}
	cfg := config.Default().Engine
	if err := g.Validate(cfg.ParamFallback); err != nil {
		t.Fatalf("validating graph: %v", err)
	}
	return NewScanner(g, cfg, zerolog.Nop())
}

func mustScan(t *testing.T, s *Scanner, bars []models.Bar) *Result {
	t.Helper()
	result, err := s.Scan(testTicker, bars)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return result
}

func findByNode(t *testing.T, result *Result, nodeID string) *models.StageInstance {
	t.Helper()
	for _, inst := range result.Instances {
		if inst.NodeID == nodeID {
			return inst
		}
	}
	t.Fatalf("no instance for node %s", nodeID)
	return nil
}

func TestScanQuietBarsOpenNothing(t *testing.T) {
	s := newTestScanner(t, 4)
	result := mustScan(t, s, quietRange(0, 19))

	if len(result.Patterns) != 0 || len(result.Instances) != 0 {
		t.Fatalf("expected no detections, got %d patterns / %d instances",
			len(result.Patterns), len(result.Instances))
	}
}

func TestScanOpensRootWhenAllCriteriaHold(t *testing.T) {
	s := newTestScanner(t, 4)
	bars := []models.Bar{quietBar(0), surgeBar(1)}
	bars = append(bars, quietRange(2, 6)...)

	result := mustScan(t, s, bars)

	if len(result.Patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(result.Patterns))
	}
	inst := findByNode(t, result, "block1")
	if !inst.StartedAt.Equal(barDate(testBase, 1)) {
		t.Errorf("StartedAt = %v, want %v", inst.StartedAt, barDate(testBase, 1))
	}
	if inst.EntryClose != 120 {
		t.Errorf("EntryClose = %v, want 120", inst.EntryClose)
	}
	if inst.PeakPrice != 125 {
		t.Errorf("PeakPrice = %v, want high of the entry day 125", inst.PeakPrice)
	}
	if inst.PeakVolume != 10_000_000 {
		t.Errorf("PeakVolume = %v, want 10000000", inst.PeakVolume)
	}
	if inst.Status != models.StatusCompleted || inst.ExitReason != models.ExitDataExhausted {
		t.Errorf("end of data should force-complete: status=%s reason=%s", inst.Status, inst.ExitReason)
	}
	if inst.EndedAt == nil || !inst.EndedAt.Equal(barDate(testBase, 6)) {
		t.Errorf("EndedAt = %v, want last bar date", inst.EndedAt)
	}
}

func TestScanSingleFailingCriterionBlocksEntry(t *testing.T) {
	s := newTestScanner(t, 4)

	// Same surge day but without the price new-high flag.
	surge := surgeBar(1)
	surge.Indicators["new_high_price_60"] = 0
	bars := []models.Bar{quietBar(0), surge, quietBar(2)}

	result := mustScan(t, s, bars)
	if len(result.Instances) != 0 {
		t.Fatalf("expected no instances, got %d", len(result.Instances))
	}
}

func TestScanMABreakExit(t *testing.T) {
	s := newTestScanner(t, 4)
	bars := []models.Bar{quietBar(0), surgeBar(1)}
	bars = append(bars, quietRange(2, 7)...)
	bars = append(bars, breakBar(8), quietBar(9))

	result := mustScan(t, s, bars)

	inst := findByNode(t, result, "block1")
	if inst.ExitReason != "ma_break" {
		t.Fatalf("ExitReason = %q, want ma_break", inst.ExitReason)
	}
	if inst.EndedAt == nil || !inst.EndedAt.Equal(barDate(testBase, 8)) {
		t.Errorf("EndedAt = %v, want the break day", inst.EndedAt)
	}
	if inst.ExitClose != 80 {
		t.Errorf("ExitClose = %v, want 80", inst.ExitClose)
	}
	if inst.Status != models.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", inst.Status)
	}
	// The peak froze at the entry day's extremes.
	if inst.PeakPrice != 125 || inst.PeakVolume != 10_000_000 {
		t.Errorf("peaks = %v/%v, want 125/10000000", inst.PeakPrice, inst.PeakVolume)
	}
}

func TestScanNextStageForceClosesParent(t *testing.T) {
	s := newTestScanner(t, 4)
	bars := []models.Bar{quietBar(0), surgeBar(1)}
	bars = append(bars, quietRange(2, 5)...)
	bars = append(bars, chainBar(6))
	bars = append(bars, quietRange(7, 10)...)

	result := mustScan(t, s, bars)

	parent := findByNode(t, result, "block1")
	child := findByNode(t, result, "block2")

	if parent.ExitReason != models.ExitSucceededByNextStage {
		t.Fatalf("parent ExitReason = %q, want %q", parent.ExitReason, models.ExitSucceededByNextStage)
	}
	// The parent's close back-dates to the day before the child opened.
	if parent.EndedAt == nil || !parent.EndedAt.Equal(barDate(testBase, 5)) {
		t.Errorf("parent EndedAt = %v, want %v", parent.EndedAt, barDate(testBase, 5))
	}
	if !child.StartedAt.Equal(barDate(testBase, 6)) {
		t.Errorf("child StartedAt = %v, want %v", child.StartedAt, barDate(testBase, 6))
	}
	if parent.EndedAt.After(child.StartedAt) {
		t.Errorf("parent ended %v after child started %v", parent.EndedAt, child.StartedAt)
	}
	if len(child.ParentIDs) != 1 || child.ParentIDs[0] != parent.ID {
		t.Errorf("child ParentIDs = %v, want [%s]", child.ParentIDs, parent.ID)
	}

	// The parent's peaks must not absorb the child's opening bar.
	if parent.PeakPrice != 125 || parent.PeakVolume != 10_000_000 {
		t.Errorf("parent peaks = %v/%v, want frozen 125/10000000", parent.PeakPrice, parent.PeakVolume)
	}
	if child.PeakPrice != 140 || child.EntryClose != 138 {
		t.Errorf("child peak/entry = %v/%v, want 140/138", child.PeakPrice, child.EntryClose)
	}
	if result.Patterns[0].Level != 2 {
		t.Errorf("pattern level = %d, want 2", result.Patterns[0].Level)
	}
}

func TestScanForwardSpotAndHighlight(t *testing.T) {
	s := newTestScanner(t, 4)
	bars := []models.Bar{quietBar(0), surgeBar(1)}
	bars = append(bars, quietRange(2, 5)...)
	bars = append(bars, chainBar(6))
	bars = append(bars, quietRange(7, 10)...)

	result := mustScan(t, s, bars)
	parent := findByNode(t, result, "block1")

	// The chain day doubles the previous day's volume within the spot window,
	// so it echoes onto the still-active first stage before the second opens.
	if parent.SpotCount() != 1 {
		t.Fatalf("SpotCount = %d, want 1", parent.SpotCount())
	}
	if !parent.Spots[0].Date.Equal(barDate(testBase, 6)) {
		t.Errorf("spot date = %v, want %v", parent.Spots[0].Date, barDate(testBase, 6))
	}

	if len(result.Highlights) == 0 {
		t.Fatal("expected a forward-spot highlight")
	}
	h := result.Highlights[0]
	if h.InstanceID != parent.ID || h.Rank != models.HighlightPrimary {
		t.Errorf("primary highlight = %s rank %d, want %s rank %d", h.InstanceID, h.Rank, parent.ID, models.HighlightPrimary)
	}
	if result.Patterns[0].Highlight == nil {
		t.Error("pattern anchor not set")
	}

	// The later stage held above the anchor's peak, classifying as strong
	// support against the reference level.
	if len(result.Levels) != 1 {
		t.Fatalf("expected 1 level report, got %d", len(result.Levels))
	}
	report := result.Levels[0]
	if report.ReferenceID != parent.ID || report.ReferenceHigh != 125 {
		t.Errorf("reference = %s high %v, want %s high 125", report.ReferenceID, report.ReferenceHigh, parent.ID)
	}
	if len(report.Classifications) != 1 || report.Classifications[0].Class != models.LevelStrongSupport {
		t.Errorf("classification = %+v, want one strong_support", report.Classifications)
	}
}

func TestScanCooldownRejectsThenAccepts(t *testing.T) {
	s := newTestScanner(t, 4)

	bars := []models.Bar{quietBar(0), surgeBar(1)}
	bars = append(bars, quietRange(2, 9)...)
	bars = append(bars, breakBar(10))
	bars = append(bars, quietRange(11, 30)...)
	bars = append(bars, surgeBar(31)) // 30 days after the first: rejected
	bars = append(bars, quietRange(32, 130)...)
	bars = append(bars, surgeBar(131)) // 130 days after: accepted
	bars = append(bars, quietRange(132, 135)...)

	result := mustScan(t, s, bars)

	if len(result.Patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(result.Patterns))
	}
	var roots []*models.StageInstance
	for _, inst := range result.Instances {
		if inst.NodeID == "block1" {
			roots = append(roots, inst)
		}
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 root instances, got %d", len(roots))
	}
	if !roots[0].StartedAt.Equal(barDate(testBase, 1)) {
		t.Errorf("first root start = %v", roots[0].StartedAt)
	}
	if !roots[1].StartedAt.Equal(barDate(testBase, 131)) {
		t.Errorf("second root start = %v, want 130 days after the first", roots[1].StartedAt)
	}
}

func TestScanRedetectionSequence(t *testing.T) {
	s := newTestScanner(t, 4)

	bars := []models.Bar{quietBar(0), surgeBar(1)}
	bars = append(bars, quietRange(2, 7)...)
	bars = append(bars, breakBar(8)) // closes block1, peak 125
	bars = append(bars, quietRange(9, 11)...)

	// Reclaim day: high reaches the parent peak, ending the first event.
	reclaim := quietBar(12)
	reclaim.High = 126
	bars = append(bars, reclaim)
	bars = append(bars, quietRange(13, 20)...)

	result := mustScan(t, s, bars)
	inst := findByNode(t, result, "block1")

	if len(inst.Redetections) != 2 {
		t.Fatalf("expected 2 redetection events, got %d", len(inst.Redetections))
	}

	first, second := inst.Redetections[0], inst.Redetections[1]
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("seqs = %d,%d, want 1,2", first.Seq, second.Seq)
	}
	if first.ID != inst.ID+"-rd1" || second.ID != inst.ID+"-rd2" {
		t.Errorf("ids = %s,%s", first.ID, second.ID)
	}

	// Entry opens on the first bar after the close whose close has dropped
	// below 90% of the parent peak.
	if !first.StartedAt.Equal(barDate(testBase, 9)) {
		t.Errorf("first event start = %v, want %v", first.StartedAt, barDate(testBase, 9))
	}
	if first.Status != models.RedetectionCompleted || first.EndedAt == nil || !first.EndedAt.Equal(barDate(testBase, 12)) {
		t.Errorf("first event should close on the reclaim day, got %s / %v", first.Status, first.EndedAt)
	}
	if first.PeakPrice != 126 {
		t.Errorf("first event peak = %v, want 126", first.PeakPrice)
	}

	if !second.StartedAt.After(*first.EndedAt) {
		t.Errorf("second event %v overlaps first ending %v", second.StartedAt, first.EndedAt)
	}
	// Data ran out while the second event was open.
	if second.Status != models.RedetectionCompleted || second.EndedAt == nil || !second.EndedAt.Equal(barDate(testBase, 20)) {
		t.Errorf("second event should complete at end of data, got %s / %v", second.Status, second.EndedAt)
	}
}

func TestScanEvaluationFailuresAreFailClosed(t *testing.T) {
	s := newTestScanner(t, 4)

	// A surge on the very first bar has no previous day, so the volume-surge
	// criterion cannot evaluate. The failure must suppress the entry and be
	// tallied, not abort the scan.
	bars := []models.Bar{surgeBar(0)}
	bars = append(bars, quietRange(1, 4)...)

	result := mustScan(t, s, bars)
	if len(result.Instances) != 0 {
		t.Fatalf("expected no instances, got %d", len(result.Instances))
	}
	if result.EvalFailures["volume_surge"] == 0 {
		t.Errorf("expected a tallied volume_surge failure, got %v", result.EvalFailures)
	}
}

func TestScanRejectsBadBarSequences(t *testing.T) {
	s := newTestScanner(t, 4)

	t.Run("unordered dates", func(t *testing.T) {
		bars := []models.Bar{quietBar(1), quietBar(0)}
		_, err := s.Scan(testTicker, bars)
		var dataErr *errors.DataError
		if !errors.As(err, &dataErr) {
			t.Fatalf("expected DataError, got %v", err)
		}
	})

	t.Run("foreign ticker", func(t *testing.T) {
		bad := quietBar(1)
		bad.Ticker = "OTHER"
		_, err := s.Scan(testTicker, []models.Bar{quietBar(0), bad})
		var dataErr *errors.DataError
		if !errors.As(err, &dataErr) {
			t.Fatalf("expected DataError, got %v", err)
		}
	})

	t.Run("empty feed", func(t *testing.T) {
		result, err := s.Scan(testTicker, nil)
		if err != nil {
			t.Fatalf("empty feed should scan cleanly: %v", err)
		}
		if len(result.Instances) != 0 {
			t.Fatalf("expected empty result")
		}
	})
}

func TestScanDeterministic(t *testing.T) {
	bars := []models.Bar{quietBar(0), surgeBar(1)}
	bars = append(bars, quietRange(2, 5)...)
	bars = append(bars, chainBar(6))
	bars = append(bars, quietRange(7, 12)...)
	bars = append(bars, breakBar(13))
	bars = append(bars, quietRange(14, 25)...)

	first := summarize(mustScan(t, newTestScanner(t, 4), bars))
	for i := 0; i < 5; i++ {
		again := summarize(mustScan(t, newTestScanner(t, 4), bars))
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged:\n%v\nvs\n%v", i, first, again)
		}
	}
}

// summarize renders a result into comparable lines covering every field that
// must be reproducible across runs.
func summarize(r *Result) []string {
	var out []string
	for _, p := range r.Patterns {
		out = append(out, fmt.Sprintf("pattern|%s|%d|%d", p.ID, p.Seq, p.Level))
	}
	for _, inst := range r.Instances {
		out = append(out, fmt.Sprintf("inst|%s|%s|%s|%s|%v|%v|%.2f|%d|%v|%d",
			inst.ID, inst.NodeID, inst.Status, inst.ExitReason,
			inst.StartedAt, inst.EndedAt, inst.PeakPrice, inst.PeakVolume,
			inst.ParentIDs, inst.SpotCount()))
	}
	for _, e := range r.Redetections {
		out = append(out, fmt.Sprintf("redetect|%s|%d|%s|%v|%v|%.2f",
			e.ID, e.Seq, e.Status, e.StartedAt, e.EndedAt, e.PeakPrice))
	}
	for _, h := range r.Highlights {
		out = append(out, fmt.Sprintf("highlight|%s|%d|%s", h.InstanceID, h.Rank, h.RuleType))
	}
	for _, l := range r.Levels {
		for _, c := range l.Classifications {
			out = append(out, fmt.Sprintf("level|%s|%s|%s", c.InstanceID, c.ReferenceID, c.Class))
		}
	}
	return out
}
