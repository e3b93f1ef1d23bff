package engine

import (
	"time"

	"github.com/rs/zerolog"

	"surge-scanner/internal/config"
	"surge-scanner/internal/errors"
	"surge-scanner/internal/graph"
	"surge-scanner/internal/logging"
	"surge-scanner/internal/models"
)

// Scanner runs the single forward pass that creates, updates and closes
// stage instances across all concurrently active patterns of one ticker.
//
// Per bar, strictly in order: root check, then per active pattern spot
// checks, next-stage checks, peak updates and exit checks, then redetection
// tracking. Later phases read state written by earlier ones within the same
// bar, so this order must not change.
type Scanner struct {
	graph  *graph.StageGraph
	cfg    config.EngineConfig
	logger zerolog.Logger
}

// NewScanner creates a scanner over a validated stage graph. The graph is
// shared read-only across scanners.
func NewScanner(g *graph.StageGraph, cfg config.EngineConfig, logger zerolog.Logger) *Scanner {
	return &Scanner{
		graph:  g,
		cfg:    cfg,
		logger: logger,
	}
}

// Scan processes the chronologically ordered bars of one ticker and returns
// the detection result. The scan itself performs no I/O and is deterministic:
// identical bars and configuration yield an identical result.
func (s *Scanner) Scan(ticker string, bars []models.Bar) (*Result, error) {
	if err := validateBars(ticker, bars); err != nil {
		return nil, err
	}

	sess := newSession(ticker, bars)
	ev := newEvaluator(logging.WithTicker(s.logger, ticker))

	for idx := range bars {
		s.step(sess, ev, idx)
	}
	s.finish(sess, ev)

	result := buildResult(sess, ev)
	s.classify(sess, result)
	return result, nil
}

func validateBars(ticker string, bars []models.Bar) error {
	for i, b := range bars {
		if b.Ticker != "" && b.Ticker != ticker {
			return errors.NewDataError(ticker, "bar for foreign ticker "+b.Ticker, nil)
		}
		if i == 0 {
			continue
		}
		if !bars[i-1].Date.Before(b.Date) {
			return errors.NewDataError(ticker, "bar dates not strictly increasing at "+b.Date.Format("2006-01-02"), nil)
		}
	}
	return nil
}

func (s *Scanner) step(sess *session, ev *evaluator, idx int) {
	bar := sess.bars[idx]
	sess.barEnvs = append(sess.barEnvs, barEnv(bar))

	s.rootCheck(sess, ev, idx)

	// Patterns stay eligible for next-stage checks even when every instance
	// has closed: a child may open after its parent's exit, as long as the
	// candle-distance bounds against the parent's start still admit it.
	for _, pat := range sess.patterns {
		s.spotChecks(sess, ev, pat, idx)
		s.nextStageChecks(sess, ev, pat, idx)
		s.peakUpdates(pat, bar)
		s.exitChecks(sess, ev, pat, idx)
	}

	s.redetectStep(sess, ev, idx)
}

// rootCheck opens a new pattern when the root node's entry conditions hold
// against a pattern-independent context and no cooldown constraint blocks it.
func (s *Scanner) rootCheck(sess *session, ev *evaluator, idx int) {
	bar := sess.bars[idx]
	if sess.cooldownBlocked(s.graph.RootID, bar.Date, s.cfg.CooldownDays) {
		return
	}

	scope := &evalScope{sess: sess, g: s.graph, cfg: s.cfg, idx: idx}
	if !ev.allTrue(s.graph.Root().Entry, scope.Env()) {
		return
	}

	pat := models.NewPatternInstance(sess.ticker, bar.Date, sess.nextPatternSeq())
	sess.patterns = append(sess.patterns, pat)
	s.openInstance(sess, pat, s.graph.Root(), idx, nil)
}

// openInstance creates a stage instance with its peak initialized from the
// opening bar, attaches it to the pattern and records it in the session.
func (s *Scanner) openInstance(sess *session, pat *models.PatternInstance, node *graph.StageNode, idx int, parents []*models.StageInstance) *models.StageInstance {
	bar := sess.bars[idx]
	peakDate := bar.Date
	inst := &models.StageInstance{
		ID:         pat.NextInstanceID(node.ID),
		NodeID:     node.ID,
		StageIndex: node.StageIndex,
		Ticker:     sess.ticker,
		PatternID:  pat.ID,
		StartedAt:  bar.Date,
		Status:     models.StatusActive,
		EntryClose: bar.Close,
		PeakPrice:  bar.High,
		PeakVolume: bar.Volume,
		PeakDate:   &peakDate,
		StartIndex: idx,
		EndIndex:   idx,
	}
	for _, p := range parents {
		inst.ParentIDs = append(inst.ParentIDs, p.ID)
	}

	pat.Attach(inst)
	sess.record(inst)
	logging.LogStageOpen(logging.WithPattern(s.logger, pat.ID), inst.ID, node.ID, bar.Date, inst.PeakPrice)
	return inst
}

// spotChecks appends a spot to every active instance whose node declares a
// spot-entry expression that holds. Spots never change stage or state.
func (s *Scanner) spotChecks(sess *session, ev *evaluator, pat *models.PatternInstance, idx int) {
	for _, inst := range pat.ActiveInstances() {
		node := s.graph.Node(inst.NodeID)
		if node == nil || node.Spot == nil {
			continue
		}
		scope := &evalScope{sess: sess, g: s.graph, cfg: s.cfg, idx: idx, pattern: pat}
		if ev.eval(node.Spot, scope.Env()) {
			inst.Spots = append(inst.Spots, models.SpotFromBar(sess.bars[idx]))
		}
	}
}

// nextStageChecks opens child instances for nodes reachable from occupied
// slots. Opening a child force-closes each single-slot parent on the prior
// trading day.
func (s *Scanner) nextStageChecks(sess *session, ev *evaluator, pat *models.PatternInstance, idx int) {
	// Snapshot: children opened on this bar never cascade within the bar.
	occupied := make([]*models.StageInstance, len(pat.All))
	copy(occupied, pat.All)

	for _, parentInst := range occupied {
		for _, childID := range s.graph.ChildrenOf(parentInst.NodeID) {
			if live, ok := pat.Live[childID]; ok && live.IsActive() {
				continue
			}
			child := s.graph.Node(childID)
			if !withinBounds(child, idx-parentInst.StartIndex) {
				continue
			}

			scope := &evalScope{sess: sess, g: s.graph, cfg: s.cfg, idx: idx, pattern: pat, parent: parentInst}
			if !ev.allTrue(child.Entry, scope.Env()) {
				continue
			}

			parents := s.liveParents(pat, childID)
			s.openInstance(sess, pat, child, idx, parents)
			for _, p := range parents {
				if p.IsActive() && s.graph.Node(p.NodeID).SingleChildSlot {
					s.forceClose(sess, p, idx, models.ExitSucceededByNextStage)
				}
			}
		}
	}
}

// withinBounds checks the candle-distance and lookback-window bounds between
// a candidate day and the parent instance's start, in trading days.
func withinBounds(node *graph.StageNode, dist int) bool {
	if node.MinCandlesFromParent > 0 && dist < node.MinCandlesFromParent {
		return false
	}
	if node.MaxCandlesFromParent > 0 && dist > node.MaxCandlesFromParent {
		return false
	}
	if node.LookbackMin > 0 && dist < node.LookbackMin {
		return false
	}
	if node.LookbackMax > 0 && dist > node.LookbackMax {
		return false
	}
	return true
}

// liveParents collects the pattern instances occupying the child's parent
// nodes, in the graph's deterministic parent order.
func (s *Scanner) liveParents(pat *models.PatternInstance, childID string) []*models.StageInstance {
	var out []*models.StageInstance
	for _, parentID := range s.graph.ParentsOf(childID) {
		if inst, ok := pat.Live[parentID]; ok {
			out = append(out, inst)
		}
	}
	return out
}

// forceClose completes an instance on the prior trading day. The close date
// never lands after the successor's start.
func (s *Scanner) forceClose(sess *session, inst *models.StageInstance, idx int, reason string) {
	endIdx := idx - 1
	if endIdx < inst.StartIndex {
		endIdx = inst.StartIndex
	}
	s.close(sess, inst, endIdx, reason, false)
}

// close terminates an instance at the bar with index endIdx. Peaks freeze at
// their current values.
func (s *Scanner) close(sess *session, inst *models.StageInstance, endIdx int, reason string, failed bool) {
	ended := sess.bars[endIdx].Date
	inst.Status = models.StatusCompleted
	if failed {
		inst.Status = models.StatusFailed
	}
	inst.EndedAt = &ended
	inst.EndIndex = endIdx
	inst.ExitReason = reason
	inst.ExitClose = sess.bars[endIdx].Close
	logging.LogStageClose(logging.WithPattern(s.logger, inst.PatternID), inst.ID, reason, ended)
}

// peakUpdates raises peak price and peak volume independently; a new volume
// peak does not require a new price peak.
func (s *Scanner) peakUpdates(pat *models.PatternInstance, bar models.Bar) {
	for _, inst := range pat.ActiveInstances() {
		if bar.High > inst.PeakPrice {
			inst.PeakPrice = bar.High
			peakDate := bar.Date
			inst.PeakDate = &peakDate
		}
		if bar.Volume > inst.PeakVolume {
			inst.PeakVolume = bar.Volume
		}
	}
}

// exitChecks evaluates each active instance's exit conditions in declared
// order; the first true one closes the instance and the rest are skipped.
// Existence-style conditions back-date the close to the previous trading day.
func (s *Scanner) exitChecks(sess *session, ev *evaluator, pat *models.PatternInstance, idx int) {
	for _, inst := range pat.ActiveInstances() {
		node := s.graph.Node(inst.NodeID)
		if node == nil || len(node.Exit) == 0 {
			continue
		}

		scope := &evalScope{sess: sess, g: s.graph, cfg: s.cfg, idx: idx, pattern: pat, parent: s.firstParent(pat, inst)}
		cond, ok := ev.firstTrue(node.Exit, scope.Env())
		if !ok {
			continue
		}

		endIdx := idx
		if cond.Backdate && endIdx > inst.StartIndex {
			endIdx--
		}
		s.close(sess, inst, endIdx, cond.Label, cond.MarksFailed)
	}
}

func (s *Scanner) firstParent(pat *models.PatternInstance, inst *models.StageInstance) *models.StageInstance {
	if len(inst.ParentIDs) == 0 {
		return nil
	}
	for _, candidate := range pat.All {
		if candidate.ID == inst.ParentIDs[0] {
			return candidate
		}
	}
	return nil
}

// finish force-completes anything still open after the last bar. Running out
// of data is not an error.
func (s *Scanner) finish(sess *session, ev *evaluator) {
	if len(sess.bars) == 0 {
		return
	}
	lastIdx := len(sess.bars) - 1
	lastDate := sess.bars[lastIdx].Date

	for _, inst := range sess.instances {
		if inst.IsActive() {
			s.close(sess, inst, lastIdx, models.ExitDataExhausted, false)
		}
	}
	for _, r := range sess.redetections {
		if r.IsActive() {
			ended := lastDate
			r.EndedAt = &ended
			r.Status = models.RedetectionCompleted
		}
	}
}

// classify runs the highlight classifier and the support/resistance analyzer
// over every finished pattern and attaches their records to the result.
func (s *Scanner) classify(sess *session, result *Result) {
	analyzer := NewLevelAnalyzer(s.cfg.LevelTolerance)
	rule := s.graph.Root().Highlight

	for _, pat := range sess.patterns {
		if !pat.Complete() {
			continue
		}

		highlights := FindHighlights(pat.All, rule)
		if len(highlights) > 0 {
			pat.Highlight = &highlights[0]
			result.Highlights = append(result.Highlights, highlights...)
		}

		ref := s.referenceInstance(pat)
		later := laterInstances(pat, ref)
		if ref == nil || len(later) == 0 {
			continue
		}
		if report := analyzer.Analyze(sess.bars, pat.ID, ref, later); report != nil {
			result.Levels = append(result.Levels, report)
		}
	}
}

// referenceInstance picks the comparison baseline of a pattern: the highlight
// anchor when one exists, otherwise the root instance.
func (s *Scanner) referenceInstance(pat *models.PatternInstance) *models.StageInstance {
	if pat.Highlight != nil {
		for _, inst := range pat.All {
			if inst.ID == pat.Highlight.InstanceID {
				return inst
			}
		}
	}
	if len(pat.All) == 0 {
		return nil
	}
	return pat.All[0]
}

func laterInstances(pat *models.PatternInstance, ref *models.StageInstance) []*models.StageInstance {
	if ref == nil {
		return nil
	}
	var out []*models.StageInstance
	for _, inst := range pat.All {
		if inst.StartedAt.After(ref.StartedAt) {
			out = append(out, inst)
		}
	}
	return out
}

// barDate is a small helper for tests and callers building bar fixtures.
func barDate(base time.Time, offset int) time.Time {
	return base.AddDate(0, 0, offset)
}
