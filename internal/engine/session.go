// Package engine implements the surge-chain detection engine: the forward
// scan that opens, advances and closes stage instances, the redetection
// tracker, the highlight classifier and the support/resistance analyzer.
package engine

import (
	"time"

	"surge-scanner/internal/models"
)

// session owns all mutable state of one detection run over one ticker. All
// counters live here, never at package level, so concurrent runs and re-runs
// start from a clean slate.
type session struct {
	ticker string
	bars   []models.Bar

	patterns     []*models.PatternInstance
	instances    []*models.StageInstance
	redetections []*models.RedetectionEvent

	// byNode is the per ticker+node instance history, the source of truth
	// for cooldown checks and for exists() lookups.
	byNode map[string][]*models.StageInstance

	patternSeq int

	// barEnvs caches the expression-environment form of each processed bar
	// so all_bars does not get rebuilt per condition.
	barEnvs []map[string]interface{}

	// reversal charts are built lazily, keyed by window size.
	reversals map[int]*ReversalChart
}

func newSession(ticker string, bars []models.Bar) *session {
	return &session{
		ticker:    ticker,
		bars:      bars,
		byNode:    make(map[string][]*models.StageInstance),
		reversals: make(map[int]*ReversalChart),
	}
}

func (s *session) record(inst *models.StageInstance) {
	s.instances = append(s.instances, inst)
	s.byNode[inst.NodeID] = append(s.byNode[inst.NodeID], inst)
}

// latest returns the most recently opened instance of a node across all
// patterns of the session, or nil.
func (s *session) latest(nodeID string) *models.StageInstance {
	hist := s.byNode[nodeID]
	if len(hist) == 0 {
		return nil
	}
	return hist[len(hist)-1]
}

// exists reports whether any prior instance of a node exists for the ticker.
func (s *session) exists(nodeID string) bool {
	return len(s.byNode[nodeID]) > 0
}

// cooldownBlocked reports whether a new candidate of the node must be
// rejected: an instance is still active, or a completed one started within
// the minimum interval of the candidate day.
func (s *session) cooldownBlocked(nodeID string, candidate time.Time, cooldownDays int) bool {
	interval := time.Duration(cooldownDays) * 24 * time.Hour
	for _, inst := range s.byNode[nodeID] {
		if inst.IsActive() {
			return true
		}
		if candidate.Sub(inst.StartedAt) < interval {
			return true
		}
	}
	return false
}

func (s *session) nextPatternSeq() int {
	s.patternSeq++
	return s.patternSeq
}

// reversalChart returns the session's reversal chart for a window, building
// it on first use from the full bar history.
func (s *session) reversalChart(window int) *ReversalChart {
	if c, ok := s.reversals[window]; ok {
		return c
	}
	c := NewReversalChart(s.bars, window)
	s.reversals[window] = c
	return c
}
