package engine

import (
	"fmt"
	"time"

	"surge-scanner/internal/config"
	"surge-scanner/internal/errors"
	"surge-scanner/internal/graph"
	"surge-scanner/internal/models"
)

// evalScope assembles the environment a condition expression is evaluated
// against: the current and previous bar, the full bar history, the named
// stage instances reachable by node id, and, during redetection and exit
// evaluation, the parent instance and the active redetection event.
type evalScope struct {
	sess *session
	g    *graph.StageGraph
	cfg  config.EngineConfig

	idx      int
	pattern  *models.PatternInstance
	parent   *models.StageInstance
	redetect *models.RedetectionEvent
}

func (sc *evalScope) bar() models.Bar {
	return sc.sess.bars[sc.idx]
}

// lookup resolves a node id to an instance: the pattern's live slot first,
// then the session-wide latest occurrence.
func (sc *evalScope) lookup(nodeID string) *models.StageInstance {
	if sc.pattern != nil {
		if inst, ok := sc.pattern.Live[nodeID]; ok {
			return inst
		}
	}
	return sc.sess.latest(nodeID)
}

// Env builds the expression environment for the current bar.
func (sc *evalScope) Env() map[string]interface{} {
	cur := sc.bar()

	env := map[string]interface{}{
		"date":     cur.Date,
		"open":     cur.Open,
		"high":     cur.High,
		"low":      cur.Low,
		"close":    cur.Close,
		"volume":   float64(cur.Volume),
		"current":  sc.sess.barEnvs[sc.idx],
		"all_bars": sc.sess.barEnvs[:sc.idx+1],
	}
	if sc.idx > 0 {
		env["prev"] = sc.sess.barEnvs[sc.idx-1]
		env["prev_close"] = sc.sess.bars[sc.idx-1].Close
	}

	// Named instances: the pattern's live slots win over session history.
	for nodeID := range sc.g.Nodes {
		if inst := sc.lookup(nodeID); inst != nil {
			env[nodeID] = instanceEnv(inst)
		}
	}
	if sc.parent != nil {
		env["parent_block"] = instanceEnv(sc.parent)
	}
	if sc.redetect != nil {
		env["active_redetection"] = redetectionEnv(sc.redetect)
	}

	env["ma"] = sc.fnMA
	env["volume_ma"] = sc.fnVolumeMA
	env["ind"] = sc.fnIndicator
	env["exists"] = sc.fnExists
	env["is_forward_spot"] = sc.fnForwardSpot
	env["is_price_doubling_surge"] = sc.fnDoublingSurge
	env["first_down_reversal"] = sc.fnFirstDownReversal

	return env
}

func barEnv(b models.Bar) map[string]interface{} {
	return map[string]interface{}{
		"date":       b.Date,
		"open":       b.Open,
		"high":       b.High,
		"low":        b.Low,
		"close":      b.Close,
		"volume":     float64(b.Volume),
		"indicators": b.Indicators,
	}
}

func instanceEnv(inst *models.StageInstance) map[string]interface{} {
	env := map[string]interface{}{
		"instance_id": inst.ID,
		"node_id":     inst.NodeID,
		"stage_index": inst.StageIndex,
		"status":      string(inst.Status),
		"started_at":  inst.StartedAt,
		"entry_close": inst.EntryClose,
		"exit_close":  inst.ExitClose,
		"peak_price":  inst.PeakPrice,
		"peak_volume": float64(inst.PeakVolume),
		"spot_count":  inst.SpotCount(),
	}
	if inst.EndedAt != nil {
		env["ended_at"] = *inst.EndedAt
	}
	if inst.PeakDate != nil {
		env["peak_date"] = *inst.PeakDate
	}
	return env
}

func redetectionEnv(r *models.RedetectionEvent) map[string]interface{} {
	env := map[string]interface{}{
		"seq":         r.Seq,
		"parent_id":   r.ParentID,
		"status":      string(r.Status),
		"started_at":  r.StartedAt,
		"peak_price":  r.PeakPrice,
		"peak_volume": float64(r.PeakVolume),
	}
	if r.EndedAt != nil {
		env["ended_at"] = *r.EndedAt
	}
	return env
}

// fnMA is the ma(period) builtin: the pre-computed price moving average.
func (sc *evalScope) fnMA(period interface{}) (float64, error) {
	return sc.indicator(graph.KindMA, period)
}

// fnVolumeMA is the volume_ma(period) builtin.
func (sc *evalScope) fnVolumeMA(period interface{}) (float64, error) {
	return sc.indicator(graph.KindVolumeMA, period)
}

// fnIndicator is the generic ind(kind, period) builtin.
func (sc *evalScope) fnIndicator(kind string, period interface{}) (float64, error) {
	k, ok := graph.KindFromString(kind)
	if !ok {
		return 0, errors.Wrapf(errors.ErrIndicatorMissing, "unknown indicator kind %q", kind)
	}
	return sc.indicator(k, period)
}

func (sc *evalScope) indicator(kind graph.IndicatorKind, period interface{}) (float64, error) {
	p, err := asInt(period)
	if err != nil {
		return 0, err
	}
	key := graph.IndicatorKey{Kind: kind, Period: p}
	v, ok := graph.LookupIndicator(sc.bar(), key)
	if !ok {
		return 0, errors.Wrapf(errors.ErrIndicatorMissing, "%s on %s", key.Name(), sc.bar().Date.Format("2006-01-02"))
	}
	return v, nil
}

// fnExists is the exists(node_id) builtin: true when some prior instance of
// the stage exists for the ticker.
func (sc *evalScope) fnExists(nodeID string) bool {
	if sc.pattern != nil {
		if _, ok := sc.pattern.Live[nodeID]; ok {
			return true
		}
	}
	return sc.sess.exists(nodeID)
}

// fnForwardSpot is the is_forward_spot(node_id, offset_start, offset_end)
// builtin: true only on days strictly after the instance's start, within
// [started_at+offset_start, started_at+offset_end] trading days, when the
// day's volume exceeds the previous day's by the configured ratio.
func (sc *evalScope) fnForwardSpot(nodeID string, offsetStart, offsetEnd interface{}) (bool, error) {
	inst := sc.lookup(nodeID)
	if inst == nil {
		return false, errors.Wrapf(errors.ErrInstanceMissing, "node %s", nodeID)
	}
	start, err := asInt(offsetStart)
	if err != nil {
		return false, err
	}
	end, err := asInt(offsetEnd)
	if err != nil {
		return false, err
	}

	dist := sc.idx - inst.StartIndex
	if dist <= 0 || dist < start || dist > end {
		return false, nil
	}
	if sc.idx == 0 {
		return false, errors.ErrBarMissing
	}

	ratio := sc.cfg.ForwardSpotVolumeRatio
	if node := sc.g.Node(nodeID); node != nil && node.Params.SpotVolumeRatio > 0 {
		ratio = node.Params.SpotVolumeRatio
	}
	prev := sc.sess.bars[sc.idx-1]
	return float64(sc.bar().Volume) >= ratio*float64(prev.Volume), nil
}

// fnDoublingSurge is the is_price_doubling_surge(node_id) builtin: true when
// the day's high reaches peak_price + (peak_price - entry_close), i.e. the
// instance's prior rise repeated on top of its peak.
func (sc *evalScope) fnDoublingSurge(nodeID string) (bool, error) {
	inst := sc.lookup(nodeID)
	if inst == nil {
		return false, errors.Wrapf(errors.ErrInstanceMissing, "node %s", nodeID)
	}
	var ref models.Reference = inst
	target := ref.RefPeakPrice() + (ref.RefPeakPrice() - ref.RefEntryClose())
	return sc.bar().High >= target, nil
}

// fnFirstDownReversal reports whether the current day is the first down
// reversal bar on or after the instance's start on the reversal chart.
func (sc *evalScope) fnFirstDownReversal(nodeID string) (bool, error) {
	inst := sc.lookup(nodeID)
	if inst == nil {
		return false, errors.Wrapf(errors.ErrInstanceMissing, "node %s", nodeID)
	}
	chart := sc.sess.reversalChart(sc.cfg.ReversalWindow)
	date, ok := chart.FirstDownReversalOnOrAfter(inst.StartedAt)
	if !ok {
		return false, nil
	}
	return sameDay(date, sc.bar().Date), nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected numeric argument, got %T", v)
	}
}
