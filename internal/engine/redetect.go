package engine

import (
	"fmt"

	"surge-scanner/internal/logging"
	"surge-scanner/internal/models"
)

// redetectStep advances the post-closure re-entry state machine. For every
// completed instance whose node declares redetection rules, and strictly
// after its end date: open a new redetection event when no event is active
// and the entry expressions hold; while one is active, track its peak and
// close it on the first exit expression that holds. Sequence numbers are
// gapless per parent and never more than one event is active at a time.
func (s *Scanner) redetectStep(sess *session, ev *evaluator, idx int) {
	bar := sess.bars[idx]

	for _, inst := range sess.instances {
		node := s.graph.Node(inst.NodeID)
		if node == nil || len(node.RedetectEntry) == 0 {
			continue
		}
		if !inst.Closed() || inst.EndedAt == nil || !bar.Date.After(*inst.EndedAt) {
			continue
		}

		active := inst.ActiveRedetection()
		if active == nil {
			s.redetectEntry(sess, ev, inst, idx)
			continue
		}
		s.redetectUpdate(sess, ev, inst, active, idx)
	}
}

func (s *Scanner) redetectEntry(sess *session, ev *evaluator, inst *models.StageInstance, idx int) {
	node := s.graph.Node(inst.NodeID)
	scope := &evalScope{sess: sess, g: s.graph, cfg: s.cfg, idx: idx, parent: inst}
	if !ev.allTrue(node.RedetectEntry, scope.Env()) {
		return
	}

	bar := sess.bars[idx]
	seq := len(inst.Redetections) + 1
	event := &models.RedetectionEvent{
		ID:         fmt.Sprintf("%s-rd%d", inst.ID, seq),
		Seq:        seq,
		ParentID:   inst.ID,
		Ticker:     inst.Ticker,
		StartedAt:  bar.Date,
		PeakPrice:  bar.High,
		PeakVolume: bar.Volume,
		Status:     models.RedetectionActive,
	}
	inst.Redetections = append(inst.Redetections, event)
	sess.redetections = append(sess.redetections, event)
	logging.LogRedetection(logging.WithTicker(s.logger, inst.Ticker), inst.ID, seq, "open", bar.Date)
}

func (s *Scanner) redetectUpdate(sess *session, ev *evaluator, inst *models.StageInstance, event *models.RedetectionEvent, idx int) {
	bar := sess.bars[idx]
	if bar.High > event.PeakPrice {
		event.PeakPrice = bar.High
	}
	if bar.Volume > event.PeakVolume {
		event.PeakVolume = bar.Volume
	}

	node := s.graph.Node(inst.NodeID)
	scope := &evalScope{sess: sess, g: s.graph, cfg: s.cfg, idx: idx, parent: inst, redetect: event}
	if _, ok := ev.firstTrue(node.RedetectExit, scope.Env()); !ok {
		return
	}

	ended := bar.Date
	event.EndedAt = &ended
	event.Status = models.RedetectionCompleted
	logging.LogRedetection(logging.WithTicker(s.logger, inst.Ticker), inst.ID, event.Seq, "close", bar.Date)
}
