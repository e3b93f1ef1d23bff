package engine

import (
	"surge-scanner/internal/models"
)

// LevelReport is the support/resistance analysis of one finished pattern
// against its reference instance.
type LevelReport struct {
	PatternID     string
	ReferenceID   string
	ReferenceHigh float64
	ReferenceLow  float64

	Classifications []models.LevelClassification
	Retests         []models.RetestEvent
	Flips           []models.FlipEvent
}

// Result is the complete, pure output of one ticker scan. The scan performs
// no I/O; callers persist the result through a Recorder at whatever emission
// granularity they need, and replays converge because every record carries a
// stable id.
type Result struct {
	Ticker string

	Patterns     []*models.PatternInstance
	Instances    []*models.StageInstance
	Redetections []*models.RedetectionEvent
	Highlights   []models.Highlight
	Levels       []*LevelReport

	// EvalFailures counts failed condition evaluations by condition label.
	// Failures are fail-closed and never abort a scan.
	EvalFailures map[string]int
}

func buildResult(sess *session, ev *evaluator) *Result {
	return &Result{
		Ticker:       sess.ticker,
		Patterns:     sess.patterns,
		Instances:    sess.instances,
		Redetections: sess.redetections,
		EvalFailures: ev.failures,
	}
}
