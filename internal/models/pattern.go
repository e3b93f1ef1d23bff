package models

import (
	"fmt"
	"time"
)

// PatternInstance is one full detection chain: a root stage instance plus all
// of its descendants. The live map holds at most one instance per node; echo
// occurrences (spots) never occupy a node slot.
type PatternInstance struct {
	ID        string
	Ticker    string
	CreatedAt time.Time
	Seq       int

	// Live maps node id to the instance currently occupying that slot.
	// All holds every instance ever created for the pattern, in creation order.
	Live map[string]*StageInstance
	All  []*StageInstance

	// Level is the highest stage index reached; InstanceSeq numbers the
	// instances created within this pattern.
	Level       int
	InstanceSeq int

	Highlight *Highlight
}

// NewPatternInstance creates an empty pattern for a ticker.
func NewPatternInstance(ticker string, created time.Time, seq int) *PatternInstance {
	return &PatternInstance{
		ID:        fmt.Sprintf("%s-%s-%d", ticker, created.Format("20060102"), seq),
		Ticker:    ticker,
		CreatedAt: created,
		Seq:       seq,
		Live:      make(map[string]*StageInstance),
	}
}

// Attach registers an instance with the pattern and occupies its node slot.
func (p *PatternInstance) Attach(inst *StageInstance) {
	p.InstanceSeq++
	p.Live[inst.NodeID] = inst
	p.All = append(p.All, inst)
	if inst.StageIndex > p.Level {
		p.Level = inst.StageIndex
	}
}

// NextInstanceID returns the id for the next instance of a node in this pattern.
func (p *PatternInstance) NextInstanceID(nodeID string) string {
	return fmt.Sprintf("%s-%s-%d", p.ID, nodeID, p.InstanceSeq+1)
}

// Complete reports whether every instance owned by the pattern has closed.
func (p *PatternInstance) Complete() bool {
	if len(p.All) == 0 {
		return false
	}
	for _, inst := range p.All {
		if !inst.Closed() {
			return false
		}
	}
	return true
}

// ActiveInstances returns the currently open instances, in creation order.
func (p *PatternInstance) ActiveInstances() []*StageInstance {
	var out []*StageInstance
	for _, inst := range p.All {
		if inst.IsActive() {
			out = append(out, inst)
		}
	}
	return out
}

// HighlightRank orders highlights within a pattern.
type HighlightRank int

const (
	HighlightPrimary   HighlightRank = 1
	HighlightSecondary HighlightRank = 2
)

// Highlight marks a structurally significant instance within a finished
// pattern. The primary highlight is the pattern's anchor.
type Highlight struct {
	InstanceID string
	NodeID     string
	PatternID  string
	Ticker     string
	Rank       HighlightRank
	RuleType   string
	SpotCount  int
	StartedAt  time.Time
}

// LevelClass classifies a later instance's peak against a reference level.
type LevelClass string

const (
	LevelStrongSupport LevelClass = "strong_support"
	LevelWeakSupport   LevelClass = "weak_support"
	LevelBroken        LevelClass = "broken"
)

// LevelClassification records how a later instance's peak relates to the
// reference instance's high/low range.
type LevelClassification struct {
	InstanceID    string
	ReferenceID   string
	Ticker        string
	Class         LevelClass
	PeakPrice     float64
	ReferenceHigh float64
	ReferenceLow  float64
}

// RetestEvent records a day on which price returned to within tolerance of
// the reference high after having moved away from it.
type RetestEvent struct {
	InstanceID string
	Ticker     string
	Date       time.Time
	Price      float64
	Level      float64
}

// FlipEvent records a resistance-to-support flip: a breakout close above the
// reference high by one instance, confirmed by a later instance whose lows
// held at or above that level.
type FlipEvent struct {
	BreakoutID string
	ConfirmID  string
	Ticker     string
	Level      float64
	Date       time.Time
}
