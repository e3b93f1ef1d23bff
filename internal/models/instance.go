package models

import (
	"time"
)

// RedetectionEvent is a secondary entry/exit sub-event that occurs after its
// parent stage instance has closed. Sequence numbers are 1-based, strictly
// increasing and gapless per parent; at most one event per parent is active
// at any time.
type RedetectionEvent struct {
	ID         string
	Seq        int
	ParentID   string
	Ticker     string
	StartedAt  time.Time
	EndedAt    *time.Time
	PeakPrice  float64
	PeakVolume int64
	Status     RedetectionStatus
}

// IsActive reports whether the event is still open.
func (r *RedetectionEvent) IsActive() bool {
	return r.Status == RedetectionActive
}

// StageInstance is one concrete detected occurrence of a stage.
//
// Invariants: PeakPrice and PeakVolume are monotonically non-decreasing while
// the instance is active and frozen once closed; StartedAt <= EndedAt when
// EndedAt is set; a closed instance never re-enters the active state.
type StageInstance struct {
	ID         string
	NodeID     string
	StageIndex int
	Ticker     string
	PatternID  string

	StartedAt time.Time
	EndedAt   *time.Time
	Status    InstanceStatus
	ExitReason string

	// EntryClose is the close of the bar that opened the instance.
	// ExitClose is the close of the bar the instance was closed on.
	EntryClose float64
	ExitClose  float64

	PeakPrice  float64
	PeakVolume int64
	PeakDate   *time.Time

	// StartIndex/EndIndex locate the active span in the scanned bar slice.
	StartIndex int
	EndIndex   int

	ParentIDs    []string
	Spots        []Spot
	Redetections []*RedetectionEvent

	Meta map[string]string
}

// IsActive reports whether the instance is still open.
func (s *StageInstance) IsActive() bool {
	return s.Status == StatusActive
}

// Closed reports whether the instance reached a terminal state.
func (s *StageInstance) Closed() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// SpotCount returns the number of spots attached to the instance.
func (s *StageInstance) SpotCount() int {
	return len(s.Spots)
}

// ActiveRedetection returns the currently open redetection event, if any.
func (s *StageInstance) ActiveRedetection() *RedetectionEvent {
	for _, r := range s.Redetections {
		if r.IsActive() {
			return r
		}
	}
	return nil
}

// MetaFlag reports whether a metadata key is set to "true".
func (s *StageInstance) MetaFlag(key string) bool {
	return s.Meta[key] == "true"
}

// SetMeta records a metadata key/value pair.
func (s *StageInstance) SetMeta(key, value string) {
	if s.Meta == nil {
		s.Meta = make(map[string]string)
	}
	s.Meta[key] = value
}

// RefStartedAt implements Reference.
func (s *StageInstance) RefStartedAt() time.Time { return s.StartedAt }

// RefEntryClose implements Reference.
func (s *StageInstance) RefEntryClose() float64 { return s.EntryClose }

// RefPeakPrice implements Reference.
func (s *StageInstance) RefPeakPrice() float64 { return s.PeakPrice }
