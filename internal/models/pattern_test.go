package models

import (
	"testing"
	"time"
)

var base = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func TestPatternInstanceIDFormat(t *testing.T) {
	p := NewPatternInstance("ACME", base, 2)
	if p.ID != "ACME-20240304-2" {
		t.Errorf("ID = %q", p.ID)
	}
	if id := p.NextInstanceID("block1"); id != "ACME-20240304-2-block1-1" {
		t.Errorf("NextInstanceID = %q", id)
	}
}

func TestPatternAttachAndLevel(t *testing.T) {
	p := NewPatternInstance("ACME", base, 1)

	first := &StageInstance{ID: p.NextInstanceID("block1"), NodeID: "block1", StageIndex: 1, Status: StatusActive}
	p.Attach(first)
	second := &StageInstance{ID: p.NextInstanceID("block2"), NodeID: "block2", StageIndex: 2, Status: StatusActive}
	p.Attach(second)

	if p.InstanceSeq != 2 || len(p.All) != 2 {
		t.Errorf("seq=%d all=%d", p.InstanceSeq, len(p.All))
	}
	if p.Live["block1"] != first || p.Live["block2"] != second {
		t.Error("live slots not occupied")
	}
	if p.Level != 2 {
		t.Errorf("Level = %d, want 2", p.Level)
	}
	if second.ID != "ACME-20240304-1-block2-2" {
		t.Errorf("second id = %q", second.ID)
	}

	// Re-occupying a slot replaces the live instance but keeps history.
	replacement := &StageInstance{ID: p.NextInstanceID("block1"), NodeID: "block1", StageIndex: 1, Status: StatusActive}
	p.Attach(replacement)
	if p.Live["block1"] != replacement || len(p.All) != 3 {
		t.Error("slot replacement broken")
	}
}

func TestPatternCompleteAndActive(t *testing.T) {
	p := NewPatternInstance("ACME", base, 1)
	if p.Complete() {
		t.Error("empty pattern must not be complete")
	}

	a := &StageInstance{ID: "a", NodeID: "block1", Status: StatusActive}
	b := &StageInstance{ID: "b", NodeID: "block2", Status: StatusCompleted}
	p.Attach(a)
	p.Attach(b)

	if p.Complete() {
		t.Error("pattern with an active instance must not be complete")
	}
	if got := p.ActiveInstances(); len(got) != 1 || got[0] != a {
		t.Errorf("ActiveInstances = %v", got)
	}

	a.Status = StatusFailed
	if !p.Complete() {
		t.Error("all instances closed, pattern should be complete")
	}
	if got := p.ActiveInstances(); len(got) != 0 {
		t.Errorf("ActiveInstances = %v", got)
	}
}

func TestStageInstanceStateHelpers(t *testing.T) {
	inst := &StageInstance{Status: StatusActive}
	if !inst.IsActive() || inst.Closed() {
		t.Error("active instance misreported")
	}
	inst.Status = StatusFailed
	if inst.IsActive() || !inst.Closed() {
		t.Error("failed instance misreported")
	}

	if inst.MetaFlag("backward_spot") {
		t.Error("unset meta flag reported true")
	}
	inst.SetMeta("backward_spot", "true")
	if !inst.MetaFlag("backward_spot") {
		t.Error("meta flag not set")
	}
}

func TestActiveRedetection(t *testing.T) {
	inst := &StageInstance{ID: "i1", Status: StatusCompleted}
	if inst.ActiveRedetection() != nil {
		t.Error("no events, no active redetection")
	}

	done := base
	closed := &RedetectionEvent{ID: "i1-rd1", Seq: 1, Status: RedetectionCompleted, EndedAt: &done}
	open := &RedetectionEvent{ID: "i1-rd2", Seq: 2, Status: RedetectionActive}
	inst.Redetections = []*RedetectionEvent{closed, open}

	if got := inst.ActiveRedetection(); got != open {
		t.Errorf("ActiveRedetection = %v, want the open event", got)
	}
}

func TestReferenceView(t *testing.T) {
	inst := &StageInstance{StartedAt: base, EntryClose: 100, PeakPrice: 150}
	var ref Reference = inst
	if !ref.RefStartedAt().Equal(base) || ref.RefEntryClose() != 100 || ref.RefPeakPrice() != 150 {
		t.Error("reference view mismatch")
	}
}
