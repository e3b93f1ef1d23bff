package graph

import (
	"fmt"
	"testing"

	"surge-scanner/internal/config"
	"surge-scanner/internal/errors"
)

func TestNewLegacyGraphStageCountBounds(t *testing.T) {
	for _, stages := range []int{0, 1, 2, 7, 10} {
		if _, err := NewLegacyGraph(stages, DefaultLegacyParams()); !errors.Is(err, errors.ErrConfigInvalid) {
			t.Errorf("stages=%d should be rejected, got %v", stages, err)
		}
	}
	for stages := 3; stages <= 6; stages++ {
		g, err := NewLegacyGraph(stages, DefaultLegacyParams())
		if err != nil {
			t.Fatalf("stages=%d: %v", stages, err)
		}
		if len(g.Nodes) != stages {
			t.Errorf("stages=%d: %d nodes", stages, len(g.Nodes))
		}
		if err := g.Validate(config.FallbackInheritRoot); err != nil {
			t.Errorf("stages=%d: Validate: %v", stages, err)
		}
	}
}

func TestLegacyGraphShape(t *testing.T) {
	p := DefaultLegacyParams()
	g, err := NewLegacyGraph(4, p)
	if err != nil {
		t.Fatalf("NewLegacyGraph: %v", err)
	}
	if err := g.Validate(config.FallbackInheritRoot); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if g.RootID != "block1" {
		t.Errorf("root = %s", g.RootID)
	}

	// Linear chain block1 -> block2 -> block3 -> block4.
	for i := 1; i < 4; i++ {
		parent := fmt.Sprintf("block%d", i)
		child := fmt.Sprintf("block%d", i+1)
		children := g.ChildrenOf(parent)
		if len(children) != 1 || children[0] != child {
			t.Errorf("ChildrenOf(%s) = %v, want [%s]", parent, children, child)
		}
		if got := g.ParentsOf(child); len(got) != 1 || got[0] != parent {
			t.Errorf("ParentsOf(%s) = %v, want [%s]", child, got, parent)
		}
	}

	root := g.Root()
	if len(root.Entry) != 7 {
		t.Errorf("root entry criteria = %d, want 7", len(root.Entry))
	}
	if root.Highlight == nil || root.Highlight.Type != HighlightForwardSpot || root.Highlight.RequiredSpots != p.RequiredSpots {
		t.Errorf("root highlight rule = %+v", root.Highlight)
	}
	if root.MinCandlesFromParent != 0 || root.MaxCandlesFromParent != 0 {
		t.Error("root must not carry parent-distance bounds")
	}

	for i := 2; i <= 4; i++ {
		node := g.Node(fmt.Sprintf("block%d", i))
		if node.StageIndex != i {
			t.Errorf("block%d stage index = %d", i, node.StageIndex)
		}
		// The two ancestor checks join the seven shared criteria.
		if len(node.Entry) != 9 {
			t.Errorf("block%d entry criteria = %d, want 9", i, len(node.Entry))
		}
		if node.MinCandlesFromParent != p.MinStageGap || node.MaxCandlesFromParent != p.MaxStageGap {
			t.Errorf("block%d bounds = %d..%d", i, node.MinCandlesFromParent, node.MaxCandlesFromParent)
		}
		if !node.SingleChildSlot {
			t.Errorf("block%d should force-close on succession", i)
		}
		if node.Highlight != nil {
			t.Errorf("block%d should not carry a highlight rule", i)
		}
	}

	for id, node := range g.Nodes {
		if len(node.RedetectEntry) == 0 || len(node.RedetectExit) == 0 {
			t.Errorf("%s missing redetection rules", id)
		}
		if node.Spot == nil {
			t.Errorf("%s missing spot rule", id)
		}
		if len(node.Exit) != 1 || node.Exit[0].Label != "ma_break" {
			t.Errorf("%s exits = %v", id, node.Exit)
		}
	}
}

func TestLegacyGraphOptionalRules(t *testing.T) {
	p := DefaultLegacyParams()
	p.ReversalExit = true
	p.RedetectDropRatio = 0
	p.SpotOffsetEnd = 0
	p.RequiredSpots = 0

	g, err := NewLegacyGraph(3, p)
	if err != nil {
		t.Fatalf("NewLegacyGraph: %v", err)
	}
	if err := g.Validate(config.FallbackInheritRoot); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	root := g.Root()
	if len(root.Exit) != 2 || root.Exit[1].Label != "first_reversal" {
		t.Fatalf("exits = %v, want ma_break then first_reversal", root.Exit)
	}
	if !root.Exit[1].Backdate {
		t.Error("the reversal exit should back-date the close")
	}
	if root.RedetectEntry != nil {
		t.Error("zero drop ratio should disable redetection")
	}
	if root.Spot != nil {
		t.Error("zero spot window should disable spots")
	}
	if root.Highlight != nil {
		t.Error("zero required spots should disable the highlight rule")
	}
}
