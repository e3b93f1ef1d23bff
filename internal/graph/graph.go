// Package graph provides the validated stage-graph configuration that drives
// the detection engine: stage nodes, their condition expressions, and the
// parent/child edges forming a DAG rooted at a single node.
package graph

import (
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"surge-scanner/internal/config"
	"surge-scanner/internal/errors"
)

// Condition is a single boolean expression with a stable label. Exit
// conditions carry extra close semantics: Backdate closes the instance on the
// previous trading day (existence-style exits), MarksFailed closes it with
// the failed status instead of completed.
type Condition struct {
	Label       string
	Expr        string
	Backdate    bool
	MarksFailed bool

	program *vm.Program
}

// Program returns the compiled expression. It is non-nil after graph
// validation succeeds.
func (c *Condition) Program() *vm.Program {
	return c.program
}

// HighlightRuleType selects the qualification test used by the highlight
// classifier.
type HighlightRuleType string

const (
	HighlightForwardSpot  HighlightRuleType = "forward_spot"
	HighlightBackwardSpot HighlightRuleType = "backward_spot"
	HighlightCustom       HighlightRuleType = "custom"
)

// HighlightRule configures anchor selection for a finished pattern.
type HighlightRule struct {
	Type          HighlightRuleType
	Enabled       bool
	Priority      int
	RequiredSpots int
}

// Params holds per-stage numeric parameters. A zero value means "unset"; the
// configured fallback policy decides whether an unset value inherits the root
// node's value or fails validation.
type Params struct {
	VolumeRatio         float64 // entry volume vs previous day
	AncestorVolumeRatio float64 // entry volume vs ancestor peak volume
	PriceMargin         float64 // entry low margin vs ancestor peak price
	SpotVolumeRatio     float64 // forward-spot volume vs previous day
	RedetectDropRatio   float64 // redetection entry close vs parent peak
}

// StageNode describes one stage of a detection chain. Nodes are owned by the
// stage graph and are read-only during scanning.
type StageNode struct {
	ID         string
	StageIndex int

	// Entry conditions are ANDed; exit conditions are ORed in declared order
	// and the first true one wins.
	Entry []*Condition
	Exit  []*Condition

	RedetectEntry []*Condition
	RedetectExit  []*Condition

	Spot      *Condition
	Highlight *HighlightRule

	// Candle-distance bounds from the parent instance's start, measured in
	// trading days. Zero means unbounded.
	MinCandlesFromParent int
	MaxCandlesFromParent int

	// Lookback-window bounds, measured backward from the candidate day to
	// the parent instance's start. Zero means unbounded.
	LookbackMin int
	LookbackMax int

	// SingleChildSlot forces the parent instance closed when a child opens.
	SingleChildSlot bool

	Params Params
}

// StageGraph is the validated stage configuration. It is loaded once per run
// and shared read-only across all tickers and patterns.
type StageGraph struct {
	RootID   string
	Nodes    map[string]*StageNode
	Children map[string][]string

	parents map[string][]string
}

// Root returns the root node.
func (g *StageGraph) Root() *StageNode {
	return g.Nodes[g.RootID]
}

// Node returns the node with the given id, or nil.
func (g *StageGraph) Node(id string) *StageNode {
	return g.Nodes[id]
}

// ChildrenOf returns the child node ids of a node.
func (g *StageGraph) ChildrenOf(id string) []string {
	return g.Children[id]
}

// ParentsOf returns the parent node ids of a node. Valid after validation.
func (g *StageGraph) ParentsOf(id string) []string {
	return g.parents[id]
}

// Validate checks structure, applies the parameter fallback policy and
// compiles every condition expression. It must be called (and succeed)
// before the graph is handed to a scanner.
func (g *StageGraph) Validate(fallback string) error {
	if g.RootID == "" {
		return errors.NewConfigurationError("", "root", "root node id is empty", nil)
	}
	root, ok := g.Nodes[g.RootID]
	if !ok {
		return errors.NewConfigurationError(g.RootID, "root", "root node not defined", errors.ErrUnknownNode)
	}

	// Edge targets must exist.
	for parent, children := range g.Children {
		if _, ok := g.Nodes[parent]; !ok {
			return errors.NewConfigurationError(parent, "children", "edge from unknown node", errors.ErrUnknownNode)
		}
		for _, child := range children {
			if _, ok := g.Nodes[child]; !ok {
				return errors.NewConfigurationError(parent, "children", "edge to unknown node "+child, errors.ErrUnknownNode)
			}
		}
	}

	g.buildParents()

	if err := g.checkAcyclic(); err != nil {
		return err
	}
	if err := g.checkReachable(); err != nil {
		return err
	}

	for id, node := range g.Nodes {
		if node.ID == "" {
			node.ID = id
		}
		if len(node.Entry) == 0 {
			return errors.NewConfigurationError(id, "entry", "entry conditions required", errors.ErrEmptyConditions)
		}
		if len(node.RedetectEntry) > 0 && len(node.RedetectExit) == 0 {
			return errors.NewConfigurationError(id, "redetect_exit", "redetection exit conditions required when redetection entry is set", errors.ErrEmptyConditions)
		}
		if node.MaxCandlesFromParent > 0 && node.MaxCandlesFromParent < node.MinCandlesFromParent {
			return errors.NewConfigurationError(id, "candle_distance", "max candle distance below min", errors.ErrConfigInvalid)
		}
		if node.LookbackMax > 0 && node.LookbackMax < node.LookbackMin {
			return errors.NewConfigurationError(id, "lookback", "lookback max below min", errors.ErrConfigInvalid)
		}
		if id != g.RootID {
			if err := applyFallback(id, &node.Params, root.Params, fallback); err != nil {
				return err
			}
		}
		if err := compileNode(node); err != nil {
			return err
		}
	}

	return nil
}

func (g *StageGraph) buildParents() {
	g.parents = make(map[string][]string)
	for parent, children := range g.Children {
		for _, child := range children {
			g.parents[child] = append(g.parents[child], parent)
		}
	}
	// Deterministic parent order regardless of map iteration.
	for _, parents := range g.parents {
		sort.Strings(parents)
	}
}

// checkAcyclic runs a coloring DFS over the child edges.
func (g *StageGraph) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return errors.NewConfigurationError(id, "children", "cycle through node", errors.ErrGraphCycle)
		case black:
			return nil
		}
		color[id] = grey
		for _, child := range g.Children[id] {
			if err := visit(child); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.Nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func (g *StageGraph) checkReachable() error {
	seen := map[string]bool{g.RootID: true}
	queue := []string{g.RootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range g.Children[id] {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	for id := range g.Nodes {
		if !seen[id] {
			return errors.NewConfigurationError(id, "children", "node not reachable from root", errors.ErrConfigInvalid)
		}
	}
	return nil
}

func applyFallback(nodeID string, params *Params, root Params, policy string) error {
	type field struct {
		name string
		dst  *float64
		src  float64
	}
	fields := []field{
		{"volume_ratio", &params.VolumeRatio, root.VolumeRatio},
		{"ancestor_volume_ratio", &params.AncestorVolumeRatio, root.AncestorVolumeRatio},
		{"price_margin", &params.PriceMargin, root.PriceMargin},
		{"spot_volume_ratio", &params.SpotVolumeRatio, root.SpotVolumeRatio},
		{"redetect_drop_ratio", &params.RedetectDropRatio, root.RedetectDropRatio},
	}
	for _, f := range fields {
		if *f.dst != 0 || f.src == 0 {
			continue
		}
		switch policy {
		case config.FallbackInheritRoot:
			*f.dst = f.src
		case config.FallbackStrict:
			return errors.NewConfigurationError(nodeID, f.name, "parameter unset and fallback policy is strict", errors.ErrConfigInvalid)
		default:
			return errors.NewConfigurationError(nodeID, f.name, "unknown parameter fallback policy "+policy, errors.ErrConfigInvalid)
		}
	}
	return nil
}

func compileNode(node *StageNode) error {
	lists := map[string][]*Condition{
		"entry":          node.Entry,
		"exit":           node.Exit,
		"redetect_entry": node.RedetectEntry,
		"redetect_exit":  node.RedetectExit,
	}
	for field, conds := range lists {
		for _, c := range conds {
			if err := compileCondition(c); err != nil {
				return errors.NewConfigurationError(node.ID, field, "compiling "+c.Label, err)
			}
		}
	}
	if node.Spot != nil {
		if err := compileCondition(node.Spot); err != nil {
			return errors.NewConfigurationError(node.ID, "spot", "compiling "+node.Spot.Label, err)
		}
	}
	return nil
}

func compileCondition(c *Condition) error {
	if c.Expr == "" {
		return errors.ErrEmptyConditions
	}
	program, err := expr.Compile(c.Expr, expr.AllowUndefinedVariables())
	if err != nil {
		return err
	}
	c.program = program
	return nil
}
