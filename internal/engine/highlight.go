package engine

import (
	"sort"

	"surge-scanner/internal/graph"
	"surge-scanner/internal/models"
)

// Metadata keys consulted by the highlight classifier.
const (
	MetaBackwardSpot    = "backward_spot"
	MetaCustomHighlight = "highlight"
)

// FindHighlights selects the structurally significant instances of a finished
// pattern. Qualifying instances are ordered by start date ascending; the
// first is the primary highlight (the pattern's anchor), the rest are
// secondary. A disabled rule yields no highlights.
func FindHighlights(instances []*models.StageInstance, rule *graph.HighlightRule) []models.Highlight {
	if rule == nil || !rule.Enabled {
		return nil
	}

	var qualified []*models.StageInstance
	for _, inst := range instances {
		if qualifies(inst, rule) {
			qualified = append(qualified, inst)
		}
	}
	if len(qualified) == 0 {
		return nil
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		if qualified[i].StartedAt.Equal(qualified[j].StartedAt) {
			return qualified[i].ID < qualified[j].ID
		}
		return qualified[i].StartedAt.Before(qualified[j].StartedAt)
	})

	highlights := make([]models.Highlight, 0, len(qualified))
	for i, inst := range qualified {
		rank := models.HighlightSecondary
		if i == 0 {
			rank = models.HighlightPrimary
		}
		highlights = append(highlights, models.Highlight{
			InstanceID: inst.ID,
			NodeID:     inst.NodeID,
			PatternID:  inst.PatternID,
			Ticker:     inst.Ticker,
			Rank:       rank,
			RuleType:   string(rule.Type),
			SpotCount:  inst.SpotCount(),
			StartedAt:  inst.StartedAt,
		})
	}
	return highlights
}

func qualifies(inst *models.StageInstance, rule *graph.HighlightRule) bool {
	switch rule.Type {
	case graph.HighlightForwardSpot:
		return inst.SpotCount() >= rule.RequiredSpots
	case graph.HighlightBackwardSpot:
		return inst.MetaFlag(MetaBackwardSpot)
	case graph.HighlightCustom:
		return inst.MetaFlag(MetaCustomHighlight)
	default:
		return false
	}
}

// HasHighlight reports whether any instance qualifies under the rule.
func HasHighlight(instances []*models.StageInstance, rule *graph.HighlightRule) bool {
	return len(FindHighlights(instances, rule)) > 0
}

// CountHighlights returns the number of qualifying instances under the rule.
func CountHighlights(instances []*models.StageInstance, rule *graph.HighlightRule) int {
	return len(FindHighlights(instances, rule))
}
