// Package store provides persistence for detection records.
package store

import (
	"context"
	"time"

	"surge-scanner/internal/models"
)

// Recorder is the persistence collaborator the engine's output is handed to.
// Every save is an idempotent upsert keyed by the record's stable id, so
// at-least-once delivery from the caller converges to the same final state.
type Recorder interface {
	SavePattern(ctx context.Context, pattern *models.PatternInstance) error
	SaveInstance(ctx context.Context, instance *models.StageInstance) error
	SaveRedetection(ctx context.Context, event *models.RedetectionEvent) error
	SaveHighlight(ctx context.Context, highlight models.Highlight) error
	SaveClassification(ctx context.Context, c models.LevelClassification) error
	SaveRetest(ctx context.Context, e models.RetestEvent) error
	SaveFlip(ctx context.Context, e models.FlipEvent) error

	GetInstances(ctx context.Context, filter InstanceFilter) ([]models.StageInstance, error)
	GetPatterns(ctx context.Context, ticker string) ([]models.PatternInstance, error)
	GetRedetections(ctx context.Context, parentID string) ([]models.RedetectionEvent, error)
	GetHighlights(ctx context.Context, ticker string) ([]models.Highlight, error)

	Close() error
}

// InstanceFilter selects stage instances for range queries.
type InstanceFilter struct {
	Ticker    string
	NodeID    string
	PatternID string
	Status    models.InstanceStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
