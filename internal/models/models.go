// Package models provides domain models for the surge detection engine.
package models

import (
	"time"
)

// InstanceStatus represents the lifecycle state of a stage instance.
type InstanceStatus string

const (
	StatusActive    InstanceStatus = "ACTIVE"
	StatusCompleted InstanceStatus = "COMPLETED"
	StatusFailed    InstanceStatus = "FAILED"
)

// RedetectionStatus represents the lifecycle state of a redetection event.
type RedetectionStatus string

const (
	RedetectionActive    RedetectionStatus = "ACTIVE"
	RedetectionCompleted RedetectionStatus = "COMPLETED"
)

// Exit reasons assigned by the scanner rather than by a configured condition.
const (
	ExitSucceededByNextStage = "succeeded_by_next_stage"
	ExitDataExhausted        = "data_exhausted"
)

// Bar represents one day of OHLCV data for a ticker, annotated with
// pre-computed indicator values. Bars are immutable once produced.
type Bar struct {
	Ticker     string
	Date       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	Indicators map[string]float64
}

// Indicator returns a named indicator value from the bar annotation.
func (b Bar) Indicator(name string) (float64, bool) {
	v, ok := b.Indicators[name]
	return v, ok
}

// Spot is a near-miss echo day attached to an existing stage instance
// without opening a new stage.
type Spot struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// SpotFromBar snapshots a bar into a spot record.
func SpotFromBar(b Bar) Spot {
	return Spot{
		Date:   b.Date,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

// Reference exposes the minimal view of a prior detection that exit
// evaluation needs, regardless of which stage produced it.
type Reference interface {
	RefStartedAt() time.Time
	RefEntryClose() float64
	RefPeakPrice() float64
}
