package engine

import (
	"time"

	"surge-scanner/internal/models"
)

// ReversalDirection is the direction of a reversal bar.
type ReversalDirection int

const (
	ReversalUp ReversalDirection = iota
	ReversalDown
)

// ReversalBar is one bar of the reversal chart. A new bar is appended when
// the close extends the current direction past the run's extreme, or when it
// breaks the extreme of the last N reversal bars, flipping direction.
type ReversalBar struct {
	Direction ReversalDirection
	Open      float64
	Close     float64
	Date      time.Time
	Index     int // index of the source bar in the scanned slice
}

// High returns the upper extreme of the reversal bar.
func (r ReversalBar) High() float64 {
	if r.Open > r.Close {
		return r.Open
	}
	return r.Close
}

// Low returns the lower extreme of the reversal bar.
func (r ReversalBar) Low() float64 {
	if r.Open < r.Close {
		return r.Open
	}
	return r.Close
}

// ReversalChart converts a bar sequence into reversal bars. The first bar's
// direction is up if close >= open; each later close either extends the
// current direction past the active extreme, or flips it by breaking past the
// extreme of the last `window` reversal bars. Closes doing neither are
// absorbed without producing a bar.
type ReversalChart struct {
	window int
	bars   []ReversalBar
}

// NewReversalChart builds the chart for a bar sequence.
func NewReversalChart(bars []models.Bar, window int) *ReversalChart {
	if window < 1 {
		window = 3
	}
	c := &ReversalChart{window: window}
	for i, b := range bars {
		c.apply(i, b)
	}
	return c
}

func (c *ReversalChart) apply(idx int, b models.Bar) {
	if len(c.bars) == 0 {
		dir := ReversalUp
		if b.Close < b.Open {
			dir = ReversalDown
		}
		c.bars = append(c.bars, ReversalBar{
			Direction: dir,
			Open:      b.Open,
			Close:     b.Close,
			Date:      b.Date,
			Index:     idx,
		})
		return
	}

	last := c.bars[len(c.bars)-1]
	switch last.Direction {
	case ReversalUp:
		if b.Close > last.High() {
			c.append(ReversalUp, last.High(), b.Close, b.Date, idx)
		} else if b.Close < c.windowLow() {
			c.append(ReversalDown, last.Low(), b.Close, b.Date, idx)
		}
	case ReversalDown:
		if b.Close < last.Low() {
			c.append(ReversalDown, last.Low(), b.Close, b.Date, idx)
		} else if b.Close > c.windowHigh() {
			c.append(ReversalUp, last.High(), b.Close, b.Date, idx)
		}
	}
}

func (c *ReversalChart) append(dir ReversalDirection, open, close float64, date time.Time, idx int) {
	c.bars = append(c.bars, ReversalBar{
		Direction: dir,
		Open:      open,
		Close:     close,
		Date:      date,
		Index:     idx,
	})
}

// windowLow is the lowest extreme of the last `window` reversal bars.
func (c *ReversalChart) windowLow() float64 {
	start := len(c.bars) - c.window
	if start < 0 {
		start = 0
	}
	low := c.bars[start].Low()
	for _, r := range c.bars[start+1:] {
		if r.Low() < low {
			low = r.Low()
		}
	}
	return low
}

// windowHigh is the highest extreme of the last `window` reversal bars.
func (c *ReversalChart) windowHigh() float64 {
	start := len(c.bars) - c.window
	if start < 0 {
		start = 0
	}
	high := c.bars[start].High()
	for _, r := range c.bars[start+1:] {
		if r.High() > high {
			high = r.High()
		}
	}
	return high
}

// Bars returns the reversal bars in order.
func (c *ReversalChart) Bars() []ReversalBar {
	return c.bars
}

// Reversals counts direction flips in the chart.
func (c *ReversalChart) Reversals() int {
	n := 0
	for i := 1; i < len(c.bars); i++ {
		if c.bars[i].Direction != c.bars[i-1].Direction {
			n++
		}
	}
	return n
}

// FirstDownReversalOnOrAfter returns the date of the first up-to-down flip
// whose bar date is on or after the given date.
func (c *ReversalChart) FirstDownReversalOnOrAfter(date time.Time) (time.Time, bool) {
	for i := 1; i < len(c.bars); i++ {
		r := c.bars[i]
		if r.Direction == ReversalDown && c.bars[i-1].Direction == ReversalUp && !r.Date.Before(date) {
			return r.Date, true
		}
	}
	return time.Time{}, false
}
