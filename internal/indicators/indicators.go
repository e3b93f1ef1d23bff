// Package indicators computes the bar annotations the detection engine
// consumes. Feeds usually arrive pre-annotated; this package covers raw OHLCV
// feeds by deriving the same canonical annotation names.
package indicators

import (
	"errors"
	"math"

	"surge-scanner/internal/graph"
	"surge-scanner/internal/models"
)

var (
	ErrInvalidPeriod    = errors.New("invalid indicator period")
	ErrInsufficientData = errors.New("insufficient data for indicator")
)

// Annotator computes one indicator series over a bar sequence. Positions the
// indicator is undefined for carry NaN and are skipped when annotating.
type Annotator interface {
	Key() graph.IndicatorKey
	Calculate(bars []models.Bar) ([]float64, error)
}

// SMA is the simple moving average of closes.
type SMA struct {
	period int
}

// NewSMA creates a simple moving average annotator.
func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Key() graph.IndicatorKey {
	return graph.IndicatorKey{Kind: graph.KindMA, Period: s.period}
}

func (s *SMA) Calculate(bars []models.Bar) ([]float64, error) {
	if s.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	result := undefined(len(bars))
	if len(bars) < s.period {
		return result, nil
	}

	sum := 0.0
	for i, b := range bars {
		sum += b.Close
		if i >= s.period {
			sum -= bars[i-s.period].Close
		}
		if i >= s.period-1 {
			result[i] = sum / float64(s.period)
		}
	}
	return result, nil
}

// VolumeMA is the simple moving average of volumes.
type VolumeMA struct {
	period int
}

// NewVolumeMA creates a volume moving average annotator.
func NewVolumeMA(period int) *VolumeMA {
	return &VolumeMA{period: period}
}

func (v *VolumeMA) Key() graph.IndicatorKey {
	return graph.IndicatorKey{Kind: graph.KindVolumeMA, Period: v.period}
}

func (v *VolumeMA) Calculate(bars []models.Bar) ([]float64, error) {
	if v.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	result := undefined(len(bars))
	if len(bars) < v.period {
		return result, nil
	}

	sum := 0.0
	for i, b := range bars {
		sum += float64(b.Volume)
		if i >= v.period {
			sum -= float64(bars[i-v.period].Volume)
		}
		if i >= v.period-1 {
			result[i] = sum / float64(v.period)
		}
	}
	return result, nil
}

// Deviation is the ratio of the close to its moving average. A value above 1
// means the close trades above trend.
type Deviation struct {
	period int
}

// NewDeviation creates a deviation annotator.
func NewDeviation(period int) *Deviation {
	return &Deviation{period: period}
}

func (d *Deviation) Key() graph.IndicatorKey {
	return graph.IndicatorKey{Kind: graph.KindDeviation, Period: d.period}
}

func (d *Deviation) Calculate(bars []models.Bar) ([]float64, error) {
	ma, err := NewSMA(d.period).Calculate(bars)
	if err != nil {
		return nil, err
	}
	result := undefined(len(bars))
	for i, m := range ma {
		if !math.IsNaN(m) && m != 0 {
			result[i] = bars[i].Close / m
		}
	}
	return result, nil
}

// ROC is the rate of change of the close over a period.
type ROC struct {
	period int
}

// NewROC creates a rate-of-change annotator.
func NewROC(period int) *ROC {
	return &ROC{period: period}
}

func (r *ROC) Key() graph.IndicatorKey {
	return graph.IndicatorKey{Kind: graph.KindROC, Period: r.period}
}

func (r *ROC) Calculate(bars []models.Bar) ([]float64, error) {
	if r.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	result := undefined(len(bars))
	for i := r.period; i < len(bars); i++ {
		prev := bars[i-r.period].Close
		if prev != 0 {
			result[i] = (bars[i].Close - prev) / prev
		}
	}
	return result, nil
}

// NewHighPrice flags days whose high exceeds every high of the preceding
// period. The value is 1 on a new high, 0 otherwise.
type NewHighPrice struct {
	period int
}

// NewNewHighPrice creates a price new-high annotator.
func NewNewHighPrice(period int) *NewHighPrice {
	return &NewHighPrice{period: period}
}

func (n *NewHighPrice) Key() graph.IndicatorKey {
	return graph.IndicatorKey{Kind: graph.KindNewHighPrice, Period: n.period}
}

func (n *NewHighPrice) Calculate(bars []models.Bar) ([]float64, error) {
	if n.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	result := undefined(len(bars))
	for i := 1; i < len(bars); i++ {
		start := i - n.period
		if start < 0 {
			start = 0
		}
		max := bars[start].High
		for _, b := range bars[start+1 : i] {
			if b.High > max {
				max = b.High
			}
		}
		result[i] = 0
		if bars[i].High > max {
			result[i] = 1
		}
	}
	return result, nil
}

// NewHighVolume flags days whose volume exceeds every volume of the preceding
// period.
type NewHighVolume struct {
	period int
}

// NewNewHighVolume creates a volume new-high annotator.
func NewNewHighVolume(period int) *NewHighVolume {
	return &NewHighVolume{period: period}
}

func (n *NewHighVolume) Key() graph.IndicatorKey {
	return graph.IndicatorKey{Kind: graph.KindNewHighVolume, Period: n.period}
}

func (n *NewHighVolume) Calculate(bars []models.Bar) ([]float64, error) {
	if n.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	result := undefined(len(bars))
	for i := 1; i < len(bars); i++ {
		start := i - n.period
		if start < 0 {
			start = 0
		}
		max := bars[start].Volume
		for _, b := range bars[start+1 : i] {
			if b.Volume > max {
				max = b.Volume
			}
		}
		result[i] = 0
		if bars[i].Volume > max {
			result[i] = 1
		}
	}
	return result, nil
}

// TradingValue is the close multiplied by the volume.
type TradingValue struct{}

// NewTradingValue creates a trading-value annotator.
func NewTradingValue() *TradingValue {
	return &TradingValue{}
}

func (t *TradingValue) Key() graph.IndicatorKey {
	return graph.IndicatorKey{Kind: graph.KindTradingValue}
}

func (t *TradingValue) Calculate(bars []models.Bar) ([]float64, error) {
	result := make([]float64, len(bars))
	for i, b := range bars {
		result[i] = b.Close * float64(b.Volume)
	}
	return result, nil
}

// Annotate runs every annotator over the bars and merges the values into the
// bars' annotation maps under the canonical names. Annotations already present
// on a bar are kept; NaN positions are skipped.
func Annotate(bars []models.Bar, annotators ...Annotator) error {
	for _, a := range annotators {
		values, err := a.Calculate(bars)
		if err != nil {
			return err
		}
		name := a.Key().Name()
		for i, v := range values {
			if math.IsNaN(v) {
				continue
			}
			if bars[i].Indicators == nil {
				bars[i].Indicators = make(map[string]float64)
			}
			if _, ok := bars[i].Indicators[name]; !ok {
				bars[i].Indicators[name] = v
			}
		}
	}
	return nil
}

// ForLegacyGraph returns the annotator set covering every indicator the
// fixed-stage chain's conditions reference.
func ForLegacyGraph(p graph.LegacyParams) []Annotator {
	return []Annotator{
		NewSMA(p.TrendMAPeriod),
		NewSMA(p.ExitMAPeriod),
		NewDeviation(p.TrendMAPeriod),
		NewROC(1),
		NewNewHighPrice(p.NewHighDays),
		NewNewHighVolume(p.NewHighDays),
	}
}

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
