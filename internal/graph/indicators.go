package graph

import (
	"fmt"

	"surge-scanner/internal/models"
)

// IndicatorKind identifies a family of pre-computed indicators.
type IndicatorKind string

const (
	KindMA            IndicatorKind = "ma"
	KindVolumeMA      IndicatorKind = "volume_ma"
	KindDeviation     IndicatorKind = "deviation"
	KindROC           IndicatorKind = "roc"
	KindNewHighPrice  IndicatorKind = "new_high_price"
	KindNewHighVolume IndicatorKind = "new_high_volume"
	KindTradingValue  IndicatorKind = "trading_value"
)

var indicatorKinds = map[IndicatorKind]bool{
	KindMA:            true,
	KindVolumeMA:      true,
	KindDeviation:     true,
	KindROC:           true,
	KindNewHighPrice:  true,
	KindNewHighVolume: true,
	KindTradingValue:  true,
}

// KindFromString validates and converts an indicator kind name.
func KindFromString(s string) (IndicatorKind, bool) {
	k := IndicatorKind(s)
	return k, indicatorKinds[k]
}

// IndicatorKey is the typed lookup key for a bar-annotated indicator value.
// The canonical annotation name is derived from the key in exactly one place,
// so no caller ever builds indicator names from string fragments.
type IndicatorKey struct {
	Kind   IndicatorKind
	Period int
}

// Name returns the canonical bar-annotation name for the key.
func (k IndicatorKey) Name() string {
	if k.Period <= 0 {
		return string(k.Kind)
	}
	return fmt.Sprintf("%s_%d", k.Kind, k.Period)
}

// LookupIndicator resolves a typed key against a bar's annotations.
func LookupIndicator(b models.Bar, k IndicatorKey) (float64, bool) {
	return b.Indicator(k.Name())
}
