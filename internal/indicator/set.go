package indicator

import (
	"github.com/moznion/go-optional"

	"palisade/internal/domain"
)

// Params holds the periods for one full indicator evaluation.
type Params struct {
	SMAPeriod            int
	EMAPeriod            int
	ATRPeriod            int
	ChandelierPeriod     int
	ChandelierMultiplier float64
}

// Set carries the indicator values for one symbol as of its latest bar. None
// means undefined: the history was too short or an input was degenerate.
type Set struct {
	SMA        optional.Option[float64]
	EMA        optional.Option[float64]
	ATR        optional.Option[float64]
	Chandelier optional.Option[float64]
}

// Compute evaluates the full indicator set over the bar history. Indicators
// that cannot be computed come back None; Compute itself never fails.
func Compute(bars []domain.Bar, p Params) Set {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	var set Set
	if v, err := SMA(closes, p.SMAPeriod); err == nil {
		set.SMA = optional.Some(v)
	}
	if v, err := EMA(closes, p.EMAPeriod); err == nil {
		set.EMA = optional.Some(v)
	}
	if v, err := ATR(bars, p.ATRPeriod); err == nil {
		set.ATR = optional.Some(v)
	}
	if v, err := ChandelierExit(bars, p.ChandelierPeriod, p.ChandelierMultiplier); err == nil {
		set.Chandelier = optional.Some(v)
	}
	return set
}

// Lows extracts the low series from the bars, oldest first.
func Lows(bars []domain.Bar) []float64 {
	lows := make([]float64, len(bars))
	for i, b := range bars {
		lows[i] = b.Low
	}
	return lows
}
