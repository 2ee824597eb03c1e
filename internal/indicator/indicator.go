// Package indicator computes technical indicators over daily bar history.
// Everything is recomputed from scratch on every call; no incremental state
// is kept between runs.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"palisade/internal/domain"
)

// ErrInsufficientData marks an indicator that cannot be computed because the
// history is shorter than its period. Callers treat this as a normal skip,
// not a failure.
var ErrInsufficientData = errors.New("insufficient history")

// SMA returns the arithmetic mean of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("sma: period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("sma(%d): %w: have %d values", period, ErrInsufficientData, len(values))
	}

	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// EMA returns the exponential moving average of the values with smoothing
// factor 2/(period+1). The first EMA value is seeded with the SMA of the
// first period values, then the recurrence runs over the remainder.
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("ema: period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("ema(%d): %w: have %d values", period, ErrInsufficientData, len(values))
	}

	alpha := 2.0 / (float64(period) + 1.0)
	ema, err := SMA(values[:period], period)
	if err != nil {
		return 0, err
	}
	for _, v := range values[period:] {
		ema = v*alpha + ema*(1-alpha)
	}
	return ema, nil
}

// trueRanges computes the true range series. Bar 0 has no prior close and
// falls back to high-low.
func trueRanges(bars []domain.Bar) []float64 {
	trs := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prevClose := bars[i-1].Close
			if hc := math.Abs(b.High - prevClose); hc > tr {
				tr = hc
			}
			if lc := math.Abs(b.Low - prevClose); lc > tr {
				tr = lc
			}
		}
		trs[i] = tr
	}
	return trs
}

// ATR returns the mean of the last period true ranges. It needs period+1
// bars so the window never includes the degenerate bar-0 range.
func ATR(bars []domain.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr: period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("atr(%d): %w: have %d bars", period, ErrInsufficientData, len(bars))
	}
	return SMA(trueRanges(bars), period)
}

// HighestHigh returns the maximum high over the trailing period bars.
func HighestHigh(bars []domain.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("highest high: period must be positive, got %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("highest high(%d): %w: have %d bars", period, ErrInsufficientData, len(bars))
	}

	hh := math.Inf(-1)
	for _, b := range bars[len(bars)-period:] {
		if b.High > hh {
			hh = b.High
		}
	}
	return hh, nil
}

// ChandelierExit returns highestHigh(period) - multiplier*ATR(period), the
// trailing stop level for a long position. The ATR here runs over the same
// period as the high window, independent of any other ATR in use. A zero or
// negative ATR, or a non-finite result, yields an error so the caller skips
// the symbol instead of placing a stop at a nonsense level.
func ChandelierExit(bars []domain.Bar, period int, multiplier float64) (float64, error) {
	hh, err := HighestHigh(bars, period)
	if err != nil {
		return 0, err
	}
	atr, err := ATR(bars, period)
	if err != nil {
		return 0, err
	}
	if atr <= 0 {
		return 0, fmt.Errorf("chandelier(%d): degenerate atr %g", period, atr)
	}

	stop := hh - multiplier*atr
	if math.IsNaN(stop) || math.IsInf(stop, 0) {
		return 0, fmt.Errorf("chandelier(%d): non-finite result", period)
	}
	return stop, nil
}
